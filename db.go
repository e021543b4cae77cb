package abusenet

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// StorageDir holds SQLite databases.
const StorageDir = "storage"

const initSQL = `CREATE TABLE IF NOT EXISTS ban (
	addr VARCHAR(39) NOT NULL,
	name VARCHAR(255) NOT NULL
);
CREATE TABLE IF NOT EXISTS journal (
	session VARCHAR(36) NOT NULL,
	role VARCHAR(16) NOT NULL,
	event VARCHAR(16) NOT NULL,
	client INTEGER NOT NULL,
	detail VARCHAR(255) NOT NULL,
	at BIGINT NOT NULL
);
`

// DB is the ban list and session journal store.
type DB struct {
	*sql.DB
	driver string
}

// OpenStore opens the database cfg names. It returns nil, nil if storage
// is disabled.
func OpenStore(cfg StorageConfig) (*DB, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite3":
		name := cfg.Name
		if name == "" {
			name = "abusenet.sqlite"
		}

		os.Mkdir(StorageDir, 0777)
		return OpenSQLite3(filepath.Join(StorageDir, name))
	case "postgres":
		return OpenPSQL(cfg.Host, cfg.Name, cfg.User, cfg.Password, cfg.Port)
	}

	return nil, fmt.Errorf("%w: unknown storage driver %q", ErrBadConfig, cfg.Driver)
}

// OpenSQLite3 opens and returns a SQLite3 database
func OpenSQLite3(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db, driver: "sqlite3"}, nil
}

// OpenPSQL opens and returns a PostgreSQL database
func OpenPSQL(host, name, user, password string, port uint16) (*DB, error) {
	psqlconn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, name)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db, driver: "postgres"}, nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) exec(query string, args ...interface{}) error {
	_, err := db.DB.Exec(db.rebind(query), args...)
	return err
}
