package abusenet

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidAddress = errors.New("invalid ip address format")
	ErrAlreadyBanned  = errors.New("already banned")
)

// IsBanned reports whether addr, an IP address without port, is banned
// and under which name.
func (db *DB) IsBanned(addr string) (bool, string, error) {
	var name string
	err := db.QueryRow(db.rebind(`SELECT name FROM ban WHERE addr = ?;`), addr).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	return true, name, nil
}

// Ban adds addr to the ban list.
func (db *DB) Ban(addr, name string) error {
	if net.ParseIP(addr) == nil {
		return ErrInvalidAddress
	}

	banned, _, err := db.IsBanned(addr)
	if err != nil {
		return err
	}
	if banned {
		return fmt.Errorf("ip address %s: %w", addr, ErrAlreadyBanned)
	}

	if name == "" {
		name = "not known"
	}

	return db.exec(`INSERT INTO ban (
		addr,
		name
	) VALUES (
		?,
		?
	);`, addr, name)
}

// Unban removes every entry matching a name or an address.
func (db *DB) Unban(nameOrAddr string) error {
	return db.exec(`DELETE FROM ban WHERE name = ? OR addr = ?;`, nameOrAddr, nameOrAddr)
}

// BanList returns the banned addresses and the names they were banned as.
func (db *DB) BanList() (map[string]string, error) {
	rows, err := db.Query(`SELECT addr, name FROM ban;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r := make(map[string]string)
	for rows.Next() {
		var addr, name string
		if err := rows.Scan(&addr, &name); err != nil {
			return nil, err
		}

		r[addr] = name
	}

	return r, rows.Err()
}
