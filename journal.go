package abusenet

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// Journal records the events of one session.
type Journal struct {
	db      *DB
	session uuid.UUID
	role    string
}

// Entry is one journal row.
type Entry struct {
	Session uuid.UUID
	Role    string
	Event   string
	Client  int
	Detail  string
	At      time.Time
}

// NewJournal starts the journal of a new session played as role.
func (db *DB) NewJournal(role string) *Journal {
	return &Journal{db: db, session: uuid.New(), role: role}
}

func (j *Journal) Session() uuid.UUID { return j.session }

// Record appends an event. Failures are only logged.
func (j *Journal) Record(event string, client int, detail string) {
	if len(detail) > 255 {
		detail = detail[:255]
	}

	err := j.db.exec(`INSERT INTO journal (
		session,
		role,
		event,
		client,
		detail,
		at
	) VALUES (
		?,
		?,
		?,
		?,
		?,
		?
	);`, j.session.String(), j.role, event, client, detail, time.Now().UnixNano())
	if err != nil {
		log.Print("can't write journal: ", err)
	}
}

// Entries returns the events of session in the order they were recorded.
func (db *DB) Entries(session uuid.UUID) ([]Entry, error) {
	rows, err := db.Query(db.rebind(`SELECT role, event, client, detail, at FROM journal WHERE session = ? ORDER BY at;`), session.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var r []Entry
	for rows.Next() {
		e := Entry{Session: session}
		var at int64
		if err := rows.Scan(&e.Role, &e.Event, &e.Client, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, at)

		r = append(r, e)
	}

	return r, rows.Err()
}
