package logging

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore records lifecycle events to a sqlite database so proxy
// activity can be queried after the fact.
type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// Event is one recorded lifecycle event.
type Event struct {
	RequestID int64
	At        time.Time
	Kind      string
	Detail    string
}

// NewSQLiteStore opens (or creates) the event database at filename.
// An empty filename opens an in-memory database.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS events (
		request_id INTEGER,
		at INTEGER,
		kind TEXT,
		detail TEXT
	)`)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS request_idx ON events (request_id)")
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Record appends one event row.
func (s *SQLiteStore) Record(requestID int64, kind, detail string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO events (request_id, at, kind, detail) VALUES (?, ?, ?, ?)",
		requestID, time.Now().Unix(), kind, detail,
	)
	return err
}

// Events returns all recorded events for a request ID, in insertion order.
func (s *SQLiteStore) Events(requestID int64) ([]Event, error) {
	rows, err := s.db.Query(
		"SELECT request_id, at, kind, detail FROM events WHERE request_id = ? ORDER BY rowid",
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.RequestID, &at, &e.Kind, &e.Detail); err != nil {
			return events, err
		}
		e.At = time.Unix(at, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
