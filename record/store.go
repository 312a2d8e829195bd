// Package record persists walk snapshots for offline analysis: a
// sqlite-backed store plus a sampler that records asynchronous walks of
// running threads on a fixed interval.
package record

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chazu/loom/snapshot"
)

// ErrWalkNotFound indicates the requested walk is not in the store.
var ErrWalkNotFound = errors.New("walk not found")

// WalkInfo summarizes one stored walk.
type WalkInfo struct {
	WalkID     string
	Arch       string
	CapturedAt time.Time
	ValidRegs  int
}

// Store holds walk snapshots in a sqlite database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens (creating if needed) a snapshot store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("record: opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("record: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS walks (
		walk_id     TEXT PRIMARY KEY,
		arch        TEXT NOT NULL,
		captured_at TIMESTAMP NOT NULL,
		valid_regs  INTEGER NOT NULL,
		data        BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("record: creating table: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Put stores one snapshot, replacing any prior record of the same walk ID.
func (s *Store) Put(snap *snapshot.Snapshot) error {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return fmt.Errorf("record: encoding walk %s: %w", snap.WalkID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO walks (walk_id, arch, captured_at, valid_regs, data)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.WalkID, snap.Arch, snap.CapturedAt, len(snap.ValidEntries()), data,
	)
	if err != nil {
		return fmt.Errorf("record: storing walk %s: %w", snap.WalkID, err)
	}
	return nil
}

// Get retrieves one walk snapshot by ID.
func (s *Store) Get(walkID string) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow(`SELECT data FROM walks WHERE walk_id = ?`, walkID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record: %w: %s", ErrWalkNotFound, walkID)
	}
	if err != nil {
		return nil, fmt.Errorf("record: loading walk %s: %w", walkID, err)
	}
	return snapshot.Unmarshal(data)
}

// List returns summaries of the most recent walks, newest first. limit <= 0
// means no limit.
func (s *Store) List(limit int) ([]WalkInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := `SELECT walk_id, arch, captured_at, valid_regs FROM walks ORDER BY captured_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("record: listing walks: %w", err)
	}
	defer rows.Close()

	var out []WalkInfo
	for rows.Next() {
		var w WalkInfo
		if err := rows.Scan(&w.WalkID, &w.Arch, &w.CapturedAt, &w.ValidRegs); err != nil {
			return nil, fmt.Errorf("record: scanning walk row: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: listing walks: %w", err)
	}
	return out, nil
}

// Delete removes one stored walk. Deleting an absent walk is not an error.
func (s *Store) Delete(walkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM walks WHERE walk_id = ?`, walkID); err != nil {
		return fmt.Errorf("record: deleting walk %s: %w", walkID, err)
	}
	return nil
}
