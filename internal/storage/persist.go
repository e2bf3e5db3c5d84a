package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	// Register the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

const snapshotSchema = `
	CREATE TABLE IF NOT EXISTS attributes (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// Snapshot persists the attribute store to a sqlite file so a restart can
// warm-start from the last known state. The snapshot is advisory: every
// value in it can be re-fetched from the cloud, so load failures are
// tolerated and save failures are logged, not raised.
type Snapshot struct {
	db     *sql.DB
	logger Logger
}

// OpenSnapshot opens (creating if needed) the snapshot database.
//
// Parameters:
//   - path: sqlite file path, or ":memory:" for tests
//
// Returns:
//   - *Snapshot: Ready snapshot store
//   - error: If the file cannot be opened or the schema created
func OpenSnapshot(path string) (*Snapshot, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot schema: %w", err)
	}
	return &Snapshot{db: db, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the snapshot.
func (p *Snapshot) SetLogger(logger Logger) {
	p.logger = logger
}

// Load reads every persisted pair into the store without firing callbacks.
// Rows that fail to decode are skipped; a snapshot that cannot be read at
// all is reported but the caller should treat it as a cold start.
func (p *Snapshot) Load(s *Store) error {
	rows, err := p.db.Query(`SELECT key, value FROM attributes`)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	defer rows.Close()

	values := make(map[string]any)
	skipped := 0
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			skipped++
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			skipped++
			continue
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	s.load(values)
	if skipped > 0 {
		p.logger.Warn("skipped corrupt snapshot rows", "count", skipped)
	}
	p.logger.Debug("snapshot loaded", "keys", len(values))
	return nil
}

// Save writes the current store contents, replacing the previous snapshot
// inside one transaction. Values that fail to encode are skipped.
func (p *Snapshot) Save(s *Store) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("starting snapshot save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(`DELETE FROM attributes`); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO attributes (key, value) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing snapshot insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range s.all() {
		raw, err := json.Marshal(value)
		if err != nil {
			p.logger.Warn("skipping unencodable attribute", "key", key, "error", err)
			continue
		}
		if _, err := stmt.Exec(key, string(raw)); err != nil {
			return fmt.Errorf("writing snapshot row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Close closes the snapshot database.
func (p *Snapshot) Close() error {
	return p.db.Close()
}
