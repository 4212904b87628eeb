package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// The token and the profile live under separate keys but are always written
// and cleared together inside one transaction; a session is never half
// persisted.
const (
	keyToken = "lmsToken"
	keyUser  = "lmsUser"
)

// SQLiteStore persists the session in a small SQLite database so it survives
// process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the session database at dbPath and applies
// schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS client_state (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return err
	}
	return tx.Commit()
}

// Save writes the token and profile as a unit. Saving over an existing
// session replaces it.
func (s *SQLiteStore) Save(sess *Session) error {
	if !sess.Complete() {
		return fmt.Errorf("refusing to save incomplete session")
	}
	profile, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO client_state (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	if _, err := tx.Exec(upsert, keyToken, sess.Token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if _, err := tx.Exec(upsert, keyUser, string(profile)); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return tx.Commit()
}

// Load reads the persisted session. A missing or partial record (token
// without profile, or an unreadable profile) loads as absent.
func (s *SQLiteStore) Load() (*Session, error) {
	rows, err := s.db.Query(`SELECT key, value FROM client_state WHERE key IN (?, ?);`, keyToken, keyUser)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	defer rows.Close()

	var token, profile string
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		switch k {
		case keyToken:
			token = v
		case keyUser:
			profile = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if token == "" || profile == "" {
		return nil, nil
	}

	var user User
	if err := json.Unmarshal([]byte(profile), &user); err != nil {
		return nil, nil
	}

	sess := &Session{Token: token, User: user}
	if !sess.Complete() {
		return nil, nil
	}
	return sess, nil
}

// Clear wipes the session. Clearing an already-empty store is a no-op.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM client_state WHERE key IN (?, ?);`, keyToken, keyUser); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
