package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/levenlabs/go-lflag"
	"github.com/utilitycost/utilitycost/pkg/types"
	_ "modernc.org/sqlite" // register sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS counters (
	device_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value REAL NOT NULL,
	PRIMARY KEY (device_id, key)
);
CREATE TABLE IF NOT EXISTS state (
	device_id TEXT PRIMARY KEY,
	json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	device_id TEXT PRIMARY KEY,
	json TEXT NOT NULL,
	version INTEGER NOT NULL
);
`

// SQLiteStore implements the Store interface using a local SQLite database.
// It is the default for single-device deployments with no cloud dependency.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// configuredSQLite sets up the SQLite store.
// It registers flags for configuration.
func configuredSQLite() *SQLiteStore {
	path := lflag.String("sqlite-path", "utilitycost.db", "Path to the SQLite database file")

	s := &SQLiteStore{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// OpenSQLite opens or creates the database at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	s := &SQLiteStore{path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database and creates the schema.
// This must be called before using the store methods.
func (s *SQLiteStore) Init() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", s.path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetValue retrieves a single counter value.
func (s *SQLiteStore) GetValue(ctx context.Context, deviceID, key string) (float64, bool, error) {
	var v float64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM counters WHERE device_id = ? AND key = ?", deviceID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to fetch counter %s: %w", key, err)
	}
	return v, true, nil
}

// SetValue stores a single counter value.
func (s *SQLiteStore) SetValue(ctx context.Context, deviceID, key string, value float64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO counters (device_id, key, value)
		VALUES (?, ?, ?)`, deviceID, key, value)
	if err != nil {
		return fmt.Errorf("failed to save counter %s: %w", key, err)
	}
	return nil
}

// GetValues retrieves all counter values for a device.
func (s *SQLiteStore) GetValues(ctx context.Context, deviceID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM counters WHERE device_id = ?", deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	values := map[string]float64{}
	for rows.Next() {
		var key string
		var v float64
		if err := rows.Scan(&key, &v); err != nil {
			return nil, fmt.Errorf("failed to scan counter row: %w", err)
		}
		values[key] = v
	}
	return values, rows.Err()
}

// GetState retrieves the tracker state for a device.
func (s *SQLiteStore) GetState(ctx context.Context, deviceID string) (types.StoreState, error) {
	var jsonStr string
	err := s.db.QueryRowContext(ctx, "SELECT json FROM state WHERE device_id = ?", deviceID).Scan(&jsonStr)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StoreState{}, nil
	}
	if err != nil {
		return types.StoreState{}, fmt.Errorf("failed to fetch state: %w", err)
	}

	var st types.StoreState
	if err := json.Unmarshal([]byte(jsonStr), &st); err != nil {
		return types.StoreState{}, fmt.Errorf("failed to unmarshal state json: %w", err)
	}
	return st, nil
}

// SetState saves the tracker state for a device.
func (s *SQLiteStore) SetState(ctx context.Context, deviceID string, state types.StoreState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO state (device_id, json)
		VALUES (?, ?)`, deviceID, string(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// GetSettings retrieves the tariff configuration for a device.
func (s *SQLiteStore) GetSettings(ctx context.Context, deviceID string) (types.Settings, int, error) {
	var jsonStr string
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT json, version FROM settings WHERE device_id = ?", deviceID).Scan(&jsonStr, &version)
	if errors.Is(err, sql.ErrNoRows) {
		// Return default settings if not found
		return types.Settings{}, 0, nil
	}
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings: %w", err)
	}

	var st types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &st); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return st, version, nil
}

// SetSettings saves the tariff configuration for a device.
func (s *SQLiteStore) SetSettings(ctx context.Context, deviceID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (device_id, json, version)
		VALUES (?, ?, ?)`, deviceID, string(jsonBytes), version)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
