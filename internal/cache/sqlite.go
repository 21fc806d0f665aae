package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

const schema = `CREATE TABLE IF NOT EXISTS podcast_cache (
	key        TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
)`

// SQLiteStore keeps every key in one table. The version column makes
// compare-and-swap hold across processes sharing the database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (Snapshot, error) {
	var (
		snap    Snapshot
		updated int64
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, updated_at, payload FROM podcast_cache WHERE key = ?`, key,
	).Scan(&snap.Version, &updated, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("cache: load %s: %w", key, err)
	}
	snap.UpdatedAt = time.Unix(0, updated)

	if err := json.Unmarshal([]byte(payload), &snap.Episodes); err != nil {
		return snap, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if snap.Episodes == nil {
		snap.Episodes = []model.Episode{}
	}
	return snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, episodes []model.Episode, expectVersion int64) (Snapshot, error) {
	if episodes == nil {
		episodes = []model.Episode{}
	}
	payload, err := json.Marshal(episodes)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cache: encode %s: %w", key, err)
	}

	now := s.now()
	next := expectVersion + 1

	var res sql.Result
	if expectVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO podcast_cache (key, version, updated_at, payload) VALUES (?, ?, ?, ?)
			 ON CONFLICT(key) DO NOTHING`,
			key, next, now.UnixNano(), string(payload))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE podcast_cache SET version = ?, updated_at = ?, payload = ?
			 WHERE key = ? AND version = ?`,
			next, now.UnixNano(), string(payload), key, expectVersion)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("cache: save %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Snapshot{}, fmt.Errorf("cache: save %s: %w", key, err)
	}
	if n == 0 {
		return Snapshot{}, ErrConflict
	}

	return Snapshot{Episodes: episodes, UpdatedAt: now, Version: next}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
