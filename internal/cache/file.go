package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/config"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileStore keeps one JSON array per key under a directory. The file mtime
// is the snapshot timestamp and its nanosecond value the version. A write
// never reuses the previous version: on filesystems with coarse timestamps
// the mtime is pushed past the old one. Compare-and-swap is enforced within
// the process only.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, "podcast-"+unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

func (s *FileStore) Load(_ context.Context, key string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(key)
}

func (s *FileStore) load(key string) (Snapshot, error) {
	path := s.Path(key)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("cache: stat %s: %w", key, err)
	}
	snap := Snapshot{
		UpdatedAt: info.ModTime(),
		Version:   info.ModTime().UnixNano(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if err := json.Unmarshal(data, &snap.Episodes); err != nil {
		return snap, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if snap.Episodes == nil {
		snap.Episodes = []model.Episode{}
	}
	return snap, nil
}

func (s *FileStore) Save(_ context.Context, key string, episodes []model.Episode, expectVersion int64) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(key)
	switch {
	case errors.Is(err, ErrNotFound):
		current.Version = 0
	case err != nil && !errors.Is(err, ErrCorrupt):
		return Snapshot{}, err
	}
	if current.Version != expectVersion {
		return Snapshot{}, ErrConflict
	}

	if episodes == nil {
		episodes = []model.Episode{}
	}
	data, err := json.MarshalIndent(episodes, "", "  ")
	if err != nil {
		return Snapshot{}, fmt.Errorf("cache: encode %s: %w", key, err)
	}

	path := s.Path(key)
	if err := config.WriteFileAtomic(path, data, 0o644); err != nil {
		return Snapshot{}, fmt.Errorf("cache: write %s: %w", key, err)
	}

	mtime, err := s.advanceMtime(path, current.Version)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cache: timestamp %s: %w", key, err)
	}
	return Snapshot{
		Episodes:  episodes,
		UpdatedAt: mtime,
		Version:   mtime.UnixNano(),
	}, nil
}

// advanceMtime returns the mtime of a freshly written file, moving it forward
// when it does not exceed the previous version.
func (s *FileStore) advanceMtime(path string, previous int64) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	mtime := info.ModTime()
	if previous == 0 || mtime.UnixNano() > previous {
		return mtime, nil
	}

	// Whole seconds survive every timestamp granularity in use.
	bumped := time.Unix(0, previous).Truncate(time.Second).Add(time.Second)
	if err := os.Chtimes(path, bumped, bumped); err != nil {
		return time.Time{}, err
	}
	if info, err = os.Stat(path); err != nil {
		return time.Time{}, err
	}
	if info.ModTime().UnixNano() <= previous {
		return time.Time{}, fmt.Errorf("mtime did not advance past %d", previous)
	}
	return info.ModTime(), nil
}

func (s *FileStore) Close() error { return nil }
