package podcast

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/cache"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/config"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Rencontres Mollat</title>
  <item>
    <title>Rencontre avec une autrice</title>
    <guid>ep-1</guid>
    <pubDate>Thu, 15 May 2025 18:00:00 +0200</pubDate>
    <description>Une soirée</description>
    <enclosure url="https://cdn.example.com/ep1.mp3" type="audio/mpeg" length="1"/>
  </item>
  <item>
    <title>Rencontre avec une autrice</title>
    <guid>ep-1</guid>
    <description>Doublon corrigé</description>
    <enclosure url="https://cdn.example.com/ep1.mp3" type="audio/mpeg" length="1"/>
  </item>
</channel>
</rss>`

type stubFetcher struct {
	calls atomic.Int32
	body  string
	err   error
	gate  chan struct{}
}

func (f *stubFetcher) Get(ctx context.Context, _ string) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

var sources = []config.PodcastSource{{ID: "mollat2", Name: "Mollat", URL: "https://example.com/rss"}}

func TestGet_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	written := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	if _, err := store.Save(ctx, "mollat2", []model.Episode{{GUID: "old", Title: "Ancien", AudioURL: "https://cdn.example.com/old.mp3"}}, 0); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(store.Path("mollat2"), written, written); err != nil {
		t.Fatal(err)
	}

	now := written
	fetch := &stubFetcher{body: sampleRSS}
	svc := NewService(fetch, store, sources, Options{
		ProxyPath: "/api/proxy-audio",
		Now:       func() time.Time { return now },
	})

	now = written.Add(5*time.Hour + 59*time.Minute)
	res, err := svc.Get(ctx, "mollat2")
	if err != nil {
		t.Fatalf("Get at T+5h59m: %v", err)
	}
	if !res.Cached || fetch.calls.Load() != 0 {
		t.Fatalf("T+5h59m should be served from cache: cached=%v calls=%d", res.Cached, fetch.calls.Load())
	}
	if len(res.Episodes) != 1 || res.Episodes[0].GUID != "old" {
		t.Fatalf("cached episodes: %+v", res.Episodes)
	}
	if got := res.Episodes[0].AudioURL; got != "/api/proxy-audio?url=https%3A%2F%2Fcdn.example.com%2Fold.mp3" {
		t.Errorf("cached audio not proxied: %q", got)
	}

	now = written.Add(6*time.Hour + time.Minute)
	res, err = svc.Get(ctx, "mollat2")
	if err != nil {
		t.Fatalf("Get at T+6h01m: %v", err)
	}
	if res.Cached || fetch.calls.Load() != 1 {
		t.Fatalf("T+6h01m should regenerate: cached=%v calls=%d", res.Cached, fetch.calls.Load())
	}
	if len(res.Episodes) != 1 || res.Episodes[0].Description != "Doublon corrigé" {
		t.Errorf("regenerated episodes: %+v", res.Episodes)
	}
	if strings.Count(res.Episodes[0].AudioURL, "/api/proxy-audio") != 1 {
		t.Errorf("audio proxied more than once: %q", res.Episodes[0].AudioURL)
	}
}

func TestGet_MissAndFailure(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("upstream down")
	svc := NewService(&stubFetcher{err: boom}, store, sources, Options{})

	if _, err := svc.Get(ctx, "mollat2"); !errors.Is(err, boom) {
		t.Errorf("got %v, want upstream error", err)
	}
	if _, err := store.Load(ctx, "mollat2"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("failed refresh must not write the cache: %v", err)
	}
	if _, err := svc.Get(ctx, "nope"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("got %v, want ErrUnknownSource", err)
	}
}

func TestRefresh_ForcesRegeneration(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fetch := &stubFetcher{body: sampleRSS}
	svc := NewService(fetch, store, sources, Options{})

	if _, err := svc.Get(ctx, "mollat2"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "mollat2"); err != nil {
		t.Fatal(err)
	}
	if fetch.calls.Load() != 1 {
		t.Fatalf("second Get should hit the cache, calls=%d", fetch.calls.Load())
	}

	time.Sleep(2 * time.Millisecond)
	if _, err := svc.Refresh(ctx, "mollat2"); err != nil {
		t.Fatal(err)
	}
	if fetch.calls.Load() != 2 {
		t.Errorf("Refresh should refetch, calls=%d", fetch.calls.Load())
	}
}

func TestGet_ConcurrentMissesShareOneFetch(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fetch := &stubFetcher{body: sampleRSS, gate: make(chan struct{})}
	svc := NewService(fetch, store, sources, Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Get(ctx, "mollat2")
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(fetch.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Get: %v", err)
		}
	}
	if n := fetch.calls.Load(); n != 1 {
		t.Errorf("fetches=%d, want 1", n)
	}
}

func TestGet_CanceledCallerDoesNotFailSharedRegeneration(t *testing.T) {
	store, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fetch := &stubFetcher{body: sampleRSS, gate: make(chan struct{})}
	svc := NewService(fetch, store, sources, Options{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Get(firstCtx, "mollat2")
		firstErr <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fetch.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first fetch never started")
		}
		time.Sleep(time.Millisecond)
	}

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := svc.Get(context.Background(), "mollat2")
		second <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("first caller: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first caller kept waiting after cancel")
	}

	close(fetch.gate)
	got := <-second
	if got.err != nil {
		t.Fatalf("second caller: %v", got.err)
	}
	if len(got.res.Episodes) != 1 {
		t.Errorf("second caller episodes: %+v", got.res.Episodes)
	}
	if n := fetch.calls.Load(); n != 1 {
		t.Errorf("fetches=%d, want 1", n)
	}
	if _, err := store.Load(context.Background(), "mollat2"); err != nil {
		t.Errorf("cache not written: %v", err)
	}
}

func TestGet_CorruptRegenerates(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path("mollat2"), []byte("[{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	fetch := &stubFetcher{body: sampleRSS}
	svc := NewService(fetch, store, sources, Options{})

	res, err := svc.Get(ctx, "mollat2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Cached || fetch.calls.Load() != 1 {
		t.Errorf("unreadable entry must regenerate: cached=%v calls=%d", res.Cached, fetch.calls.Load())
	}
	if len(res.Episodes) != 1 {
		t.Errorf("episodes: %+v", res.Episodes)
	}

	snap, err := store.Load(ctx, "mollat2")
	if err != nil {
		t.Fatalf("entry still unreadable: %v", err)
	}
	if len(snap.Episodes) != 1 || snap.Episodes[0].GUID != "ep-1" {
		t.Errorf("repaired entry: %+v", snap.Episodes)
	}
}

// conflictStore always loses the write and reports another writer's snapshot.
type conflictStore struct {
	winner cache.Snapshot
}

func (s *conflictStore) Load(context.Context, string) (cache.Snapshot, error) {
	if s.winner.Version == 0 {
		return cache.Snapshot{}, cache.ErrNotFound
	}
	return s.winner, nil
}

func (s *conflictStore) Save(context.Context, string, []model.Episode, int64) (cache.Snapshot, error) {
	s.winner = cache.Snapshot{
		Episodes:  []model.Episode{{GUID: "winner", AudioURL: "https://cdn.example.com/w.mp3"}},
		UpdatedAt: time.Now(),
		Version:   7,
	}
	return cache.Snapshot{}, cache.ErrConflict
}

func (s *conflictStore) Close() error { return nil }

func TestGet_ConflictServesWinner(t *testing.T) {
	svc := NewService(&stubFetcher{body: sampleRSS}, &conflictStore{}, sources, Options{ProxyPath: "/p"})

	res, err := svc.Get(context.Background(), "mollat2")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Episodes) != 1 || res.Episodes[0].GUID != "winner" {
		t.Fatalf("got %+v, want the winning snapshot", res.Episodes)
	}
	if res.Episodes[0].AudioURL != "/p?url=https%3A%2F%2Fcdn.example.com%2Fw.mp3" {
		t.Errorf("audio: %q", res.Episodes[0].AudioURL)
	}
}
