package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxBytes = 10 << 20
)

var (
	// ErrStatus is wrapped by StatusError so callers can test for any non-2xx reply.
	ErrStatus = errors.New("unexpected HTTP status")
	// ErrTooLarge is returned when a body exceeds the configured MaxBytes.
	ErrTooLarge = errors.New("response body too large")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", RedactURL(e.URL), e.Status)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Options configures a Fetcher.
type Options struct {
	// UserAgent is sent with every request when non-empty.
	UserAgent string
	// Timeout bounds each request. Zero means 15s.
	Timeout time.Duration
	// MaxBytes caps a response body; longer bodies fail with ErrTooLarge.
	// Zero means 10 MiB.
	MaxBytes int64
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Fetcher retrieves feed bodies and detail pages over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewFetcher creates a Fetcher from opts.
func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{
		client:    client,
		userAgent: opts.UserAgent,
		maxBytes:  opts.MaxBytes,
	}
}

// FetchAll fetches every URL in parallel and returns the bodies in input
// order. The first failure (transport error or non-2xx) cancels the
// remaining requests and is returned; there is no partial result.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([][]byte, error) {
	bodies := make([][]byte, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			body, err := f.Get(gctx, u)
			if err != nil {
				return err
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

// Get performs a single GET and returns the body of a 2xx response.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("feed: empty url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: new request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: GET %s: %w", RedactURL(url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode, Status: resp.Status}
	}

	// One extra byte tells a body of exactly maxBytes from a longer one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("feed: read %s: %w", RedactURL(url), err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("feed: GET %s: %w: exceeds %d bytes", RedactURL(url), ErrTooLarge, f.maxBytes)
	}

	appLog.Debug("feed fetch success",
		"url", RedactURL(url),
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return body, nil
}

// Page implements the enricher's page source over plain HTTP.
func (f *Fetcher) Page(ctx context.Context, url string) ([]byte, error) {
	return f.Get(ctx, url)
}

// RedactURL hides path and query of a URL for logging purposes:
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "url://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
