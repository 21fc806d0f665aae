package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/config"
	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/metrics"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/podcast"
)

// meetupCacheControl lets the CDN keep event pages for a week.
const meetupCacheControl = "public, s-maxage=604800, stale-while-revalidate=604800"

const (
	msgEventsFailed   = "Impossible de récupérer les événements."
	msgEpisodesFailed = "Impossible de récupérer les épisodes."
)

// EventSource builds the event list of a meetup page.
type EventSource interface {
	Events(ctx context.Context, id string) ([]model.Event, error)
	Sources() []config.MeetupSource
}

// EpisodeSource serves and regenerates podcast episode lists.
type EpisodeSource interface {
	Get(ctx context.Context, id string) (podcast.Result, error)
	Refresh(ctx context.Context, id string) (podcast.Result, error)
	Sources() []config.PodcastSource
}

// Server provides the JSON APIs behind the meetup and podcast pages.
type Server struct {
	cfg      *config.Config
	events   EventSource
	episodes EpisodeSource
	proxy    http.Handler
	metrics  *metrics.Manager
	router   chi.Router
}

// NewServer constructs a new Server. Any source may be nil, which leaves its
// routes unregistered.
func NewServer(cfg *config.Config, events EventSource, episodes EpisodeSource, proxy http.Handler, m *metrics.Manager) *Server {
	s := &Server{
		cfg:      cfg,
		events:   events,
		episodes: episodes,
		proxy:    proxy,
		metrics:  m,
		router:   chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than lock everyone out.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health and /metrics with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ftsfeeds", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// observe records every request by route pattern and status.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequest(route, status)
		appLog.Debug("http request",
			"id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	})
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	if s.events != nil {
		for _, src := range s.events.Sources() {
			r.Get("/api/meetup-"+src.ID, s.handleMeetup(src.ID))
		}
	}
	if s.episodes != nil {
		for _, src := range s.episodes.Sources() {
			r.Get("/api/pod"+src.ID, s.handlePodcast(src.ID, false))
			r.Get("/api/pod"+src.ID+"/update-cache", s.handlePodcast(src.ID, true))
		}
	}
	if s.proxy != nil {
		path := "/api/proxy-audio"
		if s.cfg != nil && s.cfg.Podcast.ProxyPath != "" {
			path = s.cfg.Podcast.ProxyPath
		}
		r.Method(http.MethodGet, path, s.proxy)
		r.Method(http.MethodHead, path, s.proxy)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type eventsResponse struct {
	Events      []model.Event `json:"events"`
	TotalEvents int           `json:"totalEvents"`
}

func (s *Server) handleMeetup(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := s.events.Events(r.Context(), id)
		if err != nil {
			appLog.Error("meetup request failed", err, "source", id, "request_id", middleware.GetReqID(r.Context()))
			writeError(w, http.StatusInternalServerError, msgEventsFailed)
			return
		}
		if events == nil {
			events = []model.Event{}
		}

		w.Header().Set("Cache-Control", meetupCacheControl)
		writeJSON(w, http.StatusOK, eventsResponse{Events: events, TotalEvents: len(events)})
	}
}

type episodesResponse struct {
	Data          []model.Episode `json:"data"`
	TotalEpisodes int             `json:"totalEpisodes"`
	Error         string          `json:"error,omitempty"`
}

func (s *Server) handlePodcast(id string, force bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			res podcast.Result
			err error
		)
		if force {
			res, err = s.episodes.Refresh(r.Context(), id)
		} else {
			res, err = s.episodes.Get(r.Context(), id)
		}
		if err != nil {
			appLog.Error("podcast request failed", err, "source", id, "force", force, "request_id", middleware.GetReqID(r.Context()))
			writeJSON(w, http.StatusInternalServerError, episodesResponse{
				Data:  []model.Episode{},
				Error: msgEpisodesFailed,
			})
			return
		}

		data := res.Episodes
		if data == nil {
			data = []model.Episode{}
		}
		if !res.UpdatedAt.IsZero() {
			w.Header().Set("Last-Modified", res.UpdatedAt.UTC().Format(http.TimeFormat))
		}
		writeJSON(w, http.StatusOK, episodesResponse{Data: data, TotalEpisodes: len(data)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// ListenAndServe runs srv until ctx is canceled, then shuts it down within
// the grace period.
func ListenAndServe(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	appLog.Info("shutting down HTTP server", "grace", grace)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
