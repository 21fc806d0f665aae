package web

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/feed"
	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
)

const maxProxyRedirects = 5

// ErrForbiddenTarget is returned when a proxied URL resolves to a local or
// private address.
var ErrForbiddenTarget = errors.New("proxy: forbidden target address")

// forwardedRequestHeaders are copied from the client to the upstream.
var forwardedRequestHeaders = []string{"Range", "If-Range", "If-None-Match", "If-Modified-Since"}

// forwardedResponseHeaders are copied from the upstream to the client.
var forwardedResponseHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Last-Modified",
	"ETag",
	"Cache-Control",
}

// ProxyOptions configures an AudioProxy.
type ProxyOptions struct {
	UserAgent string
	// Timeout bounds connection setup and response headers, not the stream.
	Timeout time.Duration
	// AllowPrivate permits loopback and private targets, for tests.
	AllowPrivate bool
}

// AudioProxy streams remote podcast audio through the local origin.
type AudioProxy struct {
	client    *http.Client
	userAgent string
}

// NewAudioProxy creates an AudioProxy. Target addresses are checked at dial
// time so that redirects and DNS answers cannot reach the local network.
func NewAudioProxy(opts ProxyOptions) *AudioProxy {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	if !opts.AllowPrivate {
		dialer.Control = rejectPrivate
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	return &AudioProxy{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxProxyRedirects {
					return errors.New("proxy: too many redirects")
				}
				return checkScheme(req.URL)
			},
		},
		userAgent: opts.UserAgent,
	}
}

func (p *AudioProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	target, err := url.Parse(raw)
	if raw == "" || err != nil || target.Host == "" {
		writeError(w, http.StatusBadRequest, "paramètre url manquant ou invalide")
		return
	}
	if err := checkScheme(target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "paramètre url invalide")
		return
	}
	for _, h := range forwardedRequestHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrForbiddenTarget) {
			writeError(w, http.StatusForbidden, "cible interdite")
			return
		}
		if r.Context().Err() != nil {
			return
		}
		appLog.Warn("audio proxy upstream failed", "url", feed.RedactURL(raw), "err", err)
		writeError(w, http.StatusBadGateway, "flux audio indisponible")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		appLog.Warn("audio proxy upstream status", "url", feed.RedactURL(raw), "status", resp.StatusCode)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("flux audio indisponible (%d)", resp.StatusCode))
		return
	}

	for _, h := range forwardedResponseHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, resp.Body); err != nil && r.Context().Err() == nil {
		appLog.Debug("audio proxy copy interrupted", "url", feed.RedactURL(raw), "err", err)
	}
}

func checkScheme(u *url.URL) error {
	switch u.Scheme {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("proxy: unsupported scheme %q", u.Scheme)
	}
}

// rejectPrivate is a net.Dialer Control hook refusing non-public addresses.
func rejectPrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenTarget, host)
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast())
}
