package fetcher

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultUserAgents rotate between sessions.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// HTTPSession keeps one client fingerprint (cookies + user agent) until recycled.
type HTTPSession struct {
	timeout    time.Duration
	userAgents []string
	logger     zerolog.Logger

	mu        sync.Mutex
	client    *http.Client
	userAgent string
	created   time.Time
	recycles  int
}

// NewHTTPSession builds a session with a randomly chosen user agent.
func NewHTTPSession(timeout time.Duration, userAgents []string, logger zerolog.Logger) *HTTPSession {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	s := &HTTPSession{
		timeout:    timeout,
		userAgents: userAgents,
		logger:     logger.With().Str("component", "http_session").Logger(),
	}
	s.reset()
	return s
}

// Do sends req with the session identity.
func (s *HTTPSession) Do(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	client, ua := s.client, s.userAgent
	s.mu.Unlock()

	req.Header.Set("User-Agent", ua)
	return client.Do(req)
}

// UserAgent returns the agent presented by the current session.
func (s *HTTPSession) UserAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userAgent
}

// Recycles counts how many times the session was replaced.
func (s *HTTPSession) Recycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recycles
}

// Recycle drops cookies and idle connections and picks a new user agent.
func (s *HTTPSession) Recycle(ctx context.Context) error {
	s.mu.Lock()
	age := time.Since(s.created)
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	s.mu.Unlock()

	s.reset()

	s.mu.Lock()
	s.recycles++
	s.mu.Unlock()

	s.logger.Info().Dur("session_age", age).Msg("session recycled")
	return ctx.Err()
}

func (s *HTTPSession) reset() {
	jar, _ := cookiejar.New(nil)
	ua := s.userAgents[rand.Intn(len(s.userAgents))]

	s.mu.Lock()
	s.client = &http.Client{Timeout: s.timeout, Jar: jar, Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}}
	s.userAgent = ua
	s.created = time.Now()
	s.mu.Unlock()
}

var _ Session = (*HTTPSession)(nil)
