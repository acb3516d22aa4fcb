// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the auth service over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// AuthService is the subset of auth.Service the HTTP layer drives.
type AuthService interface {
	Register(ctx context.Context, email, password string) (ulid.ULID, error)
	ValidateLogin(ctx context.Context, email, password string) (bool, error)
	CreateSession(ctx context.Context, email string) (string, error)
	ResolveSession(ctx context.Context, token string) (*auth.User, bool, error)
	DestroySession(ctx context.Context, userID ulid.ULID) error
	IssueResetToken(ctx context.Context, email string) (string, error)
	ConsumePasswordReset(ctx context.Context, token, newPassword string) error
	CountUsers(ctx context.Context) (int64, error)
}

// RequestObserver receives one observation per served request.
type RequestObserver interface {
	ObserveHTTP(route, method string, status int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveHTTP(string, string, int, time.Duration) {}

// Config holds the HTTP surface settings.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	PublicPaths    []string
	CookieName     string
	CookieSecure   bool
}

// DefaultCookieName is used when Config.CookieName is empty.
const DefaultCookieName = "session_id"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithObserver sets the per-request metrics sink.
func WithObserver(observer RequestObserver) Option {
	return func(s *Server) {
		s.observer = observer
	}
}

// Server serves the auth HTTP API.
type Server struct {
	cfg      Config
	svc      AuthService
	public   *PathMatcher
	logger   *slog.Logger
	observer RequestObserver
	handler  http.Handler

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer builds the router for svc. The returned server is not listening
// until Start is called; Handler can be used directly in tests.
func NewServer(svc AuthService, cfg Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("auth service cannot be nil")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}

	public, err := NewPathMatcher(cfg.PublicPaths)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		svc:      svc,
		public:   public,
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("logger cannot be nil")
	}
	if s.observer == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("observer cannot be nil")
	}

	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/users", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleLogout).Methods(http.MethodDelete)
	r.HandleFunc("/profile", s.handleProfile).Methods(http.MethodGet)
	r.HandleFunc("/reset_password", s.handleIssueReset).Methods(http.MethodPost)
	r.HandleFunc("/reset_password", s.handleConsumeReset).Methods(http.MethodPut)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/unauthorized", s.handleUnauthorized).Methods(http.MethodGet)
	api.HandleFunc("/forbidden", s.handleForbidden).Methods(http.MethodGet)

	r.NotFoundHandler = s.instrumentUnmatched(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, msgNotFound)
	}))
	r.MethodNotAllowedHandler = s.instrumentUnmatched(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, msgNotAllowed)
	}))

	// Route middleware only runs on matched routes, so unknown paths stay 404.
	r.Use(s.instrument, s.guard)

	return s.cors(stripTrailingSlash(r))
}

// cors wraps h with CORS headers for the configured origins. With no origins
// configured h is returned as is, since gorilla/handlers treats an empty list
// as "allow all". Credentials are never allowed for a wildcard origin.
func (s *Server) cors(h http.Handler) http.Handler {
	if len(s.cfg.AllowedOrigins) == 0 {
		return h
	}
	opts := []handlers.CORSOption{
		handlers.AllowedOrigins(s.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	}
	if !slices.Contains(s.cfg.AllowedOrigins, "*") {
		opts = append(opts, handlers.AllowCredentials())
	}
	return handlers.CORS(opts...)(h)
}

// Start begins serving on cfg.Addr. The returned channel receives a serve
// error, if any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("http server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("HTTP_LISTEN_FAILED").With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("http server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_http_server").Wrap(err)
		}
	}
	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
