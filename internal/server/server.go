// Package server serves the syncd HTTP API: realtime credentials, mobile
// pairing, patient sessions, the WebSocket endpoint, health and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/clinicpro/dictation-sync/internal/hub"
	"github.com/clinicpro/dictation-sync/internal/metrics"
	"github.com/clinicpro/dictation-sync/internal/model"
	"github.com/clinicpro/dictation-sync/internal/pairing"
	"github.com/clinicpro/dictation-sync/internal/session"
)

// Issuer signs realtime credentials. auth.Issuer implements it.
type Issuer interface {
	Issue(identity model.Identity, endpoint string) (model.TokenRequest, error)
}

// Realtime is the channel broker behind the WebSocket endpoint. hub.Hub
// implements it.
type Realtime interface {
	http.Handler
	CloseChannel(channel string) int
	Devices(channel string) []model.Device
	Stats() hub.Stats
}

// Config configures a Server.
type Config struct {
	Addr            string
	PublicURL       string // Advertised base URL; derived from the request when empty
	MobileAppURL    string // Base of pairing links; PublicURL when empty
	RealtimePath    string
	MetricsPath     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	ListLimit       int // Default page size for session listings
}

// Pinger checks a backing store. pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the services a Server exposes.
type Deps struct {
	DB       Pinger // Optional; reported by /health
	Sessions *session.Service
	Pairing  *pairing.Service
	Issuer   Issuer   // nil disables realtime
	Hub      Realtime // nil disables realtime
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Server is the syncd HTTP server.
type Server struct {
	cfg      Config
	db       Pinger
	sessions *session.Service
	pairing  *pairing.Service
	issuer   Issuer
	hub      Realtime
	metrics  *metrics.Metrics
	logger   *slog.Logger
	router   *mux.Router
}

// New creates a server and registers its routes.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RealtimePath == "" {
		cfg.RealtimePath = "/ws"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 50
	}

	s := &Server{
		cfg:      cfg,
		db:       deps.DB,
		sessions: deps.Sessions,
		pairing:  deps.Pairing,
		issuer:   deps.Issuer,
		hub:      deps.Hub,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "server"),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.observe)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle(s.cfg.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/realtime/token", s.authed(s.handleToken)).Methods(http.MethodPost)
	api.HandleFunc("/realtime/devices", s.authed(s.handleDisconnectAll)).Methods(http.MethodDelete)

	api.HandleFunc("/pairing/tokens", s.authed(s.handleCreatePairing)).Methods(http.MethodPost)
	api.HandleFunc("/pairing/validate", s.handleValidatePairing).Methods(http.MethodPost)
	api.HandleFunc("/pairing/current-session", s.handlePairingSession).Methods(http.MethodGet)

	api.HandleFunc("/patient-sessions", s.authed(s.handleListSessions)).Methods(http.MethodGet)
	api.HandleFunc("/patient-sessions", s.authed(s.handleCreateSession)).Methods(http.MethodPost)
	api.HandleFunc("/patient-sessions", s.authed(s.handleUpdateSession)).Methods(http.MethodPut)
	api.HandleFunc("/patient-sessions", s.authed(s.handleDeleteSessions)).Methods(http.MethodDelete)
	api.HandleFunc("/patient-sessions/current", s.authed(s.handleCurrentSession)).Methods(http.MethodGet)
	api.HandleFunc("/patient-sessions/{id}/transcriptions", s.authed(s.handleAppendTranscription)).Methods(http.MethodPost)

	if s.hub != nil {
		r.Handle(s.cfg.RealtimePath, s.hub).Methods(http.MethodGet)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully. Hijacked WebSocket connections are not tracked by the HTTP
// server; close the hub separately.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// endpoint returns the WebSocket URL advertised with credentials.
func (s *Server) endpoint(r *http.Request) string {
	base := s.cfg.PublicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + s.cfg.RealtimePath
}

func (s *Server) mobileBase(r *http.Request) string {
	if s.cfg.MobileAppURL != "" {
		return s.cfg.MobileAppURL
	}
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
