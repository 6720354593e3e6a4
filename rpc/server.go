package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bdnprotocol/core"
	"bdnprotocol/indexer"
	"bdnprotocol/native/permissions"
	"bdnprotocol/native/rewards"
)

// Backend is the read-only protocol surface served over HTTP.
type Backend interface {
	Height() uint64
	Bond() (*core.BondOverview, error)
	BondPosition(addr [20]byte) (*core.BondPosition, error)
	Treasury() (*core.TreasuryOverview, error)
	RewardCycle(n uint64) (*rewards.Cycle, error)
	CurrentRewardCycle() (uint64, error)
	Claim(user [20]byte, cycle uint64) (*core.ClaimView, error)
	Permission(category permissions.Category, addr [20]byte) (*permissions.Entry, error)
	ResolveAddress(raw string) ([20]byte, error)
}

// EventSource lists indexed events.
type EventSource interface {
	Events(ctx context.Context, f indexer.Filter) ([]indexer.EventRecord, error)
	Head(ctx context.Context) (string, uint64, error)
}

// Config tunes the HTTP server.
type Config struct {
	Address     string
	RateLimit   float64
	Burst       int
	ReadTimeout time.Duration
}

// Server exposes protocol state over a JSON query API.
type Server struct {
	cfg     Config
	backend Backend
	events  EventSource
	logger  *slog.Logger
	handler http.Handler
}

// NewServer builds the router. events may be nil, in which case /events
// answers 503.
func NewServer(cfg Config, backend Backend, events EventSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, backend: backend, events: events, logger: logger.With("component", "rpc")}
	s.handler = otelhttp.NewHandler(s.routes(), "bdn-rpc")
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(observe(s.logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "height": s.backend.Height()})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(q chi.Router) {
		if s.cfg.RateLimit > 0 {
			q.Use(newRateLimiter(s.cfg.RateLimit, s.cfg.Burst).middleware)
		}
		q.Get("/bond", s.handleBond)
		q.Get("/bond/{addr}", s.handleBondPosition)
		q.Get("/treasury", s.handleTreasury)
		q.Get("/rewards/cycles/{n}", s.handleRewardCycle)
		q.Get("/rewards/{addr}/{cycle}", s.handleClaim)
		q.Get("/permissions/{category}/{addr}", s.handlePermission)
		q.Get("/events", s.handleEvents)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	timeout := s.cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: timeout,
		ReadTimeout:       timeout,
		WriteTimeout:      2 * timeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", slog.String("address", s.cfg.Address))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	var body errorBody
	body.Error.Code = status
	body.Error.Kind = kind
	body.Error.Message = message
	writeJSON(w, status, body)
}
