package rpc

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bdnprotocol/observability"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the per-request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the identifier assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe records route metrics and logs each request once the route
// pattern is known.
func observe(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			observability.ModuleMetrics().Observe(route, recorder.status, elapsed)
			logger.Debug("rpc request",
				slog.String("route", route),
				slog.Int("status", recorder.status),
				slog.String("request_id", RequestID(r.Context())),
				slog.Duration("duration", elapsed))
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter hands out one token bucket per client address. Buckets idle
// for longer than idleTTL are dropped on the next sweep.
type rateLimiter struct {
	mu        sync.Mutex
	perSecond rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

const idleTTL = 5 * time.Minute

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

func (rl *rateLimiter) allow(id string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if now.Sub(rl.lastSweep) > idleTTL {
		for key, v := range rl.visitors {
			if now.Sub(v.lastSeen) > idleTTL {
				delete(rl.visitors, key)
			}
		}
		rl.lastSweep = now
	}
	v, ok := rl.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientID(r)) {
			observability.ModuleMetrics().RecordThrottle("rate_limit")
			writeError(w, http.StatusTooManyRequests, "rate_limited", http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
