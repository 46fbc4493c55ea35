package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(started),
				"remote", clientIP(r))
		})
	}
}

// rateLimiter is a fixed-window per-IP limiter. Windows reset every minute;
// stale entries are swept opportunistically.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*window
	logger  *slog.Logger
}

type window struct {
	count int
	reset time.Time
}

func newRateLimiter(perMinute int, logger *slog.Logger) *rateLimiter {
	return &rateLimiter{
		limit:   perMinute,
		windows: make(map[string]*window),
		logger:  logger,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	w, ok := rl.windows[ip]
	if !ok || now.After(w.reset) {
		rl.windows[ip] = &window{count: 1, reset: now.Add(time.Minute)}
		if len(rl.windows) > 10000 {
			for k, v := range rl.windows {
				if now.After(v.reset) {
					delete(rl.windows, k)
				}
			}
		}
		return true
	}
	w.count++
	return w.count <= rl.limit
}

func (rl *rateLimiter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip) {
			rl.logger.Warn("rate limit exceeded", "remote", ip)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the originating address. X-Forwarded-For may carry a
// comma-separated proxy chain; only the first hop identifies the client.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		if fwd = strings.TrimSpace(fwd); fwd != "" {
			return fwd
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
