package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lorrc/carenet-sync/internal/infrastructure/metrics"
	"golang.org/x/time/rate"
)

// RateLimiter provides IP-based rate limiting
type RateLimiter struct {
	visitors *visitorSet
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorSet holds one token bucket per key and evicts idle keys.
type visitorSet struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	done     chan struct{}
	stopOnce sync.Once
}

func newVisitorSet(rps float64, burst int, interval, ttl time.Duration) *visitorSet {
	s := &visitorSet{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		done:     make(chan struct{}),
	}
	go s.cleanup(interval, ttl)
	return s
}

func (s *visitorSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exists := s.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

func (s *visitorSet) cleanup(interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			for key, v := range s.visitors {
				if time.Since(v.lastSeen) > ttl {
					delete(s.visitors, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *visitorSet) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	RequestsPerSecond float64       // Requests allowed per second
	BurstSize         int           // Maximum burst size
	CleanupInterval   time.Duration // How often to clean up old visitors
	TTL               time.Duration // How long to keep inactive visitors
}

// DefaultRateLimiterConfig returns a sensible default configuration
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
		TTL:               3 * time.Minute,
	}
}

// WithRate overrides the rate and burst when they are positive.
func (c RateLimiterConfig) WithRate(rps float64, burst int) RateLimiterConfig {
	if rps > 0 {
		c.RequestsPerSecond = rps
	}
	if burst > 0 {
		c.BurstSize = burst
	}
	return c
}

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		visitors: newVisitorSet(cfg.RequestsPerSecond, cfg.BurstSize, cfg.CleanupInterval, cfg.TTL),
	}
}

// Allow checks if a request from the given IP is allowed
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.visitors.allow(ip)
}

// Stop ends the background eviction.
func (rl *RateLimiter) Stop() {
	rl.visitors.stop()
}

// Middleware returns an HTTP middleware that rate limits requests
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(getClientIP(r)) {
			metrics.IncRateLimited("ip")
			writeRateLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitByKey provides rate limiting by arbitrary keys such as the viewer id.
type RateLimitByKey struct {
	visitors *visitorSet
}

// NewRateLimitByKey creates a key-based rate limiter
func NewRateLimitByKey(requestsPerSecond float64, burst int) *RateLimitByKey {
	return &RateLimitByKey{
		visitors: newVisitorSet(requestsPerSecond, burst, time.Minute, 5*time.Minute),
	}
}

// Allow checks if a request with the given key is allowed
func (rl *RateLimitByKey) Allow(key string) bool {
	return rl.visitors.allow(key)
}

// Stop ends the background eviction.
func (rl *RateLimitByKey) Stop() {
	rl.visitors.stop()
}

// ByViewer limits authenticated requests per viewer. It must run after
// JWTMiddleware; anonymous requests fall back to the client IP.
func (rl *RateLimitByKey) ByViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := ViewerID(r.Context())
		if !ok {
			key = "ip:" + getClientIP(r)
		}
		if !rl.Allow(key) {
			metrics.IncRateLimited("viewer")
			writeRateLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"Too many requests. Please try again later.","code":"RATE_LIMITED"}`))
}

// getClientIP extracts the client IP from the request
// It checks X-Forwarded-For and X-Real-IP headers first (for reverse proxies)
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip, _, err := net.SplitHostPort(first); err == nil {
			return ip
		}
		return first
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
