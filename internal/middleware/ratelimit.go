package middleware

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig is the per-route HTTP admission limit, independent of the
// AI-client call envelope's own rate check in internal/ratelimit.
type RateLimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
	// FailClosed controls behavior on Redis failure. Analysis endpoints
	// fail open (availability over strict limiting); nothing here needs
	// fail-closed today, but the knob stays for endpoints that might.
	FailClosed bool `yaml:"fail_closed"`
}

var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimiter is chi-compatible HTTP middleware guarding the /analyze/*
// routes by client IP, adapted from the reference VMS's Redis
// sliding-window admission check.
type RateLimiter struct {
	client *redis.Client
	cfg    RateLimitConfig
}

func NewRateLimiter(client *redis.Client, cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{client: client, cfg: cfg}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		key := "httprl:" + ip

		count, err := incrScript.Run(r.Context(), rl.client, []string{key}, rl.cfg.Window.Milliseconds()).Int()
		if err != nil {
			log.Printf("middleware: rate limit check failed, %s: %v", map[bool]string{true: "failing closed", false: "failing open"}[rl.cfg.FailClosed], err)
			if rl.cfg.FailClosed {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.cfg.Rate - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Rate))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > rl.cfg.Rate {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.cfg.Window.Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}
