// Package ratelimit implements the per-service sliding-window admission
// check used by the AI client call envelope (spec.md §4.2 "Rate check").
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

// Service names the AI capability a rate check applies to.
type Service string

const (
	ServiceVision    Service = "vision"
	ServiceSpeech    Service = "speech"
	ServiceRemoteGPU Service = "remote_gpu"
)

// LimitConfig is a per-service pair of windows. Both must be satisfied for
// admission.
type LimitConfig struct {
	MaxPerMinute int `yaml:"max_per_minute"`
	MaxPerHour   int `yaml:"max_per_hour"`
}

// Decision reports whether a call may proceed, with the minute and hour
// window counts after this call. It carries no sleep duration; the AI
// client envelope applies its own rateSlack when a call is not allowed.
type Decision struct {
	Allowed      bool
	MinuteCount  int
	HourCount    int
}

type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// incrScript atomically increments a window counter and sets its expiry
// only on first increment, so the window is a sliding-reset bucket rooted
// at the first call inside it.
var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// Check admits or denies a call for svc, checking both the 1-minute and
// 1-hour windows. On Redis failure it fails open (Allowed=true) — the
// server-side provider limit remains authoritative regardless.
func (l *Limiter) Check(ctx context.Context, svc Service, cfg LimitConfig) (*Decision, error) {
	minuteKey := "ratelimit:" + string(svc) + ":minute"
	hourKey := "ratelimit:" + string(svc) + ":hour"

	minuteCount, err := incrScript.Run(ctx, l.client, []string{minuteKey}, time.Minute.Milliseconds()).Int()
	if err != nil {
		return &Decision{Allowed: true}, ErrRedisUnavailable
	}
	hourCount, err := incrScript.Run(ctx, l.client, []string{hourKey}, time.Hour.Milliseconds()).Int()
	if err != nil {
		return &Decision{Allowed: true}, ErrRedisUnavailable
	}

	allowed := minuteCount <= cfg.MaxPerMinute && hourCount <= cfg.MaxPerHour
	return &Decision{Allowed: allowed, MinuteCount: minuteCount, HourCount: hourCount}, nil
}
