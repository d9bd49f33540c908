// Package aiclients implements the shared call envelope for the three
// external AI capabilities (vision/LLM, speech, remote GPU) and the
// concrete clients built on top of it.
package aiclients

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
)

// RetryConfig controls the exponential-backoff-with-jitter wrapper shared by
// every external call.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	CapDelay   time.Duration
	Jitter     bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, BaseDelay: time.Second, CapDelay: 60 * time.Second, Jitter: true}
}

// nonRetryableSubstrings are matched case-insensitively against an error's
// text; a match means the call must not be retried.
var nonRetryableSubstrings = []string{
	"invalid api key",
	"authentication",
	"insufficient_quota",
	"invalid_request",
	"content_policy_violation",
}

func isNonRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range nonRetryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withRetry runs fn, retrying on any retryable error up to cfg.MaxRetries
// times with exponential backoff and optional jitter. Cancellation is never
// retried. The last error is returned once the budget is exhausted.
func withRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
		if isNonRetryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		actual := delay
		if cfg.Jitter {
			actual = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(actual):
		}
		delay = time.Duration(math.Min(float64(delay)*2, float64(cfg.CapDelay)))
	}
	return lastErr
}

// rateSlack is the advisory sleep applied when a rate-check admits a call
// only after signalling it would otherwise exceed a window (spec.md:
// "the caller sleeps for a small fixed slack (1.5-2.0s)... advisory, not
// enforced").
func rateSlack() time.Duration {
	return time.Duration(1500+rand.Intn(500)) * time.Millisecond
}

// usageEntry tracks per-service call/token/cost counters plus a rolling
// 5-minute per-minute call histogram, mirroring the original in-process
// usage tracker this system shipped with before this rewrite.
type usageEntry struct {
	totalCalls  int64
	totalTokens int64
	totalCost   float64
	perMinute   map[int64]int64
}

// UsageTracker accumulates per-service usage stats, process-wide, guarded
// by a single mutex — accuracy is not required to be exact under race,
// only monotonic and approximately right.
type UsageTracker struct {
	mu   sync.Mutex
	data map[string]*usageEntry
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{data: make(map[string]*usageEntry)}
}

func (u *UsageTracker) Track(service string, tokens int64, cost float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.data[service]
	if !ok {
		e = &usageEntry{perMinute: make(map[int64]int64)}
		u.data[service] = e
	}
	e.totalCalls++
	e.totalTokens += tokens
	e.totalCost += cost

	minute := time.Now().Unix() / 60
	e.perMinute[minute]++
	for m := range e.perMinute {
		if minute-m >= 5 {
			delete(e.perMinute, m)
		}
	}
}

type UsageStats struct {
	TotalCalls  int64
	TotalTokens int64
	TotalCost   float64
	RecentCalls int64
}

func (u *UsageTracker) Stats(service string) UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.data[service]
	if !ok {
		return UsageStats{}
	}
	var recent int64
	for _, c := range e.perMinute {
		recent += c
	}
	return UsageStats{TotalCalls: e.totalCalls, TotalTokens: e.totalTokens, TotalCost: e.totalCost, RecentCalls: recent}
}

// pricePerThousand is a static per-model price table: input/output cost per
// 1K tokens, or a flat per-audio-minute rate for speech models.
var pricePerThousand = map[string]struct{ input, output, perMinute float64 }{
	"gpt-4o":      {input: 0.00250, output: 0.01000},
	"gpt-4o-mini": {input: 0.00015, output: 0.00060},
	"whisper-1":   {perMinute: 0.006},
}

// EstimateCost prices a call against the static table. audioSeconds is only
// consulted for models priced per-minute.
func EstimateCost(model string, inputTokens, outputTokens int64, audioSeconds float64) float64 {
	price, ok := pricePerThousand[model]
	if !ok {
		return 0
	}
	if price.perMinute > 0 {
		return price.perMinute * (audioSeconds / 60.0)
	}
	return float64(inputTokens)*price.input/1000 + float64(outputTokens)*price.output/1000
}

// Envelope bundles the three cross-cutting concerns (rate check, retry,
// usage accounting) that every external AI call passes through. Each
// concrete client (Vision, Speech, RemoteGPU) holds one.
type Envelope struct {
	Limiter *ratelimit.Limiter
	Retry   RetryConfig
	Usage   *UsageTracker
}

func NewEnvelope(limiter *ratelimit.Limiter, retry RetryConfig, usage *UsageTracker) *Envelope {
	return &Envelope{Limiter: limiter, Retry: retry, Usage: usage}
}

// Call admits, retries, and accounts for one external call. fn performs the
// actual request and returns the tokens/cost to record on success.
func (e *Envelope) Call(ctx context.Context, svc ratelimit.Service, limits ratelimit.LimitConfig, model string, fn func(ctx context.Context) (tokens int64, cost float64, err error)) error {
	if e.Limiter != nil {
		decision, err := e.Limiter.Check(ctx, svc, limits)
		if err == nil && !decision.Allowed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rateSlack()):
			}
		}
	}

	var tokens int64
	var cost float64
	err := withRetry(ctx, e.Retry, func(ctx context.Context) error {
		t, c, err := fn(ctx)
		tokens, cost = t, c
		return err
	})
	if err == nil && e.Usage != nil {
		e.Usage.Track(string(svc), tokens, cost)
	}
	return err
}
