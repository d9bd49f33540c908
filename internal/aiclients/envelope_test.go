package aiclients_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/aiclients"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
)

var noLimits = ratelimit.LimitConfig{MaxPerMinute: 1000, MaxPerHour: 100000}

func TestEnvelope_RetriesTransientThenSucceeds(t *testing.T) {
	env := aiclients.NewEnvelope(nil, aiclients.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, CapDelay: time.Millisecond, Jitter: false}, aiclients.NewUsageTracker())

	attempts := 0
	err := env.Call(context.Background(), ratelimit.ServiceVision, noLimits, "gpt-4o-mini", func(ctx context.Context) (int64, float64, error) {
		attempts++
		if attempts < 3 {
			return 0, 0, errors.New("rate-limited: 429")
		}
		return 100, 0.01, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestEnvelope_NonRetryableFailsImmediately(t *testing.T) {
	env := aiclients.NewEnvelope(nil, aiclients.RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, CapDelay: time.Millisecond, Jitter: false}, aiclients.NewUsageTracker())

	attempts := 0
	err := env.Call(context.Background(), ratelimit.ServiceVision, noLimits, "gpt-4o-mini", func(ctx context.Context) (int64, float64, error) {
		attempts++
		return 0, 0, errors.New("invalid api key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestEnvelope_CancellationNotRetried(t *testing.T) {
	env := aiclients.NewEnvelope(nil, aiclients.RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, CapDelay: time.Millisecond, Jitter: false}, aiclients.NewUsageTracker())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := env.Call(ctx, ratelimit.ServiceVision, noLimits, "gpt-4o-mini", func(ctx context.Context) (int64, float64, error) {
		attempts++
		return 0, 0, context.Canceled
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestUsageTracker_AccumulatesPerService(t *testing.T) {
	u := aiclients.NewUsageTracker()
	u.Track("vision", 100, 0.01)
	u.Track("vision", 50, 0.005)

	stats := u.Stats("vision")
	assert.Equal(t, int64(2), stats.TotalCalls)
	assert.Equal(t, int64(150), stats.TotalTokens)
	assert.InDelta(t, 0.015, stats.TotalCost, 0.0001)
}

func TestEstimateCost_KnownAndUnknownModel(t *testing.T) {
	cost := aiclients.EstimateCost("gpt-4o-mini", 1000, 500, 0)
	assert.Greater(t, cost, 0.0)

	assert.Equal(t, 0.0, aiclients.EstimateCost("unknown-model", 1000, 500, 0))
}
