package aiclients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
)

func newTestSpeechClient(t *testing.T, handler http.HandlerFunc) *SpeechClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	transport := NewTransport(srv.URL, "", 5*time.Second)
	envelope := NewEnvelope(nil, RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, CapDelay: time.Millisecond}, NewUsageTracker())
	limits := ratelimit.LimitConfig{MaxPerMinute: 1000, MaxPerHour: 100000}
	return NewSpeechClient(transport, envelope, "gpt-4o-mini", limits)
}

func TestEvaluateSpeech_NoRulesIsNoOp(t *testing.T) {
	c := newTestSpeechClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not call the model when there are no speech rules")
	})

	report, err := c.EvaluateSpeech(context.Background(), "hello there", nil)
	require.NoError(t, err)
	assert.Equal(t, compliance.Report{}, report)
}

func TestEvaluateSpeech_EmptyTranscriptMarksAllRulesNonCompliant(t *testing.T) {
	c := newTestSpeechClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not call the model when the transcript is empty")
	})

	rules := []compliance.PolicyRule{
		{Type: "speech", Description: "No profanity"},
		{Type: "speech", Description: "Must greet customer"},
	}

	report, err := c.EvaluateSpeech(context.Background(), "", rules)
	require.NoError(t, err)
	require.Len(t, report.AllVerdicts, 2)
	assert.False(t, report.OverallCompliant)
	for i, v := range report.AllVerdicts {
		assert.Equal(t, rules[i].Description, v.RuleDescription)
		assert.False(t, v.Compliant)
		assert.Equal(t, "No audio transcript available. Cannot evaluate speech compliance.", v.Reason)
	}
}

func TestEvaluateSpeech_UnparsableResponseMarksAllRulesNonCompliant(t *testing.T) {
	c := newTestSpeechClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"not json"}}]}`))
	})

	rules := []compliance.PolicyRule{{Type: "speech", Description: "No profanity"}}

	report, err := c.EvaluateSpeech(context.Background(), "some transcript", rules)
	require.NoError(t, err)
	require.Len(t, report.AllVerdicts, 1)
	assert.False(t, report.AllVerdicts[0].Compliant)
	assert.Equal(t, "Failed to parse speech evaluation from LLM.", report.AllVerdicts[0].Reason)
}

func TestEvaluateSpeech_NoChoicesMarksAllRulesNonCompliant(t *testing.T) {
	c := newTestSpeechClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	})

	rules := []compliance.PolicyRule{{Type: "speech", Description: "No profanity"}}

	report, err := c.EvaluateSpeech(context.Background(), "some transcript", rules)
	require.NoError(t, err)
	require.Len(t, report.AllVerdicts, 1)
	assert.False(t, report.AllVerdicts[0].Compliant)
	assert.Equal(t, "Failed to parse speech evaluation from LLM.", report.AllVerdicts[0].Reason)
}
