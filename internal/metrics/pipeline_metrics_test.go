package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordKeyframe(t *testing.T) {
	KeyframesCaptured.Reset()

	RecordKeyframe("change")
	RecordKeyframe("change")
	RecordKeyframe("first")

	if got := testutil.ToFloat64(KeyframesCaptured.WithLabelValues("change")); got != 2 {
		t.Errorf("expected 2 change keyframes, got %f", got)
	}
	if got := testutil.ToFloat64(KeyframesCaptured.WithLabelValues("first")); got != 1 {
		t.Errorf("expected 1 first keyframe, got %f", got)
	}
}

func TestRecordAICall(t *testing.T) {
	AIClientCallsTotal.Reset()
	AIClientLatency.Reset()

	RecordAICall("vision", "ok", 120)
	RecordAICall("vision", "error", 5000)

	if got := testutil.ToFloat64(AIClientCallsTotal.WithLabelValues("vision", "ok")); got != 1 {
		t.Errorf("expected 1 ok call, got %f", got)
	}
	if count := testutil.CollectAndCount(AIClientLatency); count == 0 {
		t.Error("expected latency observations, got 0")
	}
}

func TestRecordAIRetry(t *testing.T) {
	AIClientRetries.Reset()

	RecordAIRetry("speech")
	RecordAIRetry("speech")

	if got := testutil.ToFloat64(AIClientRetries.WithLabelValues("speech")); got != 2 {
		t.Errorf("expected 2 retries, got %f", got)
	}
}

func TestRecordRateLimitRejection(t *testing.T) {
	RateLimitRejections.Reset()

	RecordRateLimitRejection("remote_gpu")

	if got := testutil.ToFloat64(RateLimitRejections.WithLabelValues("remote_gpu")); got != 1 {
		t.Errorf("expected 1 rejection, got %f", got)
	}
}

func TestRecordOrchestratorPath(t *testing.T) {
	OrchestratorPathTotal.Reset()

	RecordOrchestratorPath("long_video")
	RecordOrchestratorPath("long_video")
	RecordOrchestratorPath("short_video")

	if got := testutil.ToFloat64(OrchestratorPathTotal.WithLabelValues("long_video")); got != 2 {
		t.Errorf("expected 2 long_video dispatches, got %f", got)
	}
}

func TestRecordFrameDedupHit(t *testing.T) {
	before := testutil.ToFloat64(FrameDedupHits)
	RecordFrameDedupHit()
	after := testutil.ToFloat64(FrameDedupHits)
	if after != before+1 {
		t.Errorf("expected FrameDedupHits to increase by 1, got %f -> %f", before, after)
	}
}

func TestSetServiceUp(t *testing.T) {
	SetServiceUp(true)
	if got := testutil.ToFloat64(ServiceUp); got != 1 {
		t.Errorf("expected ServiceUp=1, got %f", got)
	}
	SetServiceUp(false)
	if got := testutil.ToFloat64(ServiceUp); got != 0 {
		t.Errorf("expected ServiceUp=0, got %f", got)
	}
}

func TestNewCollector_ExposesAllMetrics(t *testing.T) {
	c := NewCollector()
	if c.Handler() == nil {
		t.Fatal("expected a non-nil metrics handler")
	}
}
