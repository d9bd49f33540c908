package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/changedetect"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

func TestDecodePolicy_EmptyJSONIsBadRequest(t *testing.T) {
	_, err := decodePolicy("")
	assert.True(t, compliance.IsKind(err, compliance.KindBadRequest))
}

func TestDecodePolicy_NoRulesIsBadRequest(t *testing.T) {
	_, err := decodePolicy(`{"rules":[]}`)
	assert.True(t, compliance.IsKind(err, compliance.KindBadRequest))
}

func TestDecodePolicy_ValidPolicyParses(t *testing.T) {
	policy, err := decodePolicy(`{"rules":[{"description":"no phones","rule_type":"visual"}]}`)
	assert.NoError(t, err)
	assert.True(t, policy.HasRules())
}

func TestCmpNonEmpty(t *testing.T) {
	assert.Equal(t, "set", cmpNonEmpty("set", "fallback"))
	assert.Equal(t, "fallback", cmpNonEmpty("", "fallback"))
}

func TestMergeParallelReports_EmptyInputReturnsEmptyReport(t *testing.T) {
	merged := mergeParallelReports(nil)
	assert.False(t, merged.AnalyzedAt.IsZero())
	assert.Equal(t, 0, merged.TotalFramesAnalyzed)
}

func TestMergeParallelReports_ANDsOverallCompliantAndSumsFrames(t *testing.T) {
	reports := []compliance.Report{
		{OverallCompliant: true, TotalFramesAnalyzed: 2, AnalyzedAt: time.Now()},
		{OverallCompliant: false, TotalFramesAnalyzed: 3, AnalyzedAt: time.Now()},
	}
	merged := mergeParallelReports(reports)
	assert.False(t, merged.OverallCompliant)
	assert.Equal(t, 5, merged.TotalFramesAnalyzed)
}

func TestMergeParallelReports_ConcatenatesVerdictsAndObservations(t *testing.T) {
	reports := []compliance.Report{
		{
			AllVerdicts:       []compliance.Verdict{{RuleDescription: "rule-a"}},
			FrameObservations: []compliance.FrameObservation{{}},
			AnalyzedAt:        time.Now(),
		},
		{
			AllVerdicts:       []compliance.Verdict{{RuleDescription: "rule-b"}},
			FrameObservations: []compliance.FrameObservation{{}},
			AnalyzedAt:        time.Now(),
		},
	}
	merged := mergeParallelReports(reports)
	assert.Len(t, merged.AllVerdicts, 2)
	assert.Len(t, merged.FrameObservations, 2)
}

func TestKeyframeHub_PublishDeliversOnlyToMatchingVideoID(t *testing.T) {
	hub := newKeyframeHub()
	chA := hub.subscribe("video-a")
	chB := hub.subscribe("video-b")

	hub.publish("video-a", changedetect.ChangeEvent{Score: 0.9})

	select {
	case e := <-chA:
		assert.Equal(t, 0.9, e.Score)
	default:
		t.Fatal("expected video-a subscriber to receive the event")
	}
	select {
	case <-chB:
		t.Fatal("video-b subscriber should not receive video-a's event")
	default:
	}
}

func TestKeyframeHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := newKeyframeHub()
	ch := hub.subscribe("video-a")
	hub.unsubscribe("video-a", ch)

	hub.publish("video-a", changedetect.ChangeEvent{Score: 0.5})

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unsubscribed channel should never receive a later publish")
		}
	default:
	}
}

func TestKeyframeHub_CloseDrainsAllSubscribers(t *testing.T) {
	hub := newKeyframeHub()
	ch1 := hub.subscribe("video-a")
	ch2 := hub.subscribe("video-a")

	hub.close("video-a")

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestKeyframeHub_PublishDropsWhenSubscriberBufferFull(t *testing.T) {
	hub := newKeyframeHub()
	ch := hub.subscribe("video-a")

	for i := 0; i < 32; i++ {
		hub.publish("video-a", changedetect.ChangeEvent{Score: float64(i)})
	}

	assert.LessOrEqual(t, len(ch), cap(ch), "publish must never block or grow the channel past its buffer")
}
