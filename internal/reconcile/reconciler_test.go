package reconcile_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/checklist"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/reconcile"
)

func newTracker(t *testing.T) *checklist.Tracker {
	t.Helper()
	return checklist.New(filepath.Join(t.TempDir(), "checklist.json"))
}

func incidentRule() compliance.PolicyRule {
	return compliance.PolicyRule{Type: compliance.RulePPE, Description: "ppe required", Severity: compliance.SeverityHigh, Mode: compliance.ModeIncident}
}

func checklistRule() compliance.PolicyRule {
	validity := int64(300)
	return compliance.PolicyRule{Type: compliance.RuleBadge, Description: "badge required", Severity: compliance.SeverityMedium, Mode: compliance.ModeChecklist, ValidityDuration: &validity}
}

func TestFinalize_IncidentsOnlyContainNonCompliantIncidentVerdicts(t *testing.T) {
	r := reconcile.New(newTracker(t))
	policy := compliance.Policy{Rules: []compliance.PolicyRule{incidentRule(), checklistRule()}}
	raw := compliance.Report{
		AllVerdicts: []compliance.Verdict{
			{RuleDescription: "ppe required", Compliant: false},
			{RuleDescription: "badge required", Compliant: false},
		},
	}

	rep := r.Finalize(time.Now(), raw, policy, nil)

	require.Len(t, rep.Incidents, 1)
	assert.Equal(t, "ppe required", rep.Incidents[0].RuleDescription)
	assert.Equal(t, compliance.ModeIncident, rep.Incidents[0].Mode)
	assert.False(t, rep.Incidents[0].Compliant)
}

func TestFinalize_OverallCompliantIgnoresChecklistVerdicts(t *testing.T) {
	r := reconcile.New(newTracker(t))
	policy := compliance.Policy{Rules: []compliance.PolicyRule{incidentRule(), checklistRule()}}
	raw := compliance.Report{
		AllVerdicts: []compliance.Verdict{
			{RuleDescription: "ppe required", Compliant: true},
			{RuleDescription: "badge required", Compliant: false},
		},
	}

	rep := r.Finalize(time.Now(), raw, policy, nil)
	assert.True(t, rep.OverallCompliant, "a non-compliant checklist verdict must not flip overall_compliant")
}

func TestFinalize_ChecklistFulfilledNilWhenNoChecklistRules(t *testing.T) {
	r := reconcile.New(newTracker(t))
	policy := compliance.Policy{Rules: []compliance.PolicyRule{incidentRule()}}
	raw := compliance.Report{AllVerdicts: []compliance.Verdict{{RuleDescription: "ppe required", Compliant: true}}}

	rep := r.Finalize(time.Now(), raw, policy, nil)
	assert.Nil(t, rep.ChecklistFulfilled)
}

func TestFinalize_ChecklistFulfilledIsAndOverChecklistVerdicts(t *testing.T) {
	r := reconcile.New(newTracker(t))
	validity := int64(60)
	ruleA := compliance.PolicyRule{Type: compliance.RuleBadge, Description: "rule a", Mode: compliance.ModeChecklist, ValidityDuration: &validity}
	ruleB := compliance.PolicyRule{Type: compliance.RuleBadge, Description: "rule b", Mode: compliance.ModeChecklist, ValidityDuration: &validity}
	policy := compliance.Policy{Rules: []compliance.PolicyRule{ruleA, ruleB}}
	raw := compliance.Report{AllVerdicts: []compliance.Verdict{
		{RuleDescription: "rule a", Compliant: true},
		{RuleDescription: "rule b", Compliant: false},
	}}

	rep := r.Finalize(time.Now(), raw, policy, nil)
	require.NotNil(t, rep.ChecklistFulfilled)
	assert.False(t, *rep.ChecklistFulfilled)
}

func TestFinalize_CachedChecklistVerdictOverridesNonCompliant(t *testing.T) {
	tracker := newTracker(t)
	rule := checklistRule()
	now := time.Now().UTC()
	tracker.Update("alice", rule, true, now)

	r := reconcile.New(tracker)
	policy := compliance.Policy{Rules: []compliance.PolicyRule{rule}}
	raw := compliance.Report{AllVerdicts: []compliance.Verdict{{RuleDescription: "badge required", Compliant: false}}}
	observations := []compliance.FrameObservation{{Timestamp: 1, People: []compliance.PersonDetail{{PersonID: "alice"}}}}

	rep := r.Finalize(now.Add(time.Minute), raw, policy, observations)

	require.Len(t, rep.AllVerdicts, 1)
	assert.True(t, rep.AllVerdicts[0].Compliant)
	assert.Equal(t, "Previously verified (still valid)", rep.AllVerdicts[0].Reason)
	assert.Equal(t, compliance.StatusCompliant, rep.AllVerdicts[0].ChecklistStatus)
}

func TestFinalize_ModelCompliantChecklistVerdictUpdatesTracker(t *testing.T) {
	tracker := newTracker(t)
	rule := checklistRule()
	r := reconcile.New(tracker)
	policy := compliance.Policy{Rules: []compliance.PolicyRule{rule}}
	raw := compliance.Report{AllVerdicts: []compliance.Verdict{{RuleDescription: "badge required", Compliant: true}}}
	observations := []compliance.FrameObservation{{Timestamp: 1, People: []compliance.PersonDetail{{PersonID: "bob"}}}}

	now := time.Now().UTC()
	r.Finalize(now, raw, policy, observations)

	ok, _ := tracker.Check("bob", rule, now)
	assert.True(t, ok, "a model-reported compliant checklist verdict should persist into the tracker")
}

func TestMergeSpeech_NoSpeechVerdictsIsNoop(t *testing.T) {
	visual := compliance.Report{Summary: "ok", OverallCompliant: true}
	merged := reconcile.MergeSpeech(visual, nil)
	assert.Equal(t, visual, merged)
}

func TestMergeSpeech_NonCompliantIncidentSpeechFlipsOverallAndAppendsSummary(t *testing.T) {
	visual := compliance.Report{
		Summary:          "Visual analysis clean.",
		OverallCompliant: true,
		AllVerdicts:      []compliance.Verdict{{RuleDescription: "ppe required", Mode: compliance.ModeIncident, Compliant: true}},
	}
	speechVerdicts := []compliance.Verdict{
		{RuleDescription: "no profanity", Mode: compliance.ModeIncident, Compliant: false},
	}

	merged := reconcile.MergeSpeech(visual, speechVerdicts)

	assert.False(t, merged.OverallCompliant)
	require.Len(t, merged.Incidents, 1)
	assert.Contains(t, merged.Summary, "Speech: 1 audio violation(s).")
	assert.Len(t, merged.AllVerdicts, 2)
}

func TestAssignThumbnails_PrefersMatchingPersonFrame(t *testing.T) {
	r := reconcile.New(newTracker(t))
	policy := compliance.Policy{Rules: []compliance.PolicyRule{incidentRule()}}
	raw := compliance.Report{
		AllVerdicts: []compliance.Verdict{{RuleDescription: "ppe required", Compliant: true}},
		PersonSummaries: []compliance.PersonSummary{
			{PersonID: "alice", FirstSeen: 2.0},
		},
	}
	observations := []compliance.FrameObservation{
		{Timestamp: 0, ImageBytes: []byte("wrong-person-frame"), People: []compliance.PersonDetail{{PersonID: "bob"}}},
		{Timestamp: 2.0, ImageBytes: []byte("alice-frame"), People: []compliance.PersonDetail{{PersonID: "alice"}}},
	}

	rep := r.Finalize(time.Now(), raw, policy, observations)

	require.Len(t, rep.PersonSummaries, 1)
	assert.Equal(t, []byte("alice-frame"), rep.PersonSummaries[0].ThumbnailBytes)
}

func TestAssignThumbnails_FallsBackToNearestNonEmptyImage(t *testing.T) {
	r := reconcile.New(newTracker(t))
	policy := compliance.Policy{Rules: []compliance.PolicyRule{incidentRule()}}
	raw := compliance.Report{
		AllVerdicts:     []compliance.Verdict{{RuleDescription: "ppe required", Compliant: true}},
		PersonSummaries: []compliance.PersonSummary{{PersonID: "carol", FirstSeen: 1.0}},
	}
	observations := []compliance.FrameObservation{
		{Timestamp: 0.9, ImageBytes: []byte("fallback-frame")},
	}

	rep := r.Finalize(time.Now(), raw, policy, observations)
	require.Len(t, rep.PersonSummaries, 1)
	assert.Equal(t, []byte("fallback-frame"), rep.PersonSummaries[0].ThumbnailBytes)
}

// TestFinalize_ApplyingTwiceIsNoop covers T9: re-applying thumbnail
// assignment over an already-finalized report must not change it.
func TestFinalize_ApplyingTwiceIsNoop(t *testing.T) {
	r := reconcile.New(newTracker(t))
	policy := compliance.Policy{Rules: []compliance.PolicyRule{incidentRule()}}
	raw := compliance.Report{
		AllVerdicts:     []compliance.Verdict{{RuleDescription: "ppe required", Compliant: true}},
		PersonSummaries: []compliance.PersonSummary{{PersonID: "dana", FirstSeen: 0}},
	}
	observations := []compliance.FrameObservation{{Timestamp: 0, ImageBytes: []byte("dana-frame"), People: []compliance.PersonDetail{{PersonID: "dana"}}}}

	once := r.Finalize(time.Now(), raw, policy, observations)
	twice := r.Finalize(time.Now(), once, policy, observations)

	assert.Equal(t, once.PersonSummaries, twice.PersonSummaries)
}
