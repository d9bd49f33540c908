package checklist_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/checklist"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "checklist.json")
}

func badgeRule(validitySeconds int64) compliance.PolicyRule {
	return compliance.PolicyRule{
		Type:             compliance.RuleBadge,
		Description:      "badge required",
		Severity:         compliance.SeverityHigh,
		Mode:             compliance.ModeChecklist,
		ValidityDuration: &validitySeconds,
	}
}

func TestTracker_CheckMissingReturnsFalse(t *testing.T) {
	tr := checklist.New(tempPath(t))
	ok, state := tr.Check("p1", badgeRule(60), time.Now())
	assert.False(t, ok)
	assert.Nil(t, state)
}

func TestTracker_UpdateThenCheckCompliant(t *testing.T) {
	tr := checklist.New(tempPath(t))
	rule := badgeRule(60)
	now := time.Now().UTC()

	tr.Update("p1", rule, true, now)
	ok, state := tr.Check("p1", rule, now.Add(30*time.Second))
	require.NotNil(t, state)
	assert.True(t, ok)
	assert.Equal(t, compliance.StatusCompliant, state.Status)
}

func TestTracker_ExpiredEntryReportsNonCompliant(t *testing.T) {
	tr := checklist.New(tempPath(t))
	rule := badgeRule(10)
	now := time.Now().UTC()

	tr.Update("p1", rule, true, now)
	ok, state := tr.Check("p1", rule, now.Add(20*time.Second))
	require.NotNil(t, state)
	assert.False(t, ok)
	assert.Equal(t, compliance.StatusExpired, state.Status)
}

func TestTracker_IncidentModeRuleNeverCached(t *testing.T) {
	tr := checklist.New(tempPath(t))
	rule := compliance.PolicyRule{Type: compliance.RulePPE, Description: "ppe", Mode: compliance.ModeIncident}

	tr.Update("p1", rule, true, time.Now())
	ok, state := tr.Check("p1", rule, time.Now())
	assert.False(t, ok)
	assert.Nil(t, state)
}

func TestTracker_ClearExpiredRemovesEmptyBuckets(t *testing.T) {
	tr := checklist.New(tempPath(t))
	rule := badgeRule(5)
	now := time.Now().UTC()
	tr.Update("p1", rule, true, now)

	tr.ClearExpired(now.Add(time.Hour))
	exported := tr.Export()
	assert.Empty(t, exported)
}

func TestTracker_Reset(t *testing.T) {
	tr := checklist.New(tempPath(t))
	tr.Update("p1", badgeRule(60), true, time.Now())
	tr.Reset()
	assert.Empty(t, tr.Export())
}

func TestTracker_ChecklistListsOnlyChecklistModeRules(t *testing.T) {
	tr := checklist.New(tempPath(t))
	checklistRule := badgeRule(60)
	incidentRule := compliance.PolicyRule{Type: compliance.RulePPE, Description: "ppe", Mode: compliance.ModeIncident}
	now := time.Now().UTC()

	tr.Update("p1", checklistRule, true, now)
	items := tr.Checklist("p1", []compliance.PolicyRule{checklistRule, incidentRule}, now)

	require.Len(t, items, 1)
	assert.Equal(t, compliance.StatusCompliant, items[0].Status)
	require.NotNil(t, items[0].TimeRemaining)
	assert.Greater(t, *items[0].TimeRemaining, int64(0))
}

// TestTracker_ExportImportRoundTrip confirms exporting a tracker's state and
// importing it into a fresh tracker backed by a different file reproduces
// identical Checklist query results — the round-trip idempotence property.
func TestTracker_ExportImportRoundTrip(t *testing.T) {
	src := checklist.New(tempPath(t))
	rule := badgeRule(120)
	now := time.Now().UTC()
	src.Update("p1", rule, true, now)
	src.Update("p2", rule, false, now)

	snap := src.Export()

	dst := checklist.New(tempPath(t))
	dst.Import(snap)

	beforeItems := src.Checklist("p1", []compliance.PolicyRule{rule}, now)
	afterItems := dst.Checklist("p1", []compliance.PolicyRule{rule}, now)
	require.Len(t, beforeItems, 1)
	require.Len(t, afterItems, 1)
	assert.Equal(t, beforeItems[0].Status, afterItems[0].Status)

	assert.Equal(t, src.Export(), dst.Export())
}

func TestTracker_LoadsPersistedStateFromDisk(t *testing.T) {
	path := tempPath(t)
	tr := checklist.New(path)
	rule := badgeRule(120)
	now := time.Now().UTC()
	tr.Update("p1", rule, true, now)

	reloaded := checklist.New(path)
	ok, state := reloaded.Check("p1", rule, now)
	require.NotNil(t, state)
	assert.True(t, ok)
}

func TestTracker_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	tr := checklist.New(path)
	assert.Empty(t, tr.Export())
}

func TestTracker_CorruptFileStartsEmptyWithoutPanic(t *testing.T) {
	path := tempPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	tr := checklist.New(path)
	assert.Empty(t, tr.Export())
}

func TestTracker_RuleHashIsStableAndEightHexChars(t *testing.T) {
	rule := badgeRule(60)
	h1 := checklist.RuleHash(rule)
	h2 := checklist.RuleHash(rule)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 8)
}

func TestTracker_PersistedFileIsValidJSON(t *testing.T) {
	path := tempPath(t)
	tr := checklist.New(path)
	tr.Update("p1", badgeRule(60), true, time.Now())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]map[string]compliance.ChecklistState
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Contains(t, out, "p1")
}
