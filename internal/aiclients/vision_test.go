package aiclients

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

func TestBatchSize_ShrinksWithReferenceCount(t *testing.T) {
	assert.Equal(t, 5, batchSize(0))
	assert.Equal(t, 3, batchSize(2))
	assert.Equal(t, 1, batchSize(5))
	assert.Equal(t, 1, batchSize(8), "never below 1 even with more references than the base batch size")
}

func TestBuildObserveMessages_FramesLowDetailReferencesAuto(t *testing.T) {
	policy := compliance.Policy{
		Rules:               []compliance.PolicyRule{{Type: compliance.RuleBadge, Description: "badge required", Severity: compliance.SeverityHigh}},
		EnabledReferenceIDs: map[string]bool{"r1": true},
		ReferenceImages:     []compliance.ReferenceImage{{ID: "r1", Label: "Kuzey", ImageBytes: []byte{1, 2, 3}, MatchMode: compliance.MatchMust, Category: compliance.RefPeople}},
	}
	refs := policy.EnabledReferences()
	batch := []compliance.KeyframeData{{Timestamp: 1.5, ImageBytes: []byte{4, 5, 6}}}

	messages := buildObserveMessages(batch, policy, refs)
	assert.Len(t, messages, 2)

	userParts := messages[1].Content
	var sawRefAuto, sawFrameLow bool
	for _, p := range userParts {
		if p.Kind == PartImage && p.ImageDetail == "auto" {
			sawRefAuto = true
		}
		if p.Kind == PartImage && p.ImageDetail == "low" {
			sawFrameLow = true
		}
	}
	assert.True(t, sawRefAuto, "reference images must use detail=auto")
	assert.True(t, sawFrameLow, "frame images must use detail=low")
}

func TestStripCodeFence_RemovesMarkdownWrapper(t *testing.T) {
	assert.Equal(t, `[{"a":1}]`, stripCodeFence("```json\n[{\"a\":1}]\n```"))
	assert.Equal(t, `[{"a":1}]`, stripCodeFence(`[{"a":1}]`))
}

func TestPlaceholderObservations_TagsEveryFrame(t *testing.T) {
	batch := []compliance.KeyframeData{{Timestamp: 0}, {Timestamp: 1}}
	out := placeholderObservations(batch, "raw text")
	assert.Len(t, out, 2)
	for _, o := range out {
		assert.Equal(t, "raw text", o.Description)
	}
}
