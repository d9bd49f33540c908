// Package reconcile turns raw model verdicts into a finalized Report:
// dual-mode filtering against the Checklist Tracker, visual/speech merge,
// and person-thumbnail assignment (spec.md §4.4).
package reconcile

import (
	"fmt"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/checklist"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

const previouslyVerifiedReason = "Previously verified (still valid)"

// Reconciler applies dual-mode filtering and merge rules against a shared
// Checklist Tracker.
type Reconciler struct {
	tracker *checklist.Tracker
}

func New(tracker *checklist.Tracker) *Reconciler {
	return &Reconciler{tracker: tracker}
}

// observedPersonIDs collects distinct person_ids across a set of frame
// observations, defaulting to {"unknown"} when none carry people.
func observedPersonIDs(observations []compliance.FrameObservation) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, o := range observations {
		for _, p := range o.People {
			if p.PersonID == "" || seen[p.PersonID] {
				continue
			}
			seen[p.PersonID] = true
			ids = append(ids, p.PersonID)
		}
	}
	if len(ids) == 0 {
		return []string{"unknown"}
	}
	return ids
}

func ruleByDescription(policy compliance.Policy) map[string]compliance.PolicyRule {
	out := make(map[string]compliance.PolicyRule, len(policy.Rules))
	for _, r := range policy.Rules {
		out[r.Description] = r
	}
	return out
}

// Finalize applies dual-mode filtering to a raw report's verdicts (tagging
// each with its rule's mode, overriding checklist verdicts against the
// tracker, and recording first observed-compliant subjects), then derives
// incidents, overall_compliant, and checklist_fulfilled. Call exactly once
// per report per spec.md's Open Question (c) resolution: thumbnails and
// checklist_fulfilled are never recomputed incrementally.
func (r *Reconciler) Finalize(now time.Time, raw compliance.Report, policy compliance.Policy, observations []compliance.FrameObservation) compliance.Report {
	rules := ruleByDescription(policy)
	personIDs := observedPersonIDs(observations)

	verdicts := make([]compliance.Verdict, 0, len(raw.AllVerdicts))
	for _, v := range raw.AllVerdicts {
		rule, ok := rules[v.RuleDescription]
		if ok {
			v.Mode = rule.Mode
		}

		if v.Mode == compliance.ModeChecklist && ok {
			v = r.applyChecklist(v, rule, personIDs, now)
		}

		verdicts = append(verdicts, v)
	}

	rep := raw
	rep.AllVerdicts = verdicts
	rep.Incidents = incidentsOf(verdicts)
	rep.OverallCompliant = overallCompliant(verdicts)
	rep.ChecklistFulfilled = checklistFulfilled(verdicts)
	rep.FrameObservations = observations
	assignThumbnails(&rep, observations)
	return rep
}

// applyChecklist implements §4.4 step 1: a cached compliant verdict for any
// observed subject overrides the model's verdict; otherwise a model-reported
// compliant verdict updates the tracker for every observed subject.
func (r *Reconciler) applyChecklist(v compliance.Verdict, rule compliance.PolicyRule, personIDs []string, now time.Time) compliance.Verdict {
	anyCached := false
	var cachedState *compliance.ChecklistState
	for _, personID := range personIDs {
		if ok, state := r.tracker.Check(personID, rule, now); ok {
			anyCached = true
			cachedState = state
			break
		}
	}

	if anyCached {
		v.Compliant = true
		v.Reason = previouslyVerifiedReason
		if cachedState != nil {
			v.ExpiresAt = cachedState.ExpiresAt
		}
	} else if v.Compliant {
		for _, personID := range personIDs {
			r.tracker.Update(personID, rule, true, now)
		}
	}

	// §4.4 step 2: checklist_status is "compliant" only when mode=checklist
	// and compliant; otherwise left unset so it serializes as absent, not
	// a literal "pending" string.
	if v.Compliant {
		v.ChecklistStatus = compliance.StatusCompliant
	}
	return v
}

func incidentsOf(verdicts []compliance.Verdict) []compliance.Verdict {
	out := make([]compliance.Verdict, 0)
	for _, v := range verdicts {
		if v.Mode == compliance.ModeIncident && !v.Compliant {
			out = append(out, v)
		}
	}
	return out
}

// overallCompliant implements T2: the AND of every incident-mode verdict,
// ignoring checklist-mode verdicts entirely.
func overallCompliant(verdicts []compliance.Verdict) bool {
	for _, v := range verdicts {
		if v.Mode == compliance.ModeIncident && !v.Compliant {
			return false
		}
	}
	return true
}

// checklistFulfilled implements T3: null iff no checklist-mode verdict
// exists, otherwise the AND over every checklist-mode verdict.
func checklistFulfilled(verdicts []compliance.Verdict) *bool {
	found := false
	ok := true
	for _, v := range verdicts {
		if v.Mode != compliance.ModeChecklist {
			continue
		}
		found = true
		if !v.Compliant {
			ok = false
		}
	}
	if !found {
		return nil
	}
	return &ok
}

// MergeSpeech implements §4.4's merge rules: visual report ⊕ speech
// verdicts. speechVerdicts may be nil when there were no speech rules at
// all — callers should skip the call in that case, but it is safe to call
// with an empty speechVerdicts too (a no-op merge).
func MergeSpeech(visual compliance.Report, speechVerdicts []compliance.Verdict) compliance.Report {
	if len(speechVerdicts) == 0 {
		return visual
	}

	rep := visual
	rep.AllVerdicts = append(append([]compliance.Verdict{}, visual.AllVerdicts...), speechVerdicts...)

	nonCompliantIncidentSpeech := 0
	for _, v := range speechVerdicts {
		if v.Mode == compliance.ModeIncident && !v.Compliant {
			rep.Incidents = append(rep.Incidents, v)
			nonCompliantIncidentSpeech++
		}
	}

	anyNonCompliantSpeech := false
	for _, v := range speechVerdicts {
		if !v.Compliant {
			anyNonCompliantSpeech = true
			break
		}
	}
	if anyNonCompliantSpeech {
		rep.OverallCompliant = overallCompliant(rep.AllVerdicts)
		rep.Summary += fmt.Sprintf(" Speech: %d audio violation(s).", countNonCompliant(speechVerdicts))
	}

	rep.ChecklistFulfilled = checklistFulfilled(rep.AllVerdicts)
	return rep
}

func countNonCompliant(verdicts []compliance.Verdict) int {
	n := 0
	for _, v := range verdicts {
		if !v.Compliant {
			n++
		}
	}
	return n
}

// assignThumbnails implements §4.4's person-thumbnail rule: nearest
// observation to first_seen whose people list names the subject, falling
// back to the nearest observation carrying any image at all.
func assignThumbnails(rep *compliance.Report, observations []compliance.FrameObservation) {
	for i, person := range rep.PersonSummaries {
		img := nearestMatchingImage(observations, person.PersonID, person.FirstSeen)
		if img == nil {
			img = nearestNonEmptyImage(observations, person.FirstSeen)
		}
		if img != nil {
			rep.PersonSummaries[i].ThumbnailBytes = img
		}
	}
}

func nearestMatchingImage(observations []compliance.FrameObservation, personID string, firstSeen float64) []byte {
	var best []byte
	bestDist := -1.0
	for _, o := range observations {
		if len(o.ImageBytes) == 0 {
			continue
		}
		matches := false
		for _, p := range o.People {
			if p.PersonID == personID {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		dist := absFloat(o.Timestamp - firstSeen)
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = o.ImageBytes
		}
	}
	return best
}

func nearestNonEmptyImage(observations []compliance.FrameObservation, firstSeen float64) []byte {
	var best []byte
	bestDist := -1.0
	for _, o := range observations {
		if len(o.ImageBytes) == 0 {
			continue
		}
		dist := absFloat(o.Timestamp - firstSeen)
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = o.ImageBytes
		}
	}
	return best
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
