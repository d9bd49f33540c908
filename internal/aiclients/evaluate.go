package aiclients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
)

const combinedSystemPrompt = `You are a compliance monitoring analyst reviewing a short video clip.

Evaluate the provided frames against the compliance rules and return a single
strict JSON object with this shape:
{"summary": string, "overall_compliant": bool,
 "verdicts": [{"rule_type": string, "rule_description": string, "compliant": bool,
               "severity": string, "reason": string, "timestamp": number|null}],
 "recommendations": [string],
 "person_summaries": [{"person_id": string, "appearance": string, "first_seen": number,
                        "last_seen": number, "frames_seen": number, "compliant": bool,
                        "violations": [string]}]}

Evaluate every rule exactly once. Return ONLY the JSON object.`

const evaluatorSystemPrompt = `You are a compliance evaluator. You are given a block of factual observations
(one per frame, with timestamps), the policy rules (each tagged with its mode:
"incident" rules must hold at every observation, "checklist" rules are satisfied
once per subject for a bounded window), and optionally a transcript and prior
context from earlier chunks of the same recording.

Return a single strict JSON object:
{"summary": string, "overall_compliant": bool,
 "verdicts": [{"rule_type": string, "rule_description": string, "compliant": bool,
               "severity": string, "reason": string, "timestamp": number|null}],
 "recommendations": [string],
 "person_summaries": [{"person_id": string, "appearance": string, "first_seen": number,
                        "last_seen": number, "frames_seen": number, "compliant": bool,
                        "violations": [string]}]}

Produce exactly one verdict per rule and exactly one person_summary per
distinct person_id observed. Return ONLY the JSON object.`

// reportJSON mirrors the strict schema both the combined and evaluator
// calls are asked to return.
type reportJSON struct {
	Summary          string   `json:"summary"`
	OverallCompliant bool     `json:"overall_compliant"`
	Verdicts         []struct {
		RuleType        string   `json:"rule_type"`
		RuleDescription string   `json:"rule_description"`
		Compliant       bool     `json:"compliant"`
		Severity        string   `json:"severity"`
		Reason          string   `json:"reason"`
		Timestamp       *float64 `json:"timestamp"`
	} `json:"verdicts"`
	Recommendations []string `json:"recommendations"`
	PersonSummaries []struct {
		PersonID   string   `json:"person_id"`
		Appearance string   `json:"appearance"`
		FirstSeen  float64  `json:"first_seen"`
		LastSeen   float64  `json:"last_seen"`
		FramesSeen int      `json:"frames_seen"`
		Compliant  bool     `json:"compliant"`
		Violations []string `json:"violations"`
	} `json:"person_summaries"`
}

func (r reportJSON) toReport() compliance.Report {
	rep := compliance.Report{Summary: r.Summary, OverallCompliant: r.OverallCompliant, Recommendations: r.Recommendations}
	for _, v := range r.Verdicts {
		rep.AllVerdicts = append(rep.AllVerdicts, compliance.Verdict{
			RuleType:        compliance.RuleType(v.RuleType),
			RuleDescription: v.RuleDescription,
			Compliant:       v.Compliant,
			Severity:        compliance.Severity(v.Severity),
			Reason:          v.Reason,
			Timestamp:       v.Timestamp,
		})
	}
	for _, p := range r.PersonSummaries {
		rep.PersonSummaries = append(rep.PersonSummaries, compliance.PersonSummary{
			PersonID: p.PersonID, Appearance: p.Appearance, FirstSeen: p.FirstSeen, LastSeen: p.LastSeen,
			FramesSeen: p.FramesSeen, Compliant: p.Compliant, Violations: p.Violations,
		})
	}
	return rep
}

// degradedReport is the fixed fallback when a model response can't be
// parsed as the required schema (spec.md §4.2.1, §7 ModelStructuralInvalid).
func degradedReport() compliance.Report {
	return compliance.Report{
		Summary:          "Failed to parse compliance report",
		OverallCompliant: false,
	}
}

func formatPolicyWithModes(policy compliance.Policy) string {
	if len(policy.Rules) == 0 && policy.CustomPrompt == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("Compliance rules:")
	for _, r := range policy.Rules {
		fmt.Fprintf(&b, "\n- [%s mode=%s] (%s) %s", strings.ToUpper(string(r.Severity)), r.Mode, r.Type, r.Description)
		if r.Frequency != "" {
			fmt.Fprintf(&b, " [frequency=%s]", r.Frequency)
		}
	}
	if policy.CustomPrompt != "" {
		fmt.Fprintf(&b, "\n\nAdditional context: %s", policy.CustomPrompt)
	}
	return b.String()
}

func formatObservations(observations []compliance.FrameObservation) string {
	var b strings.Builder
	for _, o := range observations {
		fmt.Fprintf(&b, "[t=%gs] %s", o.Timestamp, o.Description)
		for _, p := range o.People {
			fmt.Fprintf(&b, " | %s: %s (%s)", p.PersonID, p.Appearance, p.Details)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatTranscript(t *compliance.TranscriptResult) string {
	if t == nil || t.FullText == "" {
		return ""
	}
	return "Transcript:\n" + t.FullText
}

// CombinedAnalysis implements analyze_and_evaluate_combined: a single
// multimodal call returning the full Report schema directly. Used for
// short clips (duration < 15s) with visual rules and no speech rules.
func (c *VisionClient) CombinedAnalysis(ctx context.Context, keyframes []compliance.KeyframeData, policy compliance.Policy) (compliance.Report, error) {
	refs := policy.EnabledReferences()

	var parts []Part
	text := formatPolicyWithModes(policy)
	if text == "" {
		text = "Evaluate this clip for general compliance concerns."
	}
	if rc := buildReferenceContext(refs); rc != "" {
		text += "\n" + rc
	}
	parts = append(parts, TextPart(text))

	detail := "low"
	if len(refs) > 0 {
		detail = "auto"
		for i, ref := range refs {
			parts = append(parts, TextPart(fmt.Sprintf("[REFERENCE %d: %s]", i+1, ref.Label)))
			parts = append(parts, ReferenceImagePart(ref.ImageBytes, "auto"))
		}
	}
	for _, kf := range keyframes {
		parts = append(parts, TextPart(fmt.Sprintf("[Frame at t=%gs]", kf.Timestamp)))
		parts = append(parts, ImagePart(kf.ImageBytes, "image/jpeg", detail))
	}

	messages := []ChatMessage{
		{Role: "system", Content: []Part{TextPart(combinedSystemPrompt)}},
		{Role: "user", Content: parts},
	}

	var resp chatCompletionResponse
	err := c.envelope.Call(ctx, ratelimit.ServiceVision, c.limits, c.model, func(ctx context.Context) (int64, float64, error) {
		body := map[string]any{
			"model":       c.model,
			"messages":    renderMessages(messages),
			"max_tokens":  2000,
			"temperature": 0.1,
		}
		status, _, err := c.transport.PostJSON(ctx, "/chat/completions", body, &resp)
		if err != nil {
			return 0, 0, err
		}
		if resp.Error != nil {
			return 0, 0, fmt.Errorf("vision api error: %s", resp.Error.Message)
		}
		if status >= 500 || status == 429 {
			return 0, 0, fmt.Errorf("vision transient http status %d", status)
		}
		tokens := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		return tokens, EstimateCost(c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, 0), nil
	})
	if err != nil {
		return compliance.Report{}, err
	}
	if len(resp.Choices) == 0 {
		return degradedReport(), nil
	}

	var parsed reportJSON
	if jsonErr := json.Unmarshal([]byte(stripCodeFence(resp.Choices[0].Message.Content)), &parsed); jsonErr != nil {
		return degradedReport(), nil
	}
	return parsed.toReport(), nil
}

// EvaluateAndReport implements evaluate_and_report: a text-only call over
// formatted observations, policy, transcript, and prior context, returning
// the structured Report.
func (c *VisionClient) EvaluateAndReport(ctx context.Context, observations []compliance.FrameObservation, policy compliance.Policy, transcript *compliance.TranscriptResult) (compliance.Report, error) {
	var b strings.Builder
	b.WriteString("Observations:\n")
	b.WriteString(formatObservations(observations))
	b.WriteString("\n")
	b.WriteString(formatPolicyWithModes(policy))
	if t := formatTranscript(transcript); t != "" {
		b.WriteString("\n\n" + t)
	}
	if policy.PriorContext != "" {
		b.WriteString("\n\nPrior context from earlier chunks:\n" + policy.PriorContext)
	}

	messages := []ChatMessage{
		{Role: "system", Content: []Part{TextPart(evaluatorSystemPrompt)}},
		{Role: "user", Content: []Part{TextPart(b.String())}},
	}

	var resp chatCompletionResponse
	err := c.envelope.Call(ctx, ratelimit.ServiceVision, c.limits, c.evalModel, func(ctx context.Context) (int64, float64, error) {
		body := map[string]any{
			"model":       c.evalModel,
			"messages":    renderMessages(messages),
			"max_tokens":  2000,
			"temperature": 0.1,
		}
		status, _, err := c.transport.PostJSON(ctx, "/chat/completions", body, &resp)
		if err != nil {
			return 0, 0, err
		}
		if resp.Error != nil {
			return 0, 0, fmt.Errorf("evaluator api error: %s", resp.Error.Message)
		}
		if status >= 500 || status == 429 {
			return 0, 0, fmt.Errorf("evaluator transient http status %d", status)
		}
		tokens := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		return tokens, EstimateCost(c.evalModel, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, 0), nil
	})
	if err != nil {
		return compliance.Report{}, err
	}
	if len(resp.Choices) == 0 {
		return degradedReport(), nil
	}

	var parsed reportJSON
	if jsonErr := json.Unmarshal([]byte(stripCodeFence(resp.Choices[0].Message.Content)), &parsed); jsonErr != nil {
		return degradedReport(), nil
	}
	return parsed.toReport(), nil
}
