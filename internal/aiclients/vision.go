package aiclients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
)

const visionSystemPrompt = `You are a visual surveillance analyst for a compliance monitoring system.

For each image provided, describe what you see concisely and factually: people
(count, clothing, badges, PPE, posture, actions), objects, environment, and
actions taking place.

If reference images of people are provided, compare each visible person
against them. A strong match uses the reference label as person_id; otherwise
assign a generic id ("Person_A", "Person_B", ...) and keep it stable across
frames in this call.

Output a JSON array, one object per image, in the same order as the images:
{"timestamp": number, "description": string, "people": [{"person_id": string, "appearance": string, "details": string}]}`

// VisionClient is the "eyes" of the pipeline: batches keyframes to a vision
// model and returns structured per-frame observations, and also performs
// the combined short-chunk analysis and text-only policy evaluation.
type VisionClient struct {
	transport *Transport
	envelope  *Envelope
	model     string
	evalModel string
	limits    ratelimit.LimitConfig
}

func NewVisionClient(transport *Transport, envelope *Envelope, model, evalModel string, limits ratelimit.LimitConfig) *VisionClient {
	return &VisionClient{transport: transport, envelope: envelope, model: model, evalModel: evalModel, limits: limits}
}

// batchSize returns max(1, 5 - len(refs)) per spec.md §4.2.1.
func batchSize(refs int) int {
	b := 5 - refs
	if b < 1 {
		b = 1
	}
	return b
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

// ObserveBatch implements analyze_frames: keyframes are grouped into
// concurrent batches and each batch produces one structured observation per
// frame. Per-batch failures degrade to placeholder observations and never
// fail the overall call.
func (c *VisionClient) ObserveBatch(ctx context.Context, keyframes []compliance.KeyframeData, policy compliance.Policy) []compliance.FrameObservation {
	if len(keyframes) == 0 {
		return nil
	}

	refs := policy.EnabledReferences()
	size := batchSize(len(refs))

	var batches [][]compliance.KeyframeData
	for i := 0; i < len(keyframes); i += size {
		end := i + size
		if end > len(keyframes) {
			end = len(keyframes)
		}
		batches = append(batches, keyframes[i:end])
	}

	results := make([][]compliance.FrameObservation, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []compliance.KeyframeData) {
			defer wg.Done()
			results[i] = c.observeBatch(ctx, batch, policy, refs)
		}(i, batch)
	}
	wg.Wait()

	var out []compliance.FrameObservation
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (c *VisionClient) observeBatch(ctx context.Context, batch []compliance.KeyframeData, policy compliance.Policy, refs []compliance.ReferenceImage) []compliance.FrameObservation {
	messages := buildObserveMessages(batch, policy, refs)

	var resp chatCompletionResponse
	err := c.envelope.Call(ctx, ratelimit.ServiceVision, c.limits, c.model, func(ctx context.Context) (int64, float64, error) {
		body := map[string]any{
			"model":       c.model,
			"messages":    renderMessages(messages),
			"max_tokens":  1000,
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
		cost := EstimateCost(c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, 0)
		return tokens, cost, nil
	})

	if err != nil {
		out := make([]compliance.FrameObservation, len(batch))
		for i, kf := range batch {
			out[i] = compliance.FrameObservation{
				Timestamp:   kf.Timestamp,
				Description: fmt.Sprintf("[VLM ERROR] %v", err),
				Trigger:     kf.Trigger,
				ChangeScore: kf.ChangeScore,
				ImageBytes:  kf.ImageBytes,
			}
		}
		return out
	}

	if len(resp.Choices) == 0 {
		return placeholderObservations(batch, "no response from vision model")
	}
	raw := stripCodeFence(resp.Choices[0].Message.Content)

	var parsed []struct {
		Timestamp   float64 `json:"timestamp"`
		Description string  `json:"description"`
		People      []struct {
			PersonID   string `json:"person_id"`
			Appearance string `json:"appearance"`
			Details    string `json:"details"`
		} `json:"people"`
	}
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
		return placeholderObservations(batch, raw)
	}

	out := make([]compliance.FrameObservation, len(batch))
	for i, kf := range batch {
		obs := compliance.FrameObservation{Timestamp: kf.Timestamp, Trigger: kf.Trigger, ChangeScore: kf.ChangeScore, ImageBytes: kf.ImageBytes}
		if i < len(parsed) {
			obs.Description = parsed[i].Description
			for _, p := range parsed[i].People {
				obs.People = append(obs.People, compliance.PersonDetail{PersonID: p.PersonID, Appearance: p.Appearance, Details: p.Details})
			}
		} else {
			obs.Description = "No observation returned for this frame."
		}
		out[i] = obs
	}
	return out
}

func placeholderObservations(batch []compliance.KeyframeData, rawText string) []compliance.FrameObservation {
	out := make([]compliance.FrameObservation, len(batch))
	for i, kf := range batch {
		out[i] = compliance.FrameObservation{
			Timestamp:   kf.Timestamp,
			Description: rawText,
			Trigger:     kf.Trigger,
			ChangeScore: kf.ChangeScore,
			ImageBytes:  kf.ImageBytes,
		}
	}
	return out
}

func buildPolicyContext(policy compliance.Policy) string {
	if len(policy.Rules) == 0 && policy.CustomPrompt == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("Pay special attention to the following compliance requirements:")
	for _, r := range policy.Rules {
		fmt.Fprintf(&b, "\n- [%s] %s", strings.ToUpper(string(r.Severity)), r.Description)
	}
	if policy.CustomPrompt != "" {
		fmt.Fprintf(&b, "\n\nAdditional context: %s", policy.CustomPrompt)
	}
	return b.String()
}

func buildReferenceContext(refs []compliance.ReferenceImage) string {
	if len(refs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nVISUAL REFERENCE IMAGES are provided before the surveillance frames.\n")
	b.WriteString("For EACH reference image, answer the specific checks listed below.\n\n")
	for i, ref := range refs {
		modeLabel := "UNAUTHORIZED"
		if ref.MatchMode == compliance.MatchMust {
			modeLabel = "AUTHORIZED"
		}
		category := strings.ToUpper(string(ref.Category))
		if category == "" {
			category = "REFERENCE"
		}
		fmt.Fprintf(&b, "  REFERENCE %d [%s] [%s]: %q\n", i+1, category, modeLabel, ref.Label)
		if len(ref.Checks) > 0 {
			b.WriteString("    Checks for this reference:\n")
			for ci, check := range ref.Checks {
				if strings.TrimSpace(check) != "" {
					fmt.Fprintf(&b, "      %d. %s\n", ci+1, check)
				}
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("For each reference, answer each check explicitly: state YES or NO, then explain. " +
		"For people references, compare face, hair, build, clothing. If a person matches, use the reference label as person_id.")
	return b.String()
}

func buildObserveMessages(batch []compliance.KeyframeData, policy compliance.Policy, refs []compliance.ReferenceImage) []ChatMessage {
	var parts []Part

	tsList := make([]string, len(batch))
	for i, kf := range batch {
		tsList[i] = fmt.Sprintf("%gs", kf.Timestamp)
	}
	text := fmt.Sprintf("Analyze the following %d frame(s) from a surveillance video (timestamps: %s).", len(batch), strings.Join(tsList, ", "))
	if pc := buildPolicyContext(policy); pc != "" {
		text += "\n\n" + pc
	}
	if rc := buildReferenceContext(refs); rc != "" {
		text += "\n" + rc
	}
	parts = append(parts, TextPart(text))

	for i, ref := range refs {
		parts = append(parts, TextPart(fmt.Sprintf("[REFERENCE %d: %s]", i+1, ref.Label)))
		parts = append(parts, ReferenceImagePart(ref.ImageBytes, "auto"))
	}
	if len(refs) > 0 {
		parts = append(parts, TextPart("[SURVEILLANCE FRAMES BELOW]"))
	}

	for _, kf := range batch {
		parts = append(parts, TextPart(fmt.Sprintf("[Frame at t=%gs]", kf.Timestamp)))
		parts = append(parts, ImagePart(kf.ImageBytes, "image/jpeg", "low"))
	}

	return []ChatMessage{
		{Role: "system", Content: []Part{TextPart(visionSystemPrompt)}},
		{Role: "user", Content: parts},
	}
}
