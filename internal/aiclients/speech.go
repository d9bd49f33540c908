package aiclients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
)

// extractAudioMinBytes is the floor below which an "extracted" wav is
// treated as no usable audio track.
const extractAudioMinBytes = 1000

// extractAudioTimeout bounds the external ffmpeg transcode (spec.md §5:
// "Speech extraction: 60s hard wall").
const extractAudioTimeout = 60 * time.Second

// SpeechClient extracts the audio track from a video and transcribes it.
type SpeechClient struct {
	transport *Transport
	envelope  *Envelope
	model     string
	limits    ratelimit.LimitConfig
}

func NewSpeechClient(transport *Transport, envelope *Envelope, model string, limits ratelimit.LimitConfig) *SpeechClient {
	return &SpeechClient{transport: transport, envelope: envelope, model: model, limits: limits}
}

// extractAudio shells out to ffmpeg to produce a mono 16kHz PCM WAV. It
// returns nil bytes (not an error) when the video has no usable audio
// track — that is a normal outcome, not a failure.
func extractAudio(ctx context.Context, videoPath string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, extractAudioTimeout)
	defer cancel()

	tmp, err := os.CreateTemp("", "speech-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	audioPath := tmp.Name()
	tmp.Close()
	defer os.Remove(audioPath)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y", audioPath,
	)
	_ = cmd.Run() // non-zero exit still checked via output size below

	info, statErr := os.Stat(audioPath)
	if statErr != nil || info.Size() < extractAudioMinBytes {
		return nil, nil
	}
	return os.ReadFile(audioPath)
}

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// TranscribeVideo runs the two-phase pipeline: extract audio, then
// transcribe. Returns (nil, nil) when the video has no usable audio track.
func (c *SpeechClient) TranscribeVideo(ctx context.Context, videoPath string) (*compliance.TranscriptResult, error) {
	audio, err := extractAudio(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if audio == nil {
		return nil, nil
	}
	return c.transcribeAudio(ctx, audio)
}

func (c *SpeechClient) transcribeAudio(ctx context.Context, wavBytes []byte) (*compliance.TranscriptResult, error) {
	var resp transcriptionResponse
	var audioSeconds float64

	err := c.envelope.Call(ctx, ratelimit.ServiceSpeech, c.limits, c.model, func(ctx context.Context) (int64, float64, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", "audio.wav")
		if err != nil {
			return 0, 0, err
		}
		if _, err := part.Write(wavBytes); err != nil {
			return 0, 0, err
		}
		_ = w.WriteField("model", c.model)
		_ = w.WriteField("response_format", "verbose_json")
		_ = w.WriteField("timestamp_granularities[]", "segment")
		if err := w.Close(); err != nil {
			return 0, 0, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.transport.BaseURL+"/audio/transcriptions", &buf)
		if err != nil {
			return 0, 0, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		if c.transport.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.transport.APIKey)
		}

		httpResp, err := c.transport.HTTP.Do(req)
		if err != nil {
			return 0, 0, err
		}
		defer httpResp.Body.Close()

		if decodeErr := json.NewDecoder(httpResp.Body).Decode(&resp); decodeErr != nil {
			return 0, 0, fmt.Errorf("decode transcription response: %w", decodeErr)
		}
		if resp.Error != nil {
			return 0, 0, fmt.Errorf("speech api error: %s", resp.Error.Message)
		}
		if httpResp.StatusCode >= 500 || httpResp.StatusCode == 429 {
			return 0, 0, fmt.Errorf("speech transient http status %d", httpResp.StatusCode)
		}

		audioSeconds = resp.Duration
		return 0, EstimateCost("whisper-1", 0, 0, audioSeconds), nil
	})
	if err != nil {
		return nil, err
	}

	result := &compliance.TranscriptResult{
		FullText: resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
	}
	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, compliance.TranscriptSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return result, nil
}

const speechEvaluatorSystemPrompt = `You are a compliance evaluator judging spoken content against speech-only
policy rules. You are given the full transcript of a recording and the rules
to check (each tagged with its mode: "incident" rules must hold throughout,
"checklist" rules are satisfied once per subject).

Return a single strict JSON object, one verdict per rule, with this shape:
{"summary": string, "overall_compliant": bool,
 "verdicts": [{"rule_type": "speech", "rule_description": string, "compliant": bool,
               "severity": string, "reason": string, "timestamp": number|null}],
 "recommendations": [string], "person_summaries": []}

Return ONLY the JSON object.`

// allRulesNonCompliant marks every speech rule non-compliant with the same
// reason, the shape evaluate_speech falls back to whenever it can't produce
// a real verdict — no transcript to evaluate, or a parse failure on the
// model's response — rather than silently dropping the rules from
// all_verdicts.
func allRulesNonCompliant(speechRules []compliance.PolicyRule, reason string) compliance.Report {
	verdicts := make([]compliance.Verdict, len(speechRules))
	for i, rule := range speechRules {
		verdicts[i] = compliance.Verdict{
			RuleType:        rule.Type,
			RuleDescription: rule.Description,
			Compliant:       false,
			Severity:        rule.Severity,
			Reason:          reason,
		}
	}
	return compliance.Report{Summary: reason, OverallCompliant: false, AllVerdicts: verdicts}
}

// EvaluateSpeech produces one verdict per speech rule by evaluating the
// combined transcript text-only (spec.md §4.2.1's evaluate_and_report
// counterpart for the speech side of a merge).
func (c *SpeechClient) EvaluateSpeech(ctx context.Context, transcriptText string, speechRules []compliance.PolicyRule) (compliance.Report, error) {
	if len(speechRules) == 0 {
		return compliance.Report{}, nil
	}
	if transcriptText == "" {
		return allRulesNonCompliant(speechRules, "No audio transcript available. Cannot evaluate speech compliance."), nil
	}

	policy := compliance.Policy{Rules: speechRules}
	var b bytes.Buffer
	b.WriteString("Transcript:\n")
	b.WriteString(transcriptText)
	b.WriteString("\n\n")
	b.WriteString(formatPolicyWithModes(policy))

	messages := []ChatMessage{
		{Role: "system", Content: []Part{TextPart(speechEvaluatorSystemPrompt)}},
		{Role: "user", Content: []Part{TextPart(b.String())}},
	}

	var resp chatCompletionResponse
	err := c.envelope.Call(ctx, ratelimit.ServiceSpeech, c.limits, c.model, func(ctx context.Context) (int64, float64, error) {
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
			return 0, 0, fmt.Errorf("speech evaluator api error: %s", resp.Error.Message)
		}
		if status >= 500 || status == 429 {
			return 0, 0, fmt.Errorf("speech evaluator transient http status %d", status)
		}
		tokens := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		return tokens, EstimateCost(c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, 0), nil
	})
	if err != nil {
		return compliance.Report{}, err
	}
	if len(resp.Choices) == 0 {
		return allRulesNonCompliant(speechRules, "Failed to parse speech evaluation from LLM."), nil
	}

	var parsed reportJSON
	if jsonErr := json.Unmarshal([]byte(stripCodeFence(resp.Choices[0].Message.Content)), &parsed); jsonErr != nil {
		return allRulesNonCompliant(speechRules, "Failed to parse speech evaluation from LLM."), nil
	}
	return parsed.toReport(), nil
}
