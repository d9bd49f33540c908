package aiclients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
)

// RemoteGPUTimeout bounds a single analyzer request (spec.md §5: "Remote
// GPU analyzer: 300s").
const RemoteGPUTimeout = 300 * time.Second

// remoteGPUMaxConcurrent caps parallel batch submissions regardless of the
// caller-requested concurrency (spec.md §4.2.3: "at most M (capped at 5)").
const remoteGPUMaxConcurrent = 5

const remoteGPUFrameRate = 4

func remoteGPUPrompt(policy compliance.Policy) string {
	var b strings.Builder
	b.WriteString("You are a security camera AI compliance monitor.\n\nCOMPLIANCE RULES TO CHECK:\n")
	for i, r := range policy.Rules {
		fmt.Fprintf(&b, "  %d. [%s] (%s) %s\n", i+1, strings.ToUpper(string(r.Severity)), r.Type, r.Description)
	}
	if policy.CustomPrompt != "" {
		fmt.Fprintf(&b, "\nADDITIONAL CONTEXT: %s\n", policy.CustomPrompt)
	}
	b.WriteString(`
Analyze the video and evaluate compliance against ALL rules above.
Respond with a strict JSON object:
{"overall_status": "compliant"|"non_compliant", "summary": string,
 "verdicts": [{"rule_description": string, "compliant": bool, "severity": string, "reason": string}]}
Return ONLY the JSON.`)
	return b.String()
}

// framesToMP4 encodes a sequence of decoded JPEG frames into a minimal mp4
// container at remoteGPUFrameRate fps, matching the format the remote
// analyzer's Cosmos pipeline expects (spec.md §4.2.3).
//
// There is no mp4 muxer in this module's dependency set; rather than
// hand-roll box-level mp4 encoding (a large undertaking orthogonal to the
// compliance domain), frames are written through ffmpeg's mjpeg demuxer
// via stdin, mirroring the os/exec transcoder pattern already used for audio
// extraction in speech.go.
func framesToMP4(ctx context.Context, frames [][]byte) ([]byte, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames provided for mp4 conversion")
	}

	tmp, err := os.CreateTemp("", "remotegpu-*.mp4")
	if err != nil {
		return nil, err
	}
	outPath := tmp.Name()
	tmp.Close()
	defer os.Remove(outPath)

	var buf bytes.Buffer
	for _, f := range frames {
		img, decErr := decodeJPEG(f)
		if decErr != nil {
			continue
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, err
		}
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("all frames failed to decode")
	}

	cmd := newFFmpegPipeCmd(ctx, outPath)
	cmd.Stdin = &buf
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg mp4 mux: %w", err)
	}

	return os.ReadFile(outPath)
}

func decodeJPEG(b []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(b))
}

// newFFmpegPipeCmd muxes an MJPEG stream read from stdin into an mp4 file
// at remoteGPUFrameRate fps.
func newFFmpegPipeCmd(ctx context.Context, outPath string) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg",
		"-f", "mjpeg",
		"-r", strconv.Itoa(remoteGPUFrameRate),
		"-i", "pipe:0",
		"-y", outPath,
	)
}

type remoteGPUResponse struct {
	Error    json.RawMessage `json:"error"`
	Choices  []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	OverallStatus string `json:"overall_status"`
	Summary       string `json:"summary"`
	Verdicts      []struct {
		RuleDescription string `json:"rule_description"`
		Compliant       bool   `json:"compliant"`
		Severity        string `json:"severity"`
		Reason          string `json:"reason"`
	} `json:"verdicts"`
}

// RemoteGPUClient talks to an OpenAI-compatible proxy in front of a
// self-hosted vision pipeline, packaging frame batches as short mp4 clips.
type RemoteGPUClient struct {
	transport *Transport
	envelope  *Envelope
	modelID   string
	limits    ratelimit.LimitConfig
}

func NewRemoteGPUClient(transport *Transport, envelope *Envelope, modelID string, limits ratelimit.LimitConfig) *RemoteGPUClient {
	return &RemoteGPUClient{transport: transport, envelope: envelope, modelID: modelID, limits: limits}
}

// AnalyzeFrames packages frames into an mp4 clip and submits it with the
// compliance prompt. The wire contract parses the JSON body for an "error"
// key before consulting HTTP status, since the proxy can return a JSON
// error field even under a 2xx status.
func (c *RemoteGPUClient) AnalyzeFrames(ctx context.Context, frames [][]byte, policy compliance.Policy) (compliance.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, RemoteGPUTimeout)
	defer cancel()

	mp4, err := framesToMP4(ctx, frames)
	if err != nil {
		return degradedRemoteReport(fmt.Sprintf("failed to build video clip: %v", err)), nil
	}

	messages := []ChatMessage{
		{Role: "user", Content: []Part{
			VideoClipPart(mp4, "video/mp4"),
			TextPart(remoteGPUPrompt(policy)),
		}},
	}

	var resp remoteGPUResponse
	var rawBody []byte
	err = c.envelope.Call(ctx, ratelimit.ServiceRemoteGPU, c.limits, c.modelID, func(ctx context.Context) (int64, float64, error) {
		body := map[string]any{
			"model":       c.modelID,
			"messages":    renderMessages(messages),
			"max_tokens":  2048,
			"temperature": 0.6,
		}
		var status int
		status, rawBody, err = c.transport.PostJSON(ctx, "/v1/chat/completions", body, nil)
		if err != nil {
			return 0, 0, err
		}
		_ = json.Unmarshal(rawBody, &resp)
		if len(resp.Error) > 0 && string(resp.Error) != "null" {
			return 0, 0, fmt.Errorf("remote gpu analyzer error: %s", string(resp.Error))
		}
		if status >= 500 {
			return 0, 0, fmt.Errorf("remote gpu analyzer transient http status %d", status)
		}
		return 0, 0, nil
	})
	if err != nil {
		return degradedRemoteReport(err.Error()), nil
	}

	return parseRemoteGPUResponse(resp, policy), nil
}

func degradedRemoteReport(reason string) compliance.Report {
	return compliance.Report{Summary: "Remote GPU analyzer error: " + reason, OverallCompliant: false}
}

func parseRemoteGPUResponse(resp remoteGPUResponse, policy compliance.Policy) compliance.Report {
	raw := resp.Summary
	status := resp.OverallStatus
	verdictsRaw := resp.Verdicts

	if len(resp.Choices) > 0 {
		content := stripCodeFence(resp.Choices[0].Message.Content)
		var parsed struct {
			OverallStatus string `json:"overall_status"`
			Summary       string `json:"summary"`
			Verdicts      []struct {
				RuleDescription string `json:"rule_description"`
				Compliant       bool   `json:"compliant"`
				Severity        string `json:"severity"`
				Reason          string `json:"reason"`
			} `json:"verdicts"`
		}
		if jsonErr := json.Unmarshal([]byte(content), &parsed); jsonErr == nil {
			status, raw, verdictsRaw = parsed.OverallStatus, parsed.Summary, parsed.Verdicts
		} else {
			return compliance.Report{Summary: content, OverallCompliant: false}
		}
	}

	overallCompliant := status == "compliant" || status == "clear" || status == "ok"
	if raw == "" {
		raw = fmt.Sprintf("Remote GPU status: %s", strings.ToUpper(status))
	}

	rep := compliance.Report{Summary: raw, OverallCompliant: overallCompliant}
	for _, v := range verdictsRaw {
		verdict := compliance.Verdict{
			RuleType:        compliance.RuleCustom,
			RuleDescription: v.RuleDescription,
			Compliant:       v.Compliant,
			Severity:        compliance.Severity(v.Severity),
			Reason:          v.Reason,
		}
		rep.AllVerdicts = append(rep.AllVerdicts, verdict)
		if !verdict.Compliant {
			rep.Incidents = append(rep.Incidents, verdict)
		}
	}
	return rep
}

// ParallelBatches splits each of the k batches into chunks of at most 4
// frames and submits every chunk, at most remoteGPUMaxConcurrent (or the
// caller's lower request) running simultaneously. It returns one Report per
// chunk, in input order, for the caller to merge.
func (c *RemoteGPUClient) ParallelBatches(ctx context.Context, batches [][][]byte, policy compliance.Policy, maxConcurrent int) []compliance.Report {
	if maxConcurrent <= 0 || maxConcurrent > remoteGPUMaxConcurrent {
		maxConcurrent = remoteGPUMaxConcurrent
	}

	const chunkFrames = 4
	var chunks [][][]byte
	for _, batch := range batches {
		for start := 0; start < len(batch); start += chunkFrames {
			end := start + chunkFrames
			if end > len(batch) {
				end = len(batch)
			}
			chunks = append(chunks, batch[start:end])
		}
	}

	results := make([]compliance.Report, len(chunks))
	sem := make(chan struct{}, maxConcurrent)
	done := make(chan int, len(chunks))

	for i, chunk := range chunks {
		i, chunk := i, chunk
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- i }()
			results[i], _ = c.AnalyzeFrames(ctx, chunk, policy)
		}()
	}
	for range chunks {
		<-done
	}
	return results
}
