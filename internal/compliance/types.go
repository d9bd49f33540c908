// Package compliance defines the data model shared by every stage of the
// analysis pipeline: policies in, reports out.
package compliance

import "time"

// RuleType enumerates the kinds of checks a PolicyRule can express.
type RuleType string

const (
	RuleBadge       RuleType = "badge"
	RulePPE         RuleType = "ppe"
	RulePresence    RuleType = "presence"
	RuleAction      RuleType = "action"
	RuleEnvironment RuleType = "environment"
	RuleSpeech      RuleType = "speech"
	RuleCustom      RuleType = "custom"
)

// Severity is the impact level of a rule violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Mode distinguishes rules that must hold at every observation (incident)
// from rules satisfied once per subject for a bounded window (checklist).
type Mode string

const (
	ModeIncident  Mode = "incident"
	ModeChecklist Mode = "checklist"
)

// Frequency is carried on the wire for compatibility with the evaluator
// prompt text but is never branched on by Go code — see DESIGN.md's
// Open Question (a) resolution. Mode + ValidityDuration is authoritative.
type Frequency string

const (
	FrequencyAlways       Frequency = "always"
	FrequencyAtLeastOnce  Frequency = "at_least_once"
	FrequencyAtLeastN     Frequency = "at_least_n"
)

// MatchMode is how a ReferenceImage should be treated during comparison.
type MatchMode string

const (
	MatchMust    MatchMode = "must_match"
	MatchMustNot MatchMode = "must_not_match"
)

// ReferenceCategory groups reference images by subject.
type ReferenceCategory string

const (
	RefPeople  ReferenceCategory = "people"
	RefBadges  ReferenceCategory = "badges"
	RefObjects ReferenceCategory = "objects"
)

// Trigger names why a keyframe was captured.
type Trigger string

const (
	TriggerFirst       Trigger = "first"
	TriggerChange      Trigger = "change"
	TriggerMaxGap      Trigger = "max_gap"
	TriggerSample      Trigger = "sample"
	TriggerLast        Trigger = "last"
	TriggerWebcamFrame Trigger = "webcam_frame"
)

// ChecklistStatus is the lifecycle state of a cached checklist verdict.
type ChecklistStatus string

const (
	StatusPending   ChecklistStatus = "pending"
	StatusCompliant ChecklistStatus = "compliant"
	StatusExpired   ChecklistStatus = "expired"
)

// PolicyRule is one clause of a Policy.
type PolicyRule struct {
	Type             RuleType  `json:"type"`
	Description      string    `json:"description"`
	Severity         Severity  `json:"severity"`
	Mode             Mode      `json:"mode"`
	ValidityDuration *int64    `json:"validity_duration,omitempty"` // seconds; nil = forever
	RecheckPrompt    string    `json:"recheck_prompt,omitempty"`
	Frequency        Frequency `json:"frequency,omitempty"`
	FrequencyCount   int       `json:"frequency_count,omitempty"`
}

// ReferenceImage is a labeled exemplar sent alongside frames.
type ReferenceImage struct {
	ID         string            `json:"id"`
	Label      string            `json:"label"`
	ImageBytes []byte            `json:"-"`
	ImageB64   string            `json:"image_base64,omitempty"`
	MatchMode  MatchMode         `json:"match_mode"`
	Category   ReferenceCategory `json:"category"`
	Checks     []string          `json:"checks,omitempty"`
}

// Policy is the full set of rules and context for one analysis request.
type Policy struct {
	Rules                 []PolicyRule      `json:"rules"`
	CustomPrompt          string            `json:"custom_prompt,omitempty"`
	IncludeAudio          bool              `json:"include_audio,omitempty"`
	ReferenceImages       []ReferenceImage  `json:"reference_images,omitempty"`
	EnabledReferenceIDs   map[string]bool   `json:"enabled_reference_ids,omitempty"`
	PriorContext          string            `json:"prior_context,omitempty"`
	AccumulatedTranscript string            `json:"accumulated_transcript,omitempty"`
}

// HasRules reports whether the policy carries anything the evaluator can
// act on — used by the BadRequest check in internal/api.
func (p Policy) HasRules() bool {
	return len(p.Rules) > 0 || p.CustomPrompt != ""
}

// VisualRules returns the rules whose type isn't speech.
func (p Policy) VisualRules() []PolicyRule {
	out := make([]PolicyRule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.Type != RuleSpeech {
			out = append(out, r)
		}
	}
	return out
}

// SpeechRules returns the speech-type rules.
func (p Policy) SpeechRules() []PolicyRule {
	out := make([]PolicyRule, 0)
	for _, r := range p.Rules {
		if r.Type == RuleSpeech {
			out = append(out, r)
		}
	}
	return out
}

// EnabledReferences returns only the references explicitly enabled.
func (p Policy) EnabledReferences() []ReferenceImage {
	if len(p.EnabledReferenceIDs) == 0 {
		return nil
	}
	out := make([]ReferenceImage, 0, len(p.ReferenceImages))
	for _, r := range p.ReferenceImages {
		if r.ID != "" && p.EnabledReferenceIDs[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// KeyframeData is one captured or sampled frame handed to the AI clients.
type KeyframeData struct {
	Timestamp    float64 `json:"timestamp"`
	FrameNumber  int     `json:"frame_number"`
	ChangeScore  float64 `json:"change_score"`
	Trigger      Trigger `json:"trigger"`
	KeyframePath string  `json:"keyframe_path,omitempty"`
	ImageBytes   []byte  `json:"-"`
}

// PersonDetail is a per-person entry inside a FrameObservation.
type PersonDetail struct {
	PersonID   string `json:"person_id"`
	Appearance string `json:"appearance"`
	Details    string `json:"details,omitempty"`
}

// FrameObservation is the vision model's structured description of one
// keyframe.
type FrameObservation struct {
	Timestamp   float64        `json:"timestamp"`
	Description string         `json:"description"`
	Trigger     Trigger        `json:"trigger,omitempty"`
	ChangeScore float64        `json:"change_score,omitempty"`
	ImageBytes  []byte         `json:"-"`
	People      []PersonDetail `json:"people,omitempty"`
}

// Verdict is a per-rule pass/fail judgement.
type Verdict struct {
	RuleType        RuleType        `json:"rule_type"`
	RuleDescription string          `json:"rule_description"`
	Compliant       bool            `json:"compliant"`
	Severity        Severity        `json:"severity"`
	Reason          string          `json:"reason"`
	Timestamp       *float64        `json:"timestamp"`
	Mode            Mode            `json:"mode"`
	ChecklistStatus ChecklistStatus `json:"checklist_status,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
}

// PersonSummary is the per-subject rollup across all observations.
type PersonSummary struct {
	PersonID       string    `json:"person_id"`
	Appearance     string    `json:"appearance"`
	FirstSeen      float64   `json:"first_seen"`
	LastSeen       float64   `json:"last_seen"`
	FramesSeen     int       `json:"frames_seen"`
	Compliant      bool      `json:"compliant"`
	Violations     []string  `json:"violations,omitempty"`
	ThumbnailBytes []byte    `json:"-"`
}

// TranscriptSegment is one timestamped chunk of a transcript.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResult is the Speech client's output.
type TranscriptResult struct {
	FullText string              `json:"full_text"`
	Segments []TranscriptSegment `json:"segments"`
	Language string              `json:"language"`
	Duration float64             `json:"duration"`
}

// Report is the final structured output of one analysis request.
type Report struct {
	VideoID              string             `json:"video_id"`
	Summary              string             `json:"summary"`
	OverallCompliant     bool               `json:"overall_compliant"`
	Incidents            []Verdict          `json:"incidents"`
	AllVerdicts          []Verdict          `json:"all_verdicts"`
	Recommendations      []string           `json:"recommendations,omitempty"`
	FrameObservations    []FrameObservation `json:"frame_observations,omitempty"`
	PersonSummaries      []PersonSummary    `json:"person_summaries"`
	Transcript           *TranscriptResult  `json:"transcript,omitempty"`
	ChecklistFulfilled   *bool              `json:"checklist_fulfilled"`
	AnalyzedAt           time.Time          `json:"analyzed_at"`
	TotalFramesAnalyzed  int                `json:"total_frames_analyzed"`
	VideoDuration        float64            `json:"video_duration"`
}

// AnalyzeResponse is the HTTP-facing envelope around a Report.
type AnalyzeResponse struct {
	Status string  `json:"status"` // "complete" | "error"
	Report *Report `json:"report,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// FrameAnalyzeRequest is the wire request for Path A (/analyze/frame).
type FrameAnalyzeRequest struct {
	ImageBase64           string   `json:"image_base64"`
	PolicyJSON            string   `json:"policy_json"`
	Provider              string   `json:"provider,omitempty"` // "default" | "remote_gpu"; empty or unknown names use "default"
	AccumulatedTranscript string   `json:"accumulated_transcript,omitempty"`
	Frames                []string `json:"frames,omitempty"`
}

// ParallelBatchRequest is the wire request for /analyze/frame/parallel.
type ParallelBatchRequest struct {
	Batches       [][]string `json:"batches"`
	MaxConcurrent int        `json:"max_concurrent"`
	PolicyJSON    string     `json:"policy_json"`
}

// ChecklistState is the Checklist Tracker's persisted per-subject entry.
type ChecklistState struct {
	RuleHash     string          `json:"rule_id"`
	PersonID     string          `json:"person_id"`
	Status       ChecklistStatus `json:"status"`
	LastVerified *time.Time      `json:"last_verified"`
	ExpiresAt    *time.Time      `json:"expires_at"`
}

// ChecklistItem is the per-rule status returned by the tracker's Checklist
// query operation.
type ChecklistItem struct {
	Rule          PolicyRule      `json:"rule"`
	Status        ChecklistStatus `json:"status"`
	LastVerified  *time.Time      `json:"last_verified"`
	ExpiresAt     *time.Time      `json:"expires_at"`
	TimeRemaining *int64          `json:"time_remaining"`
}
