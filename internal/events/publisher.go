// Package events publishes pipeline lifecycle notifications over NATS,
// falling back to a log line when no broker connection is available —
// the same best-effort shape cmd/ai-service/main.go uses for its
// detection-event publish.
package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

const (
	// SubjectReportCompleted fires once per finalized Report.
	SubjectReportCompleted = "compliance.report.completed"
	// SubjectIncidentRaised fires once per non-compliant incident-mode
	// verdict inside a finalized Report.
	SubjectIncidentRaised = "compliance.incident.raised"
)

// ReportCompletedEvent is the payload published to SubjectReportCompleted.
type ReportCompletedEvent struct {
	VideoID          string    `json:"video_id"`
	OverallCompliant bool      `json:"overall_compliant"`
	IncidentCount    int       `json:"incident_count"`
	AnalyzedAt       time.Time `json:"analyzed_at"`
}

// IncidentRaisedEvent is the payload published to SubjectIncidentRaised,
// one per non-compliant incident verdict.
type IncidentRaisedEvent struct {
	VideoID         string    `json:"video_id"`
	RuleDescription string    `json:"rule_description"`
	Severity        string    `json:"severity"`
	Reason          string    `json:"reason"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// Publisher wraps an optional *nats.Conn. A nil connection degrades every
// Publish call to a log line instead of failing the request that triggered
// it — event delivery is best-effort, never on the critical path.
type Publisher struct {
	conn *nats.Conn
}

// Connect dials url, logging and returning a Publisher with no connection
// if it can't — the service must still function without NATS reachable.
func Connect(url string) *Publisher {
	nc, err := nats.Connect(url)
	if err != nil {
		log.Printf("events: NATS connection failed: %v (falling back to log-only publish)", err)
		return &Publisher{}
	}
	return &Publisher{conn: nc}
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// PublishReportCompleted publishes one ReportCompletedEvent, then one
// IncidentRaisedEvent per incident in the report.
func (p *Publisher) PublishReportCompleted(rep compliance.Report) {
	p.publish(SubjectReportCompleted, ReportCompletedEvent{
		VideoID:          rep.VideoID,
		OverallCompliant: rep.OverallCompliant,
		IncidentCount:    len(rep.Incidents),
		AnalyzedAt:       rep.AnalyzedAt,
	})

	for _, inc := range rep.Incidents {
		p.publish(SubjectIncidentRaised, IncidentRaisedEvent{
			VideoID:         rep.VideoID,
			RuleDescription: inc.RuleDescription,
			Severity:        string(inc.Severity),
			Reason:          inc.Reason,
			AnalyzedAt:      rep.AnalyzedAt,
		})
	}
}

func (p *Publisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("events: marshal failed for %s: %v", subject, err)
		return
	}

	if p.conn != nil {
		if err := p.conn.Publish(subject, data); err != nil {
			log.Printf("events: publish to %s failed: %v", subject, err)
		}
		return
	}
	log.Printf("[NATS-MOCK] %s: %s", subject, string(data))
}
