package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/events"
)

func TestConnect_FailsGracefullyWithoutBroker(t *testing.T) {
	p := events.Connect("nats://127.0.0.1:1")
	assert.NotNil(t, p, "Connect must return a usable Publisher even with no broker reachable")
	defer p.Close()

	// No broker is running; this must degrade to the log-only path rather
	// than panicking or blocking.
	p.PublishReportCompleted(compliance.Report{
		VideoID:          "vid-1",
		OverallCompliant: false,
		Incidents: []compliance.Verdict{
			{RuleDescription: "no phones on floor", Severity: compliance.SeverityHigh, Reason: "phone detected"},
		},
		AnalyzedAt: time.Now(),
	})
}

func TestPublishReportCompleted_NoIncidentsStillPublishesReportEvent(t *testing.T) {
	p := events.Connect("nats://127.0.0.1:1")
	defer p.Close()

	p.PublishReportCompleted(compliance.Report{
		VideoID:          "vid-2",
		OverallCompliant: true,
		AnalyzedAt:       time.Now(),
	})
}
