// Package reportstore is the append-only log of finalized compliance
// Reports: a Postgres write path with a JSONL failover spool for when the
// database is unreachable, plus cursor-paginated query and a bounded
// streaming export.
package reportstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

// StoredReport wraps a finalized Report with the identifiers and bookkeeping
// fields the log needs that aren't part of the Report itself.
type StoredReport struct {
	ID         int64           `json:"id"`       // DB primary key
	ReportID   uuid.UUID       `json:"report_id"` // idempotency key
	VideoID    string          `json:"video_id"`
	Provider   string          `json:"provider,omitempty"`
	Report     compliance.Report `json:"report"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FailoverReport is the JSONL spool's envelope for one StoredReport.
type FailoverReport struct {
	ReportID  string       `json:"report_id"`
	VideoID   string       `json:"video_id"`
	Payload   StoredReport `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

// ReportFilter restricts a query to one video and/or compliance outcome,
// paginated by a descending ID cursor.
type ReportFilter struct {
	VideoID    string
	Compliant  *bool
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
	Cursor     string // ID-based cursor: return rows with id < Cursor
}

// Service is the append-only report log. No Update or Delete method is
// exposed anywhere in this package.
type Service struct {
	DB *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}

func marshalReport(r compliance.Report) ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalReport(b []byte, r *compliance.Report) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, r)
}
