package reportstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"
)

// WriteReport appends rep to the log, generating a ReportID if the caller
// didn't supply one. On a DB error it falls back to the JSONL spool instead
// of failing the request — a finalized Report must never be lost because
// Postgres happened to be down at the moment analysis completed.
func (s *Service) WriteReport(ctx context.Context, rep StoredReport) error {
	if rep.ReportID == uuid.Nil {
		rep.ReportID = uuid.New()
	}

	payload, err := marshalReport(rep.Report)
	if err != nil {
		return fmt.Errorf("reportstore: marshal report: %w", err)
	}

	query := `
		INSERT INTO compliance_reports (
			report_id, video_id, provider, payload, created_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (report_id) DO NOTHING
	`
	_, err = s.DB.ExecContext(ctx, query, rep.ReportID, rep.VideoID, rep.Provider, payload, rep.CreatedAt)
	if err != nil {
		log.Printf("reportstore: DB write failed: %v, spooling report %s", err, rep.ReportID)
		if spoolErr := SpoolReport(rep); spoolErr != nil {
			log.Printf("reportstore: CRITICAL spool failure for report %s: %v", rep.ReportID, spoolErr)
			return fmt.Errorf("reportstore: critical failure: %w", spoolErr)
		}
		return nil
	}
	return nil
}

// QueryReports implements filters and ID-based cursor pagination.
func (s *Service) QueryReports(ctx context.Context, f ReportFilter) ([]StoredReport, string, error) {
	q := `SELECT id, report_id, video_id, provider, payload, created_at
	      FROM compliance_reports WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.VideoID != "" {
		q += fmt.Sprintf(" AND video_id = $%d", idx)
		args = append(args, f.VideoID)
		idx++
	}
	if f.DateFrom != nil {
		q += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		q += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *f.DateTo)
		idx++
	}
	if f.Cursor != "" {
		q += fmt.Sprintf(" AND id < $%d", idx)
		args = append(args, f.Cursor)
		idx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("reportstore: query: %w", err)
	}
	defer rows.Close()

	var out []StoredReport
	var lastID string
	for rows.Next() {
		sr, payload, err := scanRow(rows)
		if err != nil {
			return nil, "", err
		}
		if err := unmarshalReport(payload, &sr.Report); err != nil {
			return nil, "", fmt.Errorf("reportstore: unmarshal payload: %w", err)
		}
		if f.Compliant != nil && sr.Report.OverallCompliant != *f.Compliant {
			continue
		}
		out = append(out, sr)
		lastID = fmt.Sprintf("%d", sr.ID)
	}
	return out, lastID, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(row scanner) (StoredReport, []byte, error) {
	var sr StoredReport
	var payload []byte
	if err := row.Scan(&sr.ID, &sr.ReportID, &sr.VideoID, &sr.Provider, &payload, &sr.CreatedAt); err != nil {
		return StoredReport{}, nil, fmt.Errorf("reportstore: scan row: %w", err)
	}
	return sr, payload, nil
}

// maxExportRecords bounds a single streaming export so a forgotten filter
// can't turn it into an unbounded table dump.
const maxExportRecords = 10000

// ExportReports streams every matching report as newline-delimited JSON,
// stopping at maxExportRecords regardless of how many rows matched.
func (s *Service) ExportReports(ctx context.Context, f ReportFilter, w io.Writer) error {
	q := `SELECT id, report_id, video_id, provider, payload, created_at
	      FROM compliance_reports WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.VideoID != "" {
		q += fmt.Sprintf(" AND video_id = $%d", idx)
		args = append(args, f.VideoID)
		idx++
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("reportstore: export query: %w", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		if count >= maxExportRecords {
			break
		}
		sr, payload, err := scanRow(rows)
		if err != nil {
			return err
		}
		if err := unmarshalReport(payload, &sr.Report); err != nil {
			return fmt.Errorf("reportstore: unmarshal payload: %w", err)
		}
		if f.Compliant != nil && sr.Report.OverallCompliant != *f.Compliant {
			continue
		}
		if err := enc.Encode(sr); err != nil {
			return err
		}
		count++
	}
	return rows.Err()
}
