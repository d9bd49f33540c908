package reportstore_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/reportstore"
)

func newStoredReport(videoID string, compliant bool) reportstore.StoredReport {
	return reportstore.StoredReport{
		ReportID:  uuid.New(),
		VideoID:   videoID,
		Provider:  "default",
		Report:    compliance.Report{VideoID: videoID, OverallCompliant: compliant, Summary: "test"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestWriteReport_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := reportstore.NewService(db)
	mock.ExpectExec("INSERT INTO compliance_reports").WillReturnResult(sqlmock.NewResult(1, 1))

	err = s.WriteReport(context.Background(), newStoredReport("vid-1", true))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteReport_FailoverSpoolsOnDBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tempDir, err := os.MkdirTemp("", "reportstore_spool")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)
	reportstore.ConfigureFailover(tempDir, 100)

	s := reportstore.NewService(db)
	mock.ExpectExec("INSERT INTO compliance_reports").WillReturnError(sql.ErrConnDone)

	err = s.WriteReport(context.Background(), newStoredReport("vid-2", false))
	require.NoError(t, err, "a spooled write must not surface as an error")

	files, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.NotEmpty(t, files, "expected a spool file to be written")
}

func TestWriteReport_GeneratesReportID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := reportstore.NewService(db)
	mock.ExpectExec("INSERT INTO compliance_reports").WillReturnResult(sqlmock.NewResult(1, 1))

	rep := newStoredReport("vid-3", true)
	rep.ReportID = uuid.Nil
	err = s.WriteReport(context.Background(), rep)
	require.NoError(t, err)
}

func TestReplaySpool_FlushesOnNextSuccess(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "reportstore_replay")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)
	reportstore.ConfigureFailover(tempDir, 100)

	require.NoError(t, reportstore.SpoolReport(newStoredReport("vid-4", true)))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := reportstore.NewService(db)

	mock.ExpectExec("INSERT INTO compliance_reports").WillReturnResult(sqlmock.NewResult(1, 1))
	s.ReplaySpool(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryReports_FiltersByVideoID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := reportstore.NewService(db)

	payload, _ := json.Marshal(compliance.Report{VideoID: "vid-5", OverallCompliant: true})
	rows := sqlmock.NewRows([]string{"id", "report_id", "video_id", "provider", "payload", "created_at"}).
		AddRow(1, uuid.New(), "vid-5", "default", payload, time.Now())

	mock.ExpectQuery("SELECT id, report_id").WillReturnRows(rows)

	out, cursor, err := s.QueryReports(context.Background(), reportstore.ReportFilter{VideoID: "vid-5", Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "vid-5", out[0].Report.VideoID)
	assert.Equal(t, "1", cursor)
}

func TestQueryReports_FiltersByComplianceInMemory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := reportstore.NewService(db)

	compliantPayload, _ := json.Marshal(compliance.Report{VideoID: "vid-6", OverallCompliant: true})
	nonCompliantPayload, _ := json.Marshal(compliance.Report{VideoID: "vid-6", OverallCompliant: false})
	rows := sqlmock.NewRows([]string{"id", "report_id", "video_id", "provider", "payload", "created_at"}).
		AddRow(1, uuid.New(), "vid-6", "default", compliantPayload, time.Now()).
		AddRow(2, uuid.New(), "vid-6", "default", nonCompliantPayload, time.Now())

	mock.ExpectQuery("SELECT id, report_id").WillReturnRows(rows)

	want := false
	out, _, err := s.QueryReports(context.Background(), reportstore.ReportFilter{Compliant: &want})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Report.OverallCompliant)
}

func TestExportReports_WritesMatchingReportAsJSONLine(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := reportstore.NewService(db)

	payload, _ := json.Marshal(compliance.Report{VideoID: "vid-7", OverallCompliant: true})
	rows := sqlmock.NewRows([]string{"id", "report_id", "video_id", "provider", "payload", "created_at"}).
		AddRow(1, uuid.New(), "vid-7", "default", payload, time.Now())

	mock.ExpectQuery("SELECT id, report_id").WillReturnRows(rows)

	var buf bytes.Buffer
	err = s.ExportReports(context.Background(), reportstore.ReportFilter{VideoID: "vid-7"}, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "vid-7")
}

func TestFailoverConfig_UpdatesSpoolDir(t *testing.T) {
	tmp := os.TempDir()
	reportstore.ConfigureFailover(tmp, 500)
	assert.Equal(t, tmp, reportstore.SpoolDir)
}
