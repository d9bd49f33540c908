package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/api"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/checklist"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

func newTestHandler(t *testing.T) *api.AnalyzeHandler {
	t.Helper()
	tracker := checklist.New(filepath.Join(t.TempDir(), "checklist_state.json"))
	return api.NewAnalyzeHandler(nil, tracker, nil, nil)
}

func TestReset_ClearsChecklistAndReportsOK(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/analyze/reset", nil)
	rec := httptest.NewRecorder()

	h.Reset(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAnalyze_RejectsMissingVideoField(t *testing.T) {
	h := newTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("policy_json", `{"rules":[{"description":"no phones","rule_type":"visual"}]}`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Analyze(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyze_RejectsNonVideoContentType(t *testing.T) {
	h := newTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", "clip.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("not a video"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("policy_json", `{"rules":[{"description":"no phones","rule_type":"visual"}]}`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Analyze(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeFrame_RejectsMissingPolicy(t *testing.T) {
	h := newTestHandler(t)

	body, err := json.Marshal(compliance.FrameAnalyzeRequest{ImageBase64: "aGVsbG8="})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/analyze/frame", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AnalyzeFrame(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeFrame_RejectsInvalidBase64(t *testing.T) {
	h := newTestHandler(t)

	body, err := json.Marshal(compliance.FrameAnalyzeRequest{
		ImageBase64: "not-base64!!",
		PolicyJSON:  `{"rules":[{"description":"no phones","rule_type":"visual"}]}`,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/analyze/frame", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AnalyzeFrame(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeFrameParallel_RejectsMissingPolicy(t *testing.T) {
	h := newTestHandler(t)

	body, err := json.Marshal(compliance.ParallelBatchRequest{Batches: [][]string{{"aGVsbG8="}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/analyze/frame/parallel", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AnalyzeFrameParallel(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscribe_RejectsMissingAudioField(t *testing.T) {
	h := newTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Transcribe(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_RejectsNonVideoContentType(t *testing.T) {
	h := newTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", "clip.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("not a video"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

