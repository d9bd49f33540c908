package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

func badRequestErr(msg string, err error) error {
	return compliance.NewStageError("Decode", compliance.KindBadRequest, msg, err)
}

// maxUploadBytes caps /analyze/upload and /analyze/ video bodies at 200 MB,
// matching the reference repo's own multipart size guard pattern
// (internal_handler.go's http.MaxBytesReader use, scaled up from its 8 KB
// JSON cap to a video-sized one).
const maxUploadBytes = 200 << 20

// saveMultipartVideo reads the named multipart field, enforces the 200 MB
// cap and a video/* content-type check, and writes it to a temp file the
// caller owns and must remove.
func saveMultipartVideo(w http.ResponseWriter, r *http.Request, field string) (path string, cleanup func(), err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, badRequestErr("request body too large or malformed", err)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, badRequestErr(fmt.Sprintf("missing multipart field %q", field), err)
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "video/") {
		return "", nil, badRequestErr(fmt.Sprintf("unsupported content type %q, expected video/*", contentType), nil)
	}

	tmp, err := os.CreateTemp("", "compliance-upload-*.mp4")
	if err != nil {
		return "", nil, err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func saveMultipartAudio(w http.ResponseWriter, r *http.Request, field string) (path string, cleanup func(), err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, badRequestErr("request body too large or malformed", err)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, badRequestErr(fmt.Sprintf("missing multipart field %q", field), err)
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") && !strings.HasPrefix(contentType, "video/") {
		return "", nil, badRequestErr(fmt.Sprintf("unsupported content type %q, expected audio/*", contentType), nil)
	}

	tmp, err := os.CreateTemp("", "compliance-audio-*.webm")
	if err != nil {
		return "", nil, err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
