package videosrc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// webContainerExtensions lists source extensions the primary ffmpeg decode
// is known to sometimes reject outright (zero readable frames), making
// them eligible for the one-shot transcode fallback rather than an
// immediate escalation.
var webContainerExtensions = map[string]bool{
	".webm": true,
	".ogv":  true,
	".ogg":  true,
	".mkv":  true,
}

// IsWebContainer reports whether path's extension is a web-container
// format eligible for the transcode fallback.
func IsWebContainer(path string) bool {
	return webContainerExtensions[strings.ToLower(filepath.Ext(path))]
}

// TranscodeToMP4 shells out to ffmpeg to produce an mp4 copy of a video the
// primary decoder couldn't read, mirroring the reference implementation's
// convert_webm_to_mp4 fallback. The caller owns the returned path and must
// remove it once done.
func TranscodeToMP4(ctx context.Context, path string) (string, error) {
	out, err := os.CreateTemp("", "fallback-*.mp4")
	if err != nil {
		return "", fmt.Errorf("videosrc: create fallback output: %w", err)
	}
	outPath := out.Name()
	out.Close()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", path,
		"-c:v", "libx264",
		"-c:a", "aac",
		outPath,
	)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("videosrc: transcode to mp4: %w", err)
	}
	return outPath, nil
}
