package reportstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	SpoolDir           = "/var/lib/compliance-api/report_spool"
	MaxSpoolSize int64 = 1024 * 1024 * 1024 // 1GB
)

// ConfigureFailover points the spool at dir and caps it at maxMB, creating
// dir if it doesn't exist.
func ConfigureFailover(dir string, maxMB int64) {
	if dir != "" {
		SpoolDir = dir
	}
	if maxMB > 0 {
		MaxSpoolSize = maxMB * 1024 * 1024
	}
	_ = os.MkdirAll(SpoolDir, 0750)
}

// SpoolReport appends rep to the spool file, rotating (dropping) the oldest
// rotated file first if the spool directory is already at its size cap.
func SpoolReport(rep StoredReport) error {
	if isSpoolFull() {
		if err := rotateSpool(); err != nil {
			return fmt.Errorf("reportstore: spool full and rotation failed: %w", err)
		}
	}

	payload := FailoverReport{
		ReportID:  rep.ReportID.String(),
		VideoID:   rep.VideoID,
		Payload:   rep,
		Timestamp: time.Now(),
	}
	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	filename := filepath.Join(SpoolDir, "report_spool.log")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func isSpoolFull() bool {
	var size int64
	filepath.Walk(SpoolDir, func(_ string, info fs.FileInfo, err error) error {
		if err == nil && info != nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size >= MaxSpoolSize
}

func rotateSpool() error {
	entries, err := os.ReadDir(SpoolDir)
	if err != nil {
		return err
	}
	var oldest string
	var oldestMod time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if oldest == "" || info.ModTime().Before(oldestMod) {
			oldest = e.Name()
			oldestMod = info.ModTime()
		}
	}
	if oldest == "" {
		return nil
	}
	return os.Remove(filepath.Join(SpoolDir, oldest))
}

// StartReplayer periodically flushes the spool back to the DB until ctx is
// cancelled.
func (s *Service) StartReplayer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

var replayLock sync.Mutex

// ReplaySpool moves the current spool file aside and re-attempts each
// entry's write. Entries that fail again are re-spooled by WriteReport
// rather than lost.
func (s *Service) ReplaySpool(ctx context.Context) {
	replayLock.Lock()
	defer replayLock.Unlock()

	filename := filepath.Join(SpoolDir, "report_spool.log")
	info, err := os.Stat(filename)
	if os.IsNotExist(err) || (info != nil && info.Size() == 0) {
		return
	}

	replayFile := filepath.Join(SpoolDir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(filename, replayFile); err != nil {
		log.Printf("reportstore: failed to rotate spool for replay: %v", err)
		return
	}
	defer os.Remove(replayFile)

	f, err := os.Open(replayFile)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	var succeeded, failed int
	for scanner.Scan() {
		var fr FailoverReport
		if err := json.Unmarshal(scanner.Bytes(), &fr); err != nil {
			failed++
			continue
		}
		if err := s.WriteReport(ctx, fr.Payload); err == nil {
			succeeded++
		}
	}
	if succeeded > 0 {
		log.Printf("reportstore: replay flushed %d reports (%d unparseable)", succeeded, failed)
	}
}
