package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadPruner deletes staged uploads older than the retention period.
// Files whose name starts with "." are in-flight writes and never touched.
type UploadPruner struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewUploadPruner creates a pruner for dir. A zero retention disables it.
func NewUploadPruner(dir string, retention time.Duration, log zerolog.Logger) *UploadPruner {
	return &UploadPruner{
		dir:       dir,
		retention: retention,
		interval:  1 * time.Hour,
		log:       log.With().Str("component", "upload-pruner").Logger(),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

func (p *UploadPruner) Start() {
	if p.retention <= 0 {
		return
	}
	go p.loop()
}

func (p *UploadPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *UploadPruner) loop() {
	// Run once on startup to clear any backlog from downtime
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

func (p *UploadPruner) prune() {
	if p.retention <= 0 {
		return
	}

	cutoff := p.now().Add(-p.retention)
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		p.log.Warn().Err(err).Msg("upload prune: read dir failed")
		return
	}

	var prunedCount int
	var prunedBytes int64
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, e.Name())); err == nil {
			prunedCount++
			prunedBytes += info.Size()
		}
	}

	if prunedCount > 0 {
		p.log.Info().
			Int("pruned", prunedCount).
			Str("freed", humanizeBytes(prunedBytes)).
			Msg("upload prune complete")
	}
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
