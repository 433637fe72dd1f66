package audio

import (
	"io"
	"sync/atomic"
	"time"
)

// stallReader cancels the download when no bytes arrive for timeout.
type stallReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

func newStallReader(r io.Reader, timeout time.Duration, cancel func()) *stallReader {
	s := &stallReader{r: r, timeout: timeout}
	s.timer = time.AfterFunc(timeout, func() {
		s.stalled.Store(true)
		cancel()
	})
	return s
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.timer.Reset(s.timeout)
	}
	return n, err
}

// Stop disarms the timer.
func (s *stallReader) Stop() { s.timer.Stop() }

// Stalled reports whether the timer fired.
func (s *stallReader) Stalled() bool { return s.stalled.Load() }
