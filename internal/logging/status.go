package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yuya-takeyama/strict-s3-upload/internal/progress"
)

const (
	ttyInterval   = 100 * time.Millisecond
	plainInterval = 10 * time.Second
)

// StatusLine renders progress as a single line. On a terminal the line is
// redrawn in place; otherwise a plain line is printed now and then.
type StatusLine struct {
	mu       sync.Mutex
	w        io.Writer
	tty      bool
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewStatusLine creates a status line on stdout
func NewStatusLine() *StatusLine {
	return NewStatusLineWriter(os.Stdout, IsTerminal(os.Stdout), time.Now)
}

// NewStatusLineWriter creates a status line on w
func NewStatusLineWriter(w io.Writer, tty bool, now func() time.Time) *StatusLine {
	interval := plainInterval
	if tty {
		interval = ttyInterval
	}
	if now == nil {
		now = time.Now
	}
	return &StatusLine{w: w, tty: tty, interval: interval, now: now}
}

// Update implements progress.Observer
func (s *StatusLine) Update(phase progress.Phase, stats progress.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		return
	}
	s.last = now

	line := FormatStatus(phase, stats)
	if s.tty {
		s.write(clearLine + line)
	} else {
		s.write(line + "\n")
	}
}

// Finish implements progress.Observer
func (s *StatusLine) Finish(phase progress.Phase, stats progress.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = time.Time{}

	line := fmt.Sprintf("%s: %.0f%% (%s/%s), done in %s",
		phase, stats.Percent,
		humanize.IBytes(uint64(stats.BytesDone)), humanize.IBytes(uint64(stats.Total)),
		s.now().Sub(stats.StartedAt).Round(time.Second))
	if s.tty {
		line = clearLine + line
	}
	s.write(line + "\n")
}

func (s *StatusLine) write(line string) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	io.WriteString(s.w, line)
}

// FormatStatus renders one progress line
func FormatStatus(phase progress.Phase, stats progress.Stats) string {
	return fmt.Sprintf("%s: %.0f%% (%s/%s), %s/s, %s left...",
		phase, stats.Percent,
		humanize.IBytes(uint64(stats.BytesDone)), humanize.IBytes(uint64(stats.Total)),
		humanize.IBytes(uint64(stats.RateBps)), formatETA(stats.ETA))
}

func formatETA(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02dh%02dm%02ds", h, m, d/time.Second)
}
