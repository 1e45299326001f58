package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/yuya-takeyama/strict-s3-upload/internal/worker"
)

const clearLine = "\r\x1b[K"

// consoleMu serializes writes of Logger and StatusLine, which share the terminal
var consoleMu sync.Mutex

// Logger provides structured logging
type Logger struct {
	quiet   bool
	verbose bool
	out     io.Writer
	errOut  io.Writer
	tty     bool
}

// NewLogger creates a new logger on stdout and stderr
func NewLogger(quiet, verbose bool) *Logger {
	return &Logger{
		quiet:   quiet,
		verbose: verbose,
		out:     os.Stdout,
		errOut:  os.Stderr,
		tty:     IsTerminal(os.Stdout),
	}
}

// NewLoggerWithWriters creates a logger writing to out and errOut
func NewLoggerWithWriters(out, errOut io.Writer, quiet, verbose bool) *Logger {
	return &Logger{quiet: quiet, verbose: verbose, out: out, errOut: errOut}
}

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	if !l.quiet {
		l.printf(l.out, format, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if !l.quiet {
		l.printf(l.out, "WARN: "+format, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.printf(l.errOut, "ERROR: "+format, args...)
}

// Debug logs a debug message when verbose output is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.verbose && !l.quiet {
		l.printf(l.out, "DEBUG: "+format, args...)
	}
}

func (l *Logger) printf(w io.Writer, format string, args ...interface{}) {
	if l.tty {
		format = clearLine + format
	}
	consoleMu.Lock()
	defer consoleMu.Unlock()
	fmt.Fprintf(w, format+"\n", args...)
}

// FileHeader prints the per-file header line
func (l *Logger) FileHeader(i, n int, name string, size int64) {
	l.Info("[%d/%d] %s (%s)", i+1, n, name, humanize.IBytes(uint64(size)))
}

// AttemptFailed prints a failed chunk attempt that will be retried
func (l *Logger) AttemptFailed(e worker.AttemptError) {
	l.Info(" -> Upload failed for part #%d: %v, retry #%d...", e.Index+1, e.Err, e.Attempt)
}

// Failure prints a file failure with its cause chain
func (l *Logger) Failure(name string, err error) {
	l.Error("%s failed\n%s", name, indent(CauseChain(err), "  "))
}

// CauseChain renders err and its wrapped causes one per line, outermost first
func CauseChain(err error) string {
	if err == nil {
		return ""
	}

	var msgs []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		msgs = append(msgs, e.Error())
	}

	var lines []string
	for i, msg := range msgs {
		own := msg
		if i+1 < len(msgs) {
			own = strings.TrimSuffix(msg, ": "+msgs[i+1])
			if own == msgs[i+1] {
				continue
			}
		}
		if own == "" {
			continue
		}
		if len(lines) == 0 {
			lines = append(lines, own)
		} else {
			lines = append(lines, "caused by: "+own)
		}
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}

// Summary counts the outcome of a batch
type Summary struct {
	Uploaded int
	Resumed  int
	Rapid    int
	Skipped  int
	Failed   int
	Bytes    int64
	Duration time.Duration
}

// PrintSummary prints a summary of the upload run
func (l *Logger) PrintSummary(s Summary) {
	if l.quiet && s.Failed == 0 {
		return
	}

	fmt.Fprintln(l.out)
	fmt.Fprintln(l.out, "=== Summary ===")
	fmt.Fprintf(l.out, "Uploaded: %d files (%s sent)\n", s.Uploaded, humanize.IBytes(uint64(s.Bytes)))
	if s.Resumed > 0 {
		fmt.Fprintf(l.out, "Resumed: %d files\n", s.Resumed)
	}
	if s.Rapid > 0 {
		fmt.Fprintf(l.out, "Rapid uploaded: %d files\n", s.Rapid)
	}
	fmt.Fprintf(l.out, "Skipped: %d files\n", s.Skipped)
	if s.Failed > 0 {
		fmt.Fprintf(l.out, "Failed: %d files\n", s.Failed)
	}
	fmt.Fprintf(l.out, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}

// PrintHashSummary prints a summary of a hash-only run. Uploaded counts
// hashed files and Resumed those whose sidecar was already current.
func (l *Logger) PrintHashSummary(s Summary) {
	if l.quiet && s.Failed == 0 {
		return
	}

	fmt.Fprintln(l.out)
	fmt.Fprintln(l.out, "=== Summary ===")
	fmt.Fprintf(l.out, "Hashed: %d files (%s read)\n", s.Uploaded, humanize.IBytes(uint64(s.Bytes)))
	if s.Resumed > 0 {
		fmt.Fprintf(l.out, "Already hashed: %d files\n", s.Resumed)
	}
	fmt.Fprintf(l.out, "Skipped: %d files\n", s.Skipped)
	if s.Failed > 0 {
		fmt.Fprintf(l.out, "Failed: %d files\n", s.Failed)
	}
	fmt.Fprintf(l.out, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}
