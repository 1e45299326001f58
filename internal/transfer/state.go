package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/yuya-takeyama/strict-s3-upload/internal/plan"
	"github.com/yuya-takeyama/strict-s3-upload/internal/worker"
)

// Policy skips, re-exported for callers that only import transfer
var (
	ErrEmptyFile    = plan.ErrEmptyFile
	ErrFileTooLarge = plan.ErrFileTooLarge
	ErrRemoteExists = plan.ErrRemoteExists
)

// State is the position of a file in the transfer state machine
type State int

const (
	StateNew State = iota
	StateHashed
	StateSessionOpen
	StateChunksUploading
	StateFinalizing
	StateDone
	StateSkipped
	StateFailed
)

var stateNames = map[State]string{
	StateNew:             "new",
	StateHashed:          "hashed",
	StateSessionOpen:     "session_open",
	StateChunksUploading: "chunks_uploading",
	StateFinalizing:      "finalizing",
	StateDone:            "done",
	StateSkipped:         "skipped",
	StateFailed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}

// Error attributes a failure to one file and, when known, one chunk
type Error struct {
	Op    string
	File  string
	Chunk int // -1 when not chunk specific
	Err   error
}

func (e *Error) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("%s %s (part #%d): %v", e.Op, e.File, e.Chunk+1, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op, file string, err error) *Error {
	e := &Error{Op: op, File: file, Chunk: -1, Err: err}
	var chunkErr *worker.ChunkError
	if errors.As(err, &chunkErr) {
		e.Chunk = chunkErr.Index
	}
	return e
}

// Result is the outcome of one file
type Result struct {
	File     FileDescriptor
	State    State
	FailedIn State // last non-terminal state reached when State is StateFailed
	Action   plan.Action
	Reason   string
	Err      error

	ChunkSize int64
	Chunks    int
	Resumed   bool
	Rapid     bool
	Bytes     int64 // bytes sent by this run
	Duration  time.Duration
}

// Skipped reports whether the file was skipped by policy
func (r Result) Skipped() bool { return r.State == StateSkipped }

// Failed reports whether the file failed
func (r Result) Failed() bool { return r.State == StateFailed }
