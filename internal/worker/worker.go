package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yuya-takeyama/strict-s3-upload/internal/progress"
	"github.com/yuya-takeyama/strict-s3-upload/internal/session"
)

const (
	DefaultConcurrency  = 10
	DefaultMaxAttempts  = 5
	DefaultStallTimeout = 2 * time.Minute
)

var (
	// ErrChunkFailed marks a chunk that exhausted its attempts
	ErrChunkFailed = errors.New("chunk upload failed")
	// ErrStalled is the cause of an attempt aborted for sending nothing within the stall timeout
	ErrStalled = errors.New("chunk upload stalled")
)

// ChunkFunc uploads one chunk and verifies the remote accepted it. It must
// call sent for every batch of bytes written to the wire and honor ctx.
type ChunkFunc func(ctx context.Context, index int, sent func(n int)) error

// AttemptError describes one failed, non-final attempt
type AttemptError struct {
	Index       int
	Attempt     int
	MaxAttempts int
	Err         error
}

// ChunkError is returned when a chunk fails on every attempt
type ChunkError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("part #%d failed after %d attempts: %v", e.Index+1, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

func (e *ChunkError) Is(target error) bool { return target == ErrChunkFailed }

// Options configures a Pool
type Options struct {
	Concurrency  int
	MaxAttempts  int
	StallTimeout time.Duration

	// OnAttemptFailed is called after every failed attempt that will be retried
	OnAttemptFailed func(AttemptError)
}

// Pool uploads the pending chunks of a session with bounded concurrency
type Pool struct {
	concurrency     int
	maxAttempts     int
	stallTimeout    time.Duration
	onAttemptFailed func(AttemptError)
}

// NewPool creates a new worker pool. Zero values fall back to the defaults;
// a negative StallTimeout disables the stall watchdog.
func NewPool(opts Options) *Pool {
	p := &Pool{
		concurrency:     opts.Concurrency,
		maxAttempts:     opts.MaxAttempts,
		stallTimeout:    opts.StallTimeout,
		onAttemptFailed: opts.OnAttemptFailed,
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.stallTimeout == 0 {
		p.stallTimeout = DefaultStallTimeout
	}
	return p
}

// Upload uploads every chunk of sess not yet marked uploaded and marks each
// one as it is accepted. It reports whether all chunks are now uploaded.
// A chunk failing on every attempt cancels the remaining work and is
// returned as a *ChunkError. The caller persists sess afterwards.
func (p *Pool) Upload(ctx context.Context, sess *session.Session, tracker *progress.Tracker, fn ChunkFunc) (bool, error) {
	pending := sess.Pending()
	if len(pending) == 0 {
		return true, nil
	}

	if tracker == nil {
		tracker = progress.NewTracker(progress.PhaseUploading, sess.Size, chunkLen(sess), nil, nil)
	}
	for i, done := range sess.Uploaded {
		if done {
			tracker.Done(i)
		}
	}
	defer tracker.Finish()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for _, index := range pending {
			select {
			case jobs <- index:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	var mu sync.Mutex
	workers := min(p.concurrency, len(pending))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for index := range jobs {
				if gctx.Err() != nil {
					return nil
				}
				if err := p.uploadChunk(gctx, index, tracker, fn); err != nil {
					return err
				}
				mu.Lock()
				sess.MarkUploaded(index)
				mu.Unlock()
				tracker.Complete(index)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return sess.AllUploaded(), nil
}

// uploadChunk retries fn until it succeeds, the attempts run out or ctx is canceled
func (p *Pool) uploadChunk(ctx context.Context, index int, tracker *progress.Tracker, fn ChunkFunc) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tracker.StartAttempt(index)
		err := p.attempt(ctx, index, tracker, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if attempt < p.maxAttempts && p.onAttemptFailed != nil {
			p.onAttemptFailed(AttemptError{
				Index:       index,
				Attempt:     attempt,
				MaxAttempts: p.maxAttempts,
				Err:         err,
			})
		}
	}

	return &ChunkError{Index: index, Attempts: p.maxAttempts, Err: lastErr}
}

// attempt runs fn once under a watchdog that cancels it when no bytes
// have been sent for the stall timeout.
func (p *Pool) attempt(ctx context.Context, index int, tracker *progress.Tracker, fn ChunkFunc) error {
	if p.stallTimeout < 0 {
		return fn(ctx, index, func(n int) { tracker.Sent(index, n) })
	}

	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timer := time.AfterFunc(p.stallTimeout, func() { cancel(ErrStalled) })
	defer timer.Stop()

	err := fn(actx, index, func(n int) {
		timer.Reset(p.stallTimeout)
		tracker.Sent(index, n)
	})
	if err != nil && errors.Is(context.Cause(actx), ErrStalled) {
		return fmt.Errorf("%w: nothing sent for %s: %v", ErrStalled, p.stallTimeout, err)
	}
	return err
}

func chunkLen(sess *session.Session) func(int) int64 {
	return func(index int) int64 {
		_, n := sess.ChunkRange(index)
		return n
	}
}
