package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/yuya-takeyama/strict-s3-upload/internal/checksum"
	"github.com/yuya-takeyama/strict-s3-upload/internal/chunk"
	"github.com/yuya-takeyama/strict-s3-upload/internal/plan"
	"github.com/yuya-takeyama/strict-s3-upload/internal/progress"
	"github.com/yuya-takeyama/strict-s3-upload/internal/session"
	"github.com/yuya-takeyama/strict-s3-upload/internal/worker"
)

// Options configures an Engine
type Options struct {
	Remote Remote
	Lister plan.Lister

	Account Account
	Policy  chunk.Policy
	Pool    *worker.Pool
	Store   *session.Store

	// RapidUpload enables digest based deduplication when Remote supports it
	RapidUpload bool

	Observer progress.Observer
	Logger   Logger
	Now      func() time.Time
}

// Engine transfers files one at a time
type Engine struct {
	remote      Remote
	planner     *plan.Planner
	account     Account
	policy      chunk.Policy
	pool        *worker.Pool
	store       *session.Store
	rapidUpload bool
	observer    progress.Observer
	logger      Logger
	now         func() time.Time
}

// NewEngine creates a new engine. Remote may be nil for an engine that only
// hashes; without a Lister no remote entry is ever considered existing.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		remote:      opts.Remote,
		account:     opts.Account,
		policy:      opts.Policy,
		pool:        opts.Pool,
		store:       opts.Store,
		rapidUpload: opts.RapidUpload,
		observer:    opts.Observer,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if len(e.policy.Steps) == 0 {
		e.policy = chunk.DefaultPolicy()
	}
	if e.pool == nil {
		e.pool = worker.NewPool(worker.Options{})
	}
	if e.store == nil {
		e.store = session.NewStore()
	}
	if e.observer == nil {
		e.observer = progress.Nop{}
	}
	if e.logger == nil {
		e.logger = nopLogger{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.planner = plan.NewPlanner(opts.Lister, e.policy, e.account.Tier)
	return e
}

// TransferAll transfers files in order. A failed file never stops the
// batch; cancellation of ctx does, and the files not started are reported
// as failed. onStart, if set, is called before each file.
func (e *Engine) TransferAll(ctx context.Context, files []FileDescriptor, onStart func(i, n int, f FileDescriptor)) []Result {
	results := make([]Result, 0, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{
				File:     f,
				State:    StateFailed,
				FailedIn: StateNew,
				Err:      newError("upload", f.RemoteName, err),
			})
			continue
		}
		if onStart != nil {
			onStart(i, len(files), f)
		}
		results = append(results, e.Transfer(ctx, f))
	}
	return results
}

// Plan decides what Transfer would do with f without hashing or uploading
func (e *Engine) Plan(ctx context.Context, f FileDescriptor) Result {
	res := Result{File: f, State: StateNew}
	d, err := e.planner.Decide(ctx, f.RemoteDir, f.RemoteName, f.Size)
	if err != nil {
		return e.fail(res, "plan", err)
	}
	res.Action = d.Action
	res.Reason = d.Reason
	res.ChunkSize = d.ChunkSize
	res.Chunks = d.Chunks
	if d.Action == plan.ActionSkip {
		res.State = StateSkipped
		res.Err = d.Err
		return res
	}
	if sess := e.store.Load(f.Path); sess.Matches(f.Size, d.ChunkSize, f.ModTime) {
		res.Resumed = true
		res.Reason = fmt.Sprintf("resume (%d of %d parts pending)", len(sess.Pending()), sess.ChunkCount())
	}
	return res
}

// Transfer runs f through the state machine until it reaches a terminal state
func (e *Engine) Transfer(ctx context.Context, f FileDescriptor) Result {
	start := e.now()
	res := e.transfer(ctx, f)
	res.Duration = e.now().Sub(start)
	if res.Failed() {
		e.logger.Debug("%s failed in state %s: %v", f.RemoteName, res.FailedIn, res.Err)
	}
	return res
}

func (e *Engine) transfer(ctx context.Context, f FileDescriptor) Result {
	res := Result{File: f, State: StateNew}

	d, err := e.planner.Decide(ctx, f.RemoteDir, f.RemoteName, f.Size)
	if err != nil {
		return e.fail(res, "plan", err)
	}
	res.Action = d.Action
	res.Reason = d.Reason
	res.ChunkSize = d.ChunkSize
	res.Chunks = d.Chunks
	if d.Action == plan.ActionSkip {
		res.State = StateSkipped
		res.Err = d.Err
		return res
	}

	sess, resumed, err := e.prepare(ctx, f, d.ChunkSize)
	if err != nil {
		return e.fail(res, "hash", err)
	}
	res.Resumed = resumed
	res.State = StateHashed
	if err := e.store.Save(f.Path, sess); err != nil {
		return e.fail(res, "save session", err)
	}

	if e.tryRapid(ctx, f, sess) {
		e.finish(f)
		res.Rapid = true
		res.State = StateDone
		return res
	}

	resp, err := e.remote.Begin(ctx, BeginRequest{
		SessionID:  sess.UploadID,
		LocalPath:  f.Path,
		RemoteDir:  f.RemoteDir,
		RemoteName: f.RemoteName,
		Size:       f.Size,
		ChunkSize:  sess.ChunkSize,
		Digests:    sess.Hash,
	})
	if err != nil {
		return e.fail(res, "begin", err)
	}
	if sess.UploadID != "" && sess.UploadID != resp.SessionID {
		e.logger.Warn("upload session for %s was replaced, starting over", f.RemoteName)
	}
	sess.Seed(resp.SessionID, resp.Required)
	res.State = StateSessionOpen
	if err := e.store.Save(f.Path, sess); err != nil {
		return e.fail(res, "save session", err)
	}

	res.State = StateChunksUploading
	pendingBytes := e.pendingBytes(sess)
	ok, err := e.upload(ctx, f, sess)
	saveErr := e.store.Save(f.Path, sess)
	res.Bytes = pendingBytes - e.pendingBytes(sess)
	if err == nil && !ok {
		err = worker.ErrChunkFailed
	}
	if err != nil {
		if saveErr != nil {
			e.logger.Warn("save session for %s: %v", f.RemoteName, saveErr)
		}
		return e.fail(res, "upload", err)
	}
	if saveErr != nil {
		return e.fail(res, "save session", saveErr)
	}

	res.State = StateFinalizing
	err = e.remote.Finalize(ctx, FinalizeRequest{
		SessionID:  sess.UploadID,
		RemoteDir:  f.RemoteDir,
		RemoteName: f.RemoteName,
		Size:       f.Size,
		Digests:    sess.Hash,
	})
	if err != nil {
		return e.fail(res, "finalize", err)
	}

	e.finish(f)
	res.State = StateDone
	return res
}

// prepare loads the sidecar and reuses its digests when they still match
// the file; otherwise it hashes the file into a fresh session.
func (e *Engine) prepare(ctx context.Context, f FileDescriptor, chunkSize int64) (*session.Session, bool, error) {
	sess := e.store.Load(f.Path)
	if sess.Matches(f.Size, chunkSize, f.ModTime) {
		if sess.RemoteDir != f.RemoteDir || sess.File != f.RemoteName {
			e.logger.Warn("destination of %s changed, discarding upload session", f.RemoteName)
			sess.SetDigests(sess.Hash)
			sess.RemoteDir = f.RemoteDir
			sess.File = f.RemoteName
		}
		return sess, true, nil
	}
	if sess.HasDigests() {
		e.logger.Warn("sidecar for %s does not match the file, rehashing", f.RemoteName)
	}

	digests, err := e.hash(ctx, f, chunkSize)
	if err != nil {
		return nil, false, err
	}
	sess = &session.Session{
		RemoteDir: f.RemoteDir,
		File:      f.RemoteName,
		Size:      f.Size,
		ModTime:   f.ModTime.Unix(),
		ChunkSize: chunkSize,
	}
	sess.SetDigests(digests)
	return sess, false, nil
}

func (e *Engine) hash(ctx context.Context, f FileDescriptor, chunkSize int64) (*checksum.Digests, error) {
	reporter := progress.NewReader(progress.PhaseHashing, f.Size, e.observer, e.now)
	digests, err := checksum.HashFile(ctx, f.Path, chunkSize, reporter.Progress)
	reporter.Finish()
	if err != nil {
		return nil, err
	}
	if len(digests.Chunks) != chunk.Count(f.Size, chunkSize) {
		return nil, fmt.Errorf("file size changed while hashing: expected %d bytes", f.Size)
	}
	return digests, nil
}

func (e *Engine) tryRapid(ctx context.Context, f FileDescriptor, sess *session.Session) bool {
	rapid, ok := e.remote.(RapidUploader)
	if !e.rapidUpload || !ok || sess.ChunkCount() <= 1 {
		return false
	}
	done, err := rapid.RapidUpload(ctx, RapidRequest{
		RemoteDir:  f.RemoteDir,
		RemoteName: f.RemoteName,
		Size:       f.Size,
		Digests:    sess.Hash,
	})
	if err != nil {
		e.logger.Warn("rapid upload of %s: %v", f.RemoteName, err)
		return false
	}
	return done
}

func (e *Engine) upload(ctx context.Context, f FileDescriptor, sess *session.Session) (bool, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return false, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	chunkLen := func(index int) int64 {
		_, n := sess.ChunkRange(index)
		return n
	}
	tracker := progress.NewTracker(progress.PhaseUploading, f.Size, chunkLen, e.observer, e.now)

	return e.pool.Upload(ctx, sess, tracker, func(ctx context.Context, index int, sent func(n int)) error {
		offset, length := sess.ChunkRange(index)
		expected := sess.Hash.Chunks[index]

		resp, err := e.remote.UploadChunk(ctx, ChunkRequest{
			SessionID:      sess.UploadID,
			RemoteDir:      f.RemoteDir,
			RemoteName:     f.RemoteName,
			Index:          index,
			Offset:         offset,
			Length:         length,
			ExpectedDigest: expected,
			Body:           newChunkReader(file, offset, length, sent),
		})
		if err != nil {
			return err
		}
		if !checksum.CompareChecksums(resp.AcceptedDigest, expected) {
			return fmt.Errorf("%w: expected %s, remote has %s", checksum.ErrDigestMismatch, expected, resp.AcceptedDigest)
		}
		return nil
	})
}

// finish records the file as present remotely and drops its sidecar
func (e *Engine) finish(f FileDescriptor) {
	e.planner.Record(f.RemoteDir, f.RemoteName)
	if err := e.store.Delete(f.Path); err != nil {
		e.logger.Warn("delete sidecar of %s: %v", f.RemoteName, err)
	}
}

func (e *Engine) pendingBytes(sess *session.Session) int64 {
	var n int64
	for _, i := range sess.Pending() {
		_, length := sess.ChunkRange(i)
		n += length
	}
	return n
}

func (e *Engine) fail(res Result, op string, err error) Result {
	res.FailedIn = res.State
	res.State = StateFailed
	res.Err = newError(op, res.File.RemoteName, err)
	return res
}

// Hash computes and stores the digests of f without contacting the remote,
// so a later Transfer resumes without rehashing.
func (e *Engine) Hash(ctx context.Context, f FileDescriptor) (res Result) {
	start := e.now()
	res = Result{File: f, State: StateNew, Action: plan.ActionUpload}
	defer func() { res.Duration = e.now().Sub(start) }()

	chunkSize := e.policy.ChunkSize(f.Size, e.account.Tier)
	switch {
	case f.Size <= 0:
		res.State, res.Action, res.Err, res.Reason = StateSkipped, plan.ActionSkip, plan.ErrEmptyFile, "empty file"
		return res
	case !e.policy.Fits(f.Size, e.account.Tier):
		res.State, res.Action, res.Err, res.Reason = StateSkipped, plan.ActionSkip, plan.ErrFileTooLarge, "too many chunks"
		return res
	}

	res.ChunkSize = chunkSize
	res.Chunks = chunk.Count(f.Size, chunkSize)
	sess, resumed, err := e.prepare(ctx, f, chunkSize)
	if err != nil {
		return e.fail(res, "hash", err)
	}
	res.Resumed = resumed
	res.State = StateHashed
	if err := e.store.Save(f.Path, sess); err != nil {
		return e.fail(res, "save session", err)
	}
	res.Reason = "hashed"
	if resumed {
		res.Reason = "already hashed"
	}
	return res
}

// HashAll hashes files in order, stopping early only when ctx is canceled
func (e *Engine) HashAll(ctx context.Context, files []FileDescriptor, onStart func(i, n int, f FileDescriptor)) []Result {
	results := make([]Result, 0, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{File: f, State: StateFailed, Err: newError("hash", f.RemoteName, err)})
			continue
		}
		if onStart != nil {
			onStart(i, len(files), f)
		}
		results = append(results, e.Hash(ctx, f))
	}
	return results
}

// IsSkip reports whether err is a policy skip rather than a failure
func IsSkip(err error) bool {
	return errors.Is(err, ErrEmptyFile) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrRemoteExists)
}
