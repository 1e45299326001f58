package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/yuya-takeyama/strict-s3-upload/internal/chunk"
)

// Action represents what happens to a file
type Action string

const (
	ActionUpload Action = "upload"
	ActionSkip   Action = "skip"
)

// Policy skips. These are not failures; the batch reports them as skipped.
var (
	ErrEmptyFile    = errors.New("file is empty")
	ErrFileTooLarge = errors.New("file is too large")
	ErrRemoteExists = errors.New("remote entry already exists")
)

// Decision is the outcome of planning one file
type Decision struct {
	Action    Action
	Reason    string
	Err       error // skip sentinel when Action is ActionSkip
	ChunkSize int64
	Chunks    int
}

// Lister lists the entry names of a remote directory
type Lister interface {
	List(ctx context.Context, dir string) ([]string, error)
}

// Planner decides per file whether to upload or skip
type Planner struct {
	lister Lister
	policy chunk.Policy
	tier   chunk.Tier

	mu      sync.Mutex
	entries map[string]map[string]bool
}

// NewPlanner creates a new planner. Remote directories are listed once
// and cached for the planner's lifetime. A nil lister disables the
// existing-entry check.
func NewPlanner(lister Lister, policy chunk.Policy, tier chunk.Tier) *Planner {
	return &Planner{
		lister:  lister,
		policy:  policy,
		tier:    tier,
		entries: make(map[string]map[string]bool),
	}
}

// Decide plans a file of size bytes targeted at remoteDir/remoteName.
// The returned error is a listing failure, never a skip.
func (p *Planner) Decide(ctx context.Context, remoteDir, remoteName string, size int64) (Decision, error) {
	chunkSize := p.policy.ChunkSize(size, p.tier)
	d := Decision{
		Action:    ActionUpload,
		Reason:    "new file",
		ChunkSize: chunkSize,
		Chunks:    chunk.Count(size, chunkSize),
	}

	switch {
	case size <= 0:
		return skip(d, ErrEmptyFile, "empty file"), nil
	case !p.policy.Fits(size, p.tier):
		return skip(d, ErrFileTooLarge, fmt.Sprintf("needs %d chunks of %s, limit is %d",
			d.Chunks, humanize.IBytes(uint64(chunkSize)), p.policy.MaxChunks)), nil
	}

	exists, err := p.exists(ctx, remoteDir, remoteName)
	if err != nil {
		return Decision{}, err
	}
	if exists {
		return skip(d, ErrRemoteExists, "already exists at destination"), nil
	}
	return d, nil
}

// Record marks remoteDir/remoteName as existing, so later files with the
// same target are skipped.
func (p *Planner) Record(remoteDir, remoteName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if names, ok := p.entries[remoteDir]; ok {
		names[remoteName] = true
	}
}

func (p *Planner) exists(ctx context.Context, remoteDir, remoteName string) (bool, error) {
	if p.lister == nil {
		return false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	names, ok := p.entries[remoteDir]
	if !ok {
		list, err := p.lister.List(ctx, remoteDir)
		if err != nil {
			return false, fmt.Errorf("list %s: %w", remoteDir, err)
		}
		names = make(map[string]bool, len(list))
		for _, name := range list {
			names[name] = true
		}
		p.entries[remoteDir] = names
	}
	return names[remoteName], nil
}

func skip(d Decision, err error, reason string) Decision {
	d.Action = ActionSkip
	d.Err = err
	d.Reason = reason
	return d
}
