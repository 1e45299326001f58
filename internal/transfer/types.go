// Package transfer drives one file at a time through hashing, session
// opening, chunk upload and finalization against a Remote.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/yuya-takeyama/strict-s3-upload/internal/checksum"
	"github.com/yuya-takeyama/strict-s3-upload/internal/chunk"
)

// FileDescriptor identifies a local file and where it goes
type FileDescriptor struct {
	Path       string
	Size       int64
	ModTime    time.Time
	RemoteDir  string
	RemoteName string
}

// RemotePath returns the slash separated target path
func (f FileDescriptor) RemotePath() string {
	return path.Join(f.RemoteDir, f.RemoteName)
}

// Describe stats localPath and builds its descriptor. An empty remoteName
// means the local base name.
func Describe(localPath, remoteDir, remoteName string) (FileDescriptor, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("get absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return FileDescriptor{}, fmt.Errorf("not a regular file: %s", abs)
	}
	if remoteName == "" {
		remoteName = filepath.Base(abs)
	}
	return FileDescriptor{
		Path:       abs,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		RemoteDir:  remoteDir,
		RemoteName: remoteName,
	}, nil
}

// Account carries the caller's identity and capability level
type Account struct {
	Name string
	Tier chunk.Tier
}

// BeginRequest opens or reopens a remote session
type BeginRequest struct {
	SessionID  string // empty for a new session
	LocalPath  string
	RemoteDir  string
	RemoteName string
	Size       int64
	ChunkSize  int64
	Digests    *checksum.Digests
}

// BeginResponse names the session and the chunks it still needs
type BeginResponse struct {
	SessionID string
	Required  []int
}

// ChunkRequest uploads one chunk. Body yields exactly Length bytes.
type ChunkRequest struct {
	SessionID      string
	RemoteDir      string
	RemoteName     string
	Index          int
	Offset         int64
	Length         int64
	ExpectedDigest string
	Body           io.Reader
}

// ChunkResponse carries the digest the remote computed for the chunk
type ChunkResponse struct {
	AcceptedDigest string
}

// FinalizeRequest commits all chunks of a session
type FinalizeRequest struct {
	SessionID  string
	RemoteDir  string
	RemoteName string
	Size       int64
	Digests    *checksum.Digests
}

// RapidRequest asks the remote to materialize a file from content it already holds
type RapidRequest struct {
	RemoteDir  string
	RemoteName string
	Size       int64
	Digests    *checksum.Digests
}

// Remote is the store the engine uploads into
type Remote interface {
	Begin(ctx context.Context, req BeginRequest) (*BeginResponse, error)
	UploadChunk(ctx context.Context, req ChunkRequest) (*ChunkResponse, error)
	Finalize(ctx context.Context, req FinalizeRequest) error
}

// RapidUploader is implemented by remotes that can deduplicate by digest.
// It reports false when no matching content exists.
type RapidUploader interface {
	RapidUpload(ctx context.Context, req RapidRequest) (bool, error)
}

// Logger receives the engine's operator-facing messages
type Logger interface {
	Warn(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}
