// Package session holds the durable per-file transfer record and the sidecar
// store that persists it next to the source file.
package session

import (
	"time"

	"github.com/yuya-takeyama/strict-s3-upload/internal/checksum"
	"github.com/yuya-takeyama/strict-s3-upload/internal/chunk"
)

// Session is the resumable state of one file's transfer
type Session struct {
	UploadID  string            `json:"upload_id"`
	RemoteDir string            `json:"remote_dir"`
	File      string            `json:"file"`
	Size      int64             `json:"size"`
	ModTime   int64             `json:"mtime"` // Unix seconds
	ChunkSize int64             `json:"chunk_size,omitempty"`
	Hash      *checksum.Digests `json:"hash,omitempty"`
	Uploaded  []bool            `json:"uploaded,omitempty"`
}

// HasDigests reports whether hashing already ran for this session
func (s *Session) HasDigests() bool {
	return s.Hash != nil && s.Hash.File != "" && len(s.Hash.Chunks) > 0
}

// ChunkCount returns the number of chunks the session tracks
func (s *Session) ChunkCount() int {
	if s.Hash == nil {
		return 0
	}
	return len(s.Hash.Chunks)
}

// ChunkRange returns the byte range of chunk index
func (s *Session) ChunkRange(index int) (offset, length int64) {
	return chunk.Range(index, s.Size, s.ChunkSize)
}

// Matches reports whether the stored digests are still valid for a file of
// the given size and modification time split with chunkSize.
func (s *Session) Matches(size, chunkSize int64, modTime time.Time) bool {
	return s.Size == size &&
		s.ModTime == modTime.Unix() &&
		s.ChunkSize == chunkSize &&
		s.HasDigests() &&
		len(s.Hash.Chunks) == chunk.Count(size, chunkSize)
}

// SetDigests stores freshly computed digests and clears any upload state,
// since an upload id is bound to the digests it was opened with.
func (s *Session) SetDigests(d *checksum.Digests) {
	s.Hash = d
	s.UploadID = ""
	s.Uploaded = make([]bool, len(d.Chunks))
}

// Pending returns the indices of chunks not yet accepted remotely, in order
func (s *Session) Pending() []int {
	s.normalize()
	var pending []int
	for i, done := range s.Uploaded {
		if !done {
			pending = append(pending, i)
		}
	}
	return pending
}

// AllUploaded reports whether every chunk has been accepted
func (s *Session) AllUploaded() bool {
	s.normalize()
	for _, done := range s.Uploaded {
		if !done {
			return false
		}
	}
	return true
}

// MarkUploaded records chunk index as accepted. Callers sharing the session
// across goroutines must serialize calls.
func (s *Session) MarkUploaded(index int) {
	s.normalize()
	if index >= 0 && index < len(s.Uploaded) {
		s.Uploaded[index] = true
	}
}

// Seed replaces the bitmap with the remote's view: chunks in required are
// pending and every other chunk counts as uploaded.
func (s *Session) Seed(uploadID string, required []int) {
	s.normalize()
	need := make(map[int]bool, len(required))
	for _, i := range required {
		need[i] = true
	}
	for i := range s.Uploaded {
		s.Uploaded[i] = !need[i]
	}
	s.UploadID = uploadID
}

// normalize keeps the bitmap parallel to the chunk digests
func (s *Session) normalize() {
	n := s.ChunkCount()
	if len(s.Uploaded) == n {
		return
	}
	s.Uploaded = make([]bool, n)
}
