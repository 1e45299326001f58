package chunk

import (
	"fmt"
	"strings"
)

const (
	KiB = int64(1024)
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// DefaultMaxChunks is the largest number of chunks a single file may be split into.
const DefaultMaxChunks = 1024

// Tier is the account capability level that bounds the chunk size.
type Tier int

const (
	TierStandard Tier = iota
	TierPrivileged
)

// ParseTier parses a tier name as used in flags and config files
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return TierStandard, nil
	case "privileged", "premium", "vip":
		return TierPrivileged, nil
	default:
		return TierStandard, fmt.Errorf("unknown tier %q", s)
	}
}

func (t Tier) String() string {
	if t == TierPrivileged {
		return "privileged"
	}
	return "standard"
}

// Step maps an inclusive file size ceiling to a chunk size
type Step struct {
	Ceiling   int64
	ChunkSize int64
}

// DefaultSteps is the ascending ceiling table: files up to 4 GiB use 4 MiB
// chunks, up to 8 GiB use 8 MiB chunks, and so on up to 128 GiB / 128 MiB.
var DefaultSteps = []Step{
	{Ceiling: 4 * GiB, ChunkSize: 4 * MiB},
	{Ceiling: 8 * GiB, ChunkSize: 8 * MiB},
	{Ceiling: 16 * GiB, ChunkSize: 16 * MiB},
	{Ceiling: 32 * GiB, ChunkSize: 32 * MiB},
	{Ceiling: 64 * GiB, ChunkSize: 64 * MiB},
	{Ceiling: 128 * GiB, ChunkSize: 128 * MiB},
}

// Policy decides how a file is split into chunks.
//
// MinChunkSize is a floor imposed by the remote store (S3 rejects non-final
// parts below 5 MiB); zero means no floor. MaxChunks caps the chunk count;
// files that would need more chunks are too large to transfer.
type Policy struct {
	Steps        []Step
	MinChunkSize int64
	MaxChunks    int
}

// DefaultPolicy returns the policy built from DefaultSteps
func DefaultPolicy() Policy {
	return Policy{
		Steps:     DefaultSteps,
		MaxChunks: DefaultMaxChunks,
	}
}

// Size returns the chunk size for fileSize under the default policy
func Size(fileSize int64, tier Tier) int64 {
	return DefaultPolicy().ChunkSize(fileSize, tier)
}

// ChunkSize returns the chunk size for a file of fileSize bytes.
// A standard tier always gets the smallest chunk size; a file exactly at a
// ceiling gets that ceiling's chunk size; anything beyond the last ceiling
// gets the largest chunk size.
func (p Policy) ChunkSize(fileSize int64, tier Tier) int64 {
	steps := p.Steps
	if len(steps) == 0 {
		steps = DefaultSteps
	}

	size := steps[len(steps)-1].ChunkSize
	if tier != TierPrivileged {
		size = steps[0].ChunkSize
	} else {
		for _, step := range steps {
			if fileSize <= step.Ceiling {
				size = step.ChunkSize
				break
			}
		}
	}

	if size < p.MinChunkSize {
		size = p.MinChunkSize
	}
	return size
}

// Count returns the number of chunks a file of fileSize bytes splits into
func Count(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// Range returns the byte offset and length of chunk index
func Range(index int, fileSize, chunkSize int64) (offset, length int64) {
	offset = int64(index) * chunkSize
	if offset >= fileSize {
		return fileSize, 0
	}
	length = chunkSize
	if offset+length > fileSize {
		length = fileSize - offset
	}
	return offset, length
}

// Fits reports whether fileSize can be split within the MaxChunks cap
func (p Policy) Fits(fileSize int64, tier Tier) bool {
	if p.MaxChunks <= 0 {
		return true
	}
	return Count(fileSize, p.ChunkSize(fileSize, tier)) <= p.MaxChunks
}
