package checksum

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"strings"
)

const (
	// SliceSize is the length of the leading slice digested separately for quick matching
	SliceSize = 256 * 1024

	bufferSize = 64 * 1024 // 64KB buffer
)

// ErrDigestMismatch is returned when a remote digest differs from the local one
var ErrDigestMismatch = errors.New("digest mismatch")

// Digests holds every digest computed for a file in a single read pass
type Digests struct {
	File   string   `json:"file"`
	Slice  string   `json:"slice"`
	CRC32  uint32   `json:"crc"`
	Chunks []string `json:"chunks"`
}

// ProgressFunc is called after every block read with the cumulative byte count
type ProgressFunc func(bytesRead int64)

// HashFile opens filePath and hashes it with Hash
func HashFile(ctx context.Context, filePath string, chunkSize int64, onProgress ProgressFunc) (*Digests, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return Hash(ctx, file, chunkSize, onProgress)
}

// Hash reads r once and feeds every byte into the whole-file MD5, the CRC32,
// the current chunk's MD5 and, for the first SliceSize bytes, the slice MD5.
// A chunk digest is emitted as soon as chunkSize bytes have gone into it; a
// trailing partial chunk yields one shorter digest.
func Hash(ctx context.Context, r io.Reader, chunkSize int64, onProgress ProgressFunc) (*Digests, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", chunkSize)
	}

	fileHash := md5.New()
	sliceHash := md5.New()
	chunkHash := md5.New()
	crcHash := crc32.NewIEEE()

	var (
		chunks    []string
		total     int64
		inChunk   int64
		sliceDone bool
	)

	buffer := make([]byte, bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := r.Read(buffer)
		if n > 0 {
			block := buffer[:n]
			fileHash.Write(block)
			crcHash.Write(block)

			if !sliceDone {
				take := min(int64(n), SliceSize-total)
				sliceHash.Write(block[:take])
				sliceDone = total+take >= SliceSize
			}

			for len(block) > 0 {
				take := min(int64(len(block)), chunkSize-inChunk)
				chunkHash.Write(block[:take])
				block = block[take:]
				inChunk += take
				if inChunk == chunkSize {
					chunks = append(chunks, sum(chunkHash))
					chunkHash.Reset()
					inChunk = 0
				}
			}

			total += int64(n)
			if onProgress != nil {
				onProgress(total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
	}

	if inChunk > 0 {
		chunks = append(chunks, sum(chunkHash))
	}

	return &Digests{
		File:   sum(fileHash),
		Slice:  sum(sliceHash),
		CRC32:  crcHash.Sum32(),
		Chunks: chunks,
	}, nil
}

// CompareChecksums compares two hex encoded digests, ignoring case and ETag quotes
func CompareChecksums(checksum1, checksum2 string) bool {
	return strings.EqualFold(strings.Trim(checksum1, `"`), strings.Trim(checksum2, `"`))
}

func sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
