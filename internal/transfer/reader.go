package transfer

import (
	"io"
)

// chunkReader serves one chunk of a file and reports bytes as they are read.
// It stays seekable so an HTTP client can rewind the body; only bytes past
// the furthest position reached are reported.
type chunkReader struct {
	section *io.SectionReader
	pos     int64
	high    int64
	sent    func(n int)
}

func newChunkReader(r io.ReaderAt, offset, length int64, sent func(n int)) *chunkReader {
	return &chunkReader{
		section: io.NewSectionReader(r, offset, length),
		sent:    sent,
	}
}

func (r *chunkReader) Read(p []byte) (n int, err error) {
	n, err = r.section.Read(p)
	r.pos += int64(n)
	if r.pos > r.high {
		if r.sent != nil {
			r.sent(int(r.pos - r.high))
		}
		r.high = r.pos
	}
	return n, err
}

func (r *chunkReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.section.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	r.pos = pos
	return pos, nil
}

// Len returns the number of unread bytes
func (r *chunkReader) Len() int {
	return int(r.section.Size() - r.pos)
}
