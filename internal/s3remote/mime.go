package s3remote

import (
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// contentType guesses a content type from the extension, falling back to
// sniffing the file's leading bytes.
func contentType(filename string) string {
	if ext := filepath.Ext(filename); ext != "" {
		if contentType := mime.TypeByExtension(ext); contentType != "" {
			return contentType
		}
	}

	mt, err := mimetype.DetectFile(filename)
	if err != nil {
		return ""
	}
	return mt.String()
}
