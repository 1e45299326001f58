package transfer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yuya-takeyama/strict-s3-upload/internal/walker"
)

// Discover lists the files to transfer from localPath. A regular file goes
// directly under prefix; a directory is walked and its layout is kept
// below prefix.
func Discover(localPath, prefix string, excludes []string) ([]FileDescriptor, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	if !info.IsDir() {
		f, err := Describe(localPath, strings.Trim(prefix, "/"), "")
		if err != nil {
			return nil, err
		}
		return []FileDescriptor{f}, nil
	}

	w, err := walker.NewWalker(localPath, excludes)
	if err != nil {
		return nil, fmt.Errorf("create walker: %w", err)
	}
	found, err := w.Walk()
	if err != nil {
		return nil, fmt.Errorf("walk files: %w", err)
	}

	files := make([]FileDescriptor, 0, len(found))
	for _, fi := range found {
		dir, name := walker.RemoteLocation(prefix, fi.RelPath)
		files = append(files, FileDescriptor{
			Path:       fi.Path,
			Size:       fi.Size,
			ModTime:    time.Unix(fi.ModTime, 0),
			RemoteDir:  dir,
			RemoteName: name,
		})
	}
	return files, nil
}
