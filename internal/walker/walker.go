package walker

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/yuya-takeyama/strict-s3-upload/internal/session"
)

// DefaultIgnores are base name patterns never uploaded: hidden files,
// partial downloads and upload sidecars.
var DefaultIgnores = []string{
	".*",
	"*.part",
	"*.!qB",
	"*.temp",
	"*.downloading",
	"*" + session.Suffix,
}

// FileInfo represents a local file
type FileInfo struct {
	Path    string // Absolute path
	RelPath string // Relative path from root, slash separated
	Size    int64
	ModTime int64 // Unix timestamp
}

// Walker walks local files with exclude pattern support
type Walker struct {
	root     string
	excludes []string
	ignores  []string
}

// NewWalker creates a new file walker
func NewWalker(root string, excludes []string) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	// Validate root exists and is a directory
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern: %q", pattern)
		}
	}

	return &Walker{
		root:     absRoot,
		excludes: excludes,
		ignores:  DefaultIgnores,
	}, nil
}

// Walk walks the file tree and returns matching regular files in lexical order
func (w *Walker) Walk() ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p == w.root {
			return nil
		}

		relPath, err := filepath.Rel(w.root, p)
		if err != nil {
			return fmt.Errorf("get relative path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if w.isIgnored(d.Name()) || w.isExcluded(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || w.isIgnored(d.Name()) || w.isExcluded(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("get file info: %w", err)
		}

		files = append(files, FileInfo{
			Path:    p,
			RelPath: relPath,
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	return files, nil
}

// isIgnored checks a base name against the built-in ignore list
func (w *Walker) isIgnored(name string) bool {
	return IsIgnored(name, w.ignores)
}

// IsIgnored reports whether name matches any of patterns
func IsIgnored(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := doublestar.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

// isExcluded checks if a path matches any exclude pattern. Directory paths
// end with a slash and also match patterns written without one.
func (w *Walker) isExcluded(relPath string) bool {
	isDir := strings.HasSuffix(relPath, "/")
	trimmed := strings.TrimSuffix(relPath, "/")

	for _, pattern := range w.excludes {
		if strings.HasSuffix(pattern, "/") {
			if !isDir {
				continue
			}
			if matched, _ := doublestar.Match(strings.TrimSuffix(pattern, "/"), trimmed); matched {
				return true
			}
			continue
		}
		if matched, _ := doublestar.Match(pattern, trimmed); matched {
			return true
		}
	}
	return false
}

// RemoteLocation maps a file's relative path under the upload root to its
// remote directory and name below prefix.
func RemoteLocation(prefix, relPath string) (dir, name string) {
	relPath = filepath.ToSlash(relPath)
	relDir, name := path.Split(relPath)
	dir = strings.Trim(path.Join(prefix, relDir), "/")
	if dir == "." {
		dir = ""
	}
	return dir, name
}
