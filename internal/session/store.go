package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Suffix is appended to a source file path to name its sidecar
const Suffix = ".s3upload"

// Store persists sessions as JSON sidecars next to their source files
type Store struct {
	suffix string
}

// NewStore creates a new sidecar store
func NewStore() *Store {
	return &Store{suffix: Suffix}
}

// Path returns the sidecar path for a source file
func (s *Store) Path(filePath string) string {
	return filePath + s.suffix
}

// Load reads the sidecar for filePath. A missing or unreadable sidecar
// yields an empty session; it is never an error.
func (s *Store) Load(filePath string) *Session {
	data, err := os.ReadFile(s.Path(filePath))
	if err != nil {
		return &Session{}
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return &Session{}
	}
	if sess.Hash != nil && len(sess.Uploaded) != len(sess.Hash.Chunks) {
		sess.Uploaded = make([]bool, len(sess.Hash.Chunks))
	}
	return &sess
}

// Save writes the sidecar atomically: a temp file in the same directory is
// synced and renamed over the previous sidecar.
func (s *Store) Save(filePath string, sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	target := s.Path(filePath)
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp sidecar: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp sidecar: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp sidecar: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename sidecar: %w", err)
	}
	return nil
}

// Delete removes the sidecar for filePath. A sidecar that is already gone
// is not an error.
func (s *Store) Delete(filePath string) error {
	if err := os.Remove(s.Path(filePath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sidecar: %w", err)
	}
	return nil
}
