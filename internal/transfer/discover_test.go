package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile := func(rel, content string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	writeFile("a.bin", "aaaa")
	writeFile("shows/ep1.mkv", "episode")
	writeFile("shows/ep2.mkv.part", "partial")
	writeFile("logs/run.log", "log")

	tests := []struct {
		name     string
		source   string
		prefix   string
		excludes []string
		want     []string
	}{
		{
			name:   "directory",
			source: root,
			prefix: "backup/",
			want:   []string{"backup/a.bin", "backup/logs/run.log", "backup/shows/ep1.mkv"},
		},
		{
			name:     "directory with excludes",
			source:   root,
			prefix:   "",
			excludes: []string{"logs/"},
			want:     []string{"a.bin", "shows/ep1.mkv"},
		},
		{
			name:   "single file",
			source: filepath.Join(root, "shows", "ep1.mkv"),
			prefix: "/media/",
			want:   []string{"media/ep1.mkv"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := Discover(tt.source, tt.prefix, tt.excludes)
			require.NoError(t, err)

			var got []string
			for _, f := range files {
				got = append(got, f.RemotePath())
				assert.True(t, filepath.IsAbs(f.Path))
				assert.Positive(t, f.Size)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscoverMissingSource(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"), "", nil)
	assert.Error(t, err)
}
