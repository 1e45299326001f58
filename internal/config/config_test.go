package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-s3-upload/internal/chunk"
)

func TestNewDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.StallTimeout)
	assert.True(t, cfg.RapidUpload)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, ErrInvalidConcurrency},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, ErrInvalidMaxAttempts},
		{"negative stall timeout", func(c *Config) { c.StallTimeout = -time.Second }, ErrInvalidStallTimeout},
		{"unknown tier", func(c *Config) { c.Tier = "gold" }, ErrInvalidTier},
		{"negative min chunk", func(c *Config) { c.MinChunkSize = -1 }, ErrInvalidMinChunkSize},
		{"too many chunks", func(c *Config) { c.MaxChunks = 20000 }, ErrInvalidMaxChunks},
		{"privileged tier", func(c *Config) { c.Tier = "privileged" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	v, err := NewViper("")
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig().Concurrency, cfg.Concurrency)
	assert.Equal(t, 5*chunk.MiB, cfg.MinChunkSize)
	assert.True(t, cfg.RapidUpload)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `concurrency: 4
tier: privileged
min-chunk-size: 8MiB
stall-timeout: 30s
no-rapid-upload: true
exclude:
  - "*.log"
  - "cache/"
region: ap-northeast-1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("STRICT_S3_UPLOAD_MAX_ATTEMPTS", "7")
	t.Setenv("STRICT_S3_UPLOAD_CONCURRENCY", "6")

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Concurrency, "environment overrides the file")
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.Equal(t, chunk.TierPrivileged, cfg.ChunkTier())
	assert.Equal(t, 8*chunk.MiB, cfg.MinChunkSize)
	assert.Equal(t, 30*time.Second, cfg.StallTimeout)
	assert.False(t, cfg.RapidUpload)
	assert.Equal(t, []string{"*.log", "cache/"}, cfg.Excludes)
	assert.Equal(t, "ap-northeast-1", cfg.AWS.Region)
}

func TestLoadInvalid(t *testing.T) {
	v, err := NewViper("")
	require.NoError(t, err)

	v.Set("min-chunk-size", "lots")
	_, err = Load(v)
	assert.Error(t, err)

	v.Set("min-chunk-size", "5MiB")
	v.Set("concurrency", 0)
	_, err = Load(v)
	assert.ErrorIs(t, err, ErrInvalidConcurrency)
}

func TestNewViperMissingFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPolicyAndWorkerOptions(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.MaxChunks = 2000

	p := cfg.Policy()
	assert.Equal(t, 5*chunk.MiB, p.MinChunkSize)
	assert.Equal(t, 2000, p.MaxChunks)
	assert.Equal(t, 5*chunk.MiB, p.ChunkSize(100*chunk.MiB, cfg.ChunkTier()))

	opts := cfg.WorkerOptions(nil)
	assert.Equal(t, cfg.Concurrency, opts.Concurrency)
	assert.Equal(t, cfg.StallTimeout, opts.StallTimeout)

	cfg.StallTimeout = 0
	assert.Negative(t, cfg.WorkerOptions(nil).StallTimeout, "zero disables the watchdog")
}
