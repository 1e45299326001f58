package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/strict-s3-upload/internal/chunk"
	"github.com/yuya-takeyama/strict-s3-upload/internal/worker"
)

// EnvPrefix is the prefix of environment variables overriding settings
const EnvPrefix = "STRICT_S3_UPLOAD"

// maxParts is the most parts a single S3 multipart upload may have
const maxParts = 10000

var (
	ErrInvalidConcurrency  = errors.New("concurrency must be greater than 0")
	ErrInvalidMaxAttempts  = errors.New("max attempts must be greater than 0")
	ErrInvalidStallTimeout = errors.New("stall timeout must not be negative")
	ErrInvalidTier         = errors.New("tier must be standard or privileged")
	ErrInvalidMinChunkSize = errors.New("min chunk size must not be negative")
	ErrInvalidMaxChunks    = errors.New("max chunks must be between 1 and 10000")
)

// Config holds all application configuration
type Config struct {
	Concurrency    int
	MaxAttempts    int
	StallTimeout   time.Duration
	Tier           string
	MinChunkSize   int64
	MaxChunks      int
	RapidUpload    bool
	Excludes       []string
	DryRun         bool
	Quiet          bool
	Verbose        bool
	ResultJSONFile string
	AWS            AWSConfig
}

// AWSConfig holds S3 client settings
type AWSConfig struct {
	Profile     string
	Region      string
	EndpointURL string
	PathStyle   bool
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Concurrency:  worker.DefaultConcurrency,
		MaxAttempts:  worker.DefaultMaxAttempts,
		StallTimeout: worker.DefaultStallTimeout,
		Tier:         chunk.TierStandard.String(),
		MinChunkSize: 5 * chunk.MiB,
		MaxChunks:    chunk.DefaultMaxChunks,
		RapidUpload:  true,
	}
}

// SetDefaults registers the defaults with v under their flag names
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("max-attempts", d.MaxAttempts)
	v.SetDefault("stall-timeout", d.StallTimeout)
	v.SetDefault("tier", d.Tier)
	v.SetDefault("min-chunk-size", humanize.IBytes(uint64(d.MinChunkSize)))
	v.SetDefault("max-chunks", d.MaxChunks)
	v.SetDefault("no-rapid-upload", !d.RapidUpload)
}

// NewViper returns a viper instance reading STRICT_S3_UPLOAD_* variables
// and, when configFile is set, that file.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// Load builds a Config from v
func Load(v *viper.Viper) (*Config, error) {
	minChunk, err := humanize.ParseBytes(v.GetString("min-chunk-size"))
	if err != nil {
		return nil, fmt.Errorf("parse min chunk size: %w", err)
	}

	cfg := &Config{
		Concurrency:    v.GetInt("concurrency"),
		MaxAttempts:    v.GetInt("max-attempts"),
		StallTimeout:   v.GetDuration("stall-timeout"),
		Tier:           v.GetString("tier"),
		MinChunkSize:   int64(minChunk),
		MaxChunks:      v.GetInt("max-chunks"),
		RapidUpload:    !v.GetBool("no-rapid-upload"),
		Excludes:       v.GetStringSlice("exclude"),
		DryRun:         v.GetBool("dryrun"),
		Quiet:          v.GetBool("quiet"),
		Verbose:        v.GetBool("verbose"),
		ResultJSONFile: v.GetString("result-json-file"),
		AWS: AWSConfig{
			Profile:     v.GetString("profile"),
			Region:      v.GetString("region"),
			EndpointURL: v.GetString("endpoint-url"),
			PathStyle:   v.GetBool("path-style"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if c.StallTimeout < 0 {
		return ErrInvalidStallTimeout
	}
	if _, err := chunk.ParseTier(c.Tier); err != nil {
		return ErrInvalidTier
	}
	if c.MinChunkSize < 0 {
		return ErrInvalidMinChunkSize
	}
	if c.MaxChunks <= 0 || c.MaxChunks > maxParts {
		return ErrInvalidMaxChunks
	}
	return nil
}

// ChunkTier returns the parsed tier
func (c *Config) ChunkTier() chunk.Tier {
	tier, _ := chunk.ParseTier(c.Tier)
	return tier
}

// Policy returns the chunk policy the configuration describes
func (c *Config) Policy() chunk.Policy {
	p := chunk.DefaultPolicy()
	p.MinChunkSize = c.MinChunkSize
	p.MaxChunks = c.MaxChunks
	return p
}

// WorkerOptions returns the pool settings; onAttemptFailed may be nil
func (c *Config) WorkerOptions(onAttemptFailed func(worker.AttemptError)) worker.Options {
	stall := c.StallTimeout
	if stall == 0 {
		stall = -1
	}
	return worker.Options{
		Concurrency:     c.Concurrency,
		MaxAttempts:     c.MaxAttempts,
		StallTimeout:    stall,
		OnAttemptFailed: onAttemptFailed,
	}
}
