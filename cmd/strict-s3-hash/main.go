package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-s3-upload/internal/config"
	"github.com/yuya-takeyama/strict-s3-upload/internal/logging"
	"github.com/yuya-takeyama/strict-s3-upload/internal/progress"
	"github.com/yuya-takeyama/strict-s3-upload/internal/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/internal/s3remote"
	"github.com/yuya-takeyama/strict-s3-upload/internal/session"
	"github.com/yuya-takeyama/strict-s3-upload/internal/transfer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "strict-s3-hash <LocalPath> [S3Uri]",
		Short: "Precompute upload digests without contacting S3",
		Long: `strict-s3-hash hashes files and writes the upload sidecar next to each one,
so a later strict-s3-upload run starts uploading without rehashing. Passing
the S3 URI the files will be uploaded to records their destination too.`,
		Version:      fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(configFile)
			if err != nil {
				return err
			}
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("bind flags: %w", err)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			var prefix string
			if len(args) == 2 {
				if _, prefix, err = s3client.ParseS3URI(args[1]); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, args[0], prefix)
		},
	}

	defaults := config.NewDefaultConfig()
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML config file")
	flags.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	flags.Bool("quiet", false, "Suppress non-error output")
	flags.BoolP("verbose", "v", false, "Print debug output")
	flags.String("tier", defaults.Tier, "Account tier: standard or privileged")
	flags.String("min-chunk-size", "5MiB", "Smallest part size")
	flags.Int("max-chunks", defaults.MaxChunks, "Files needing more parts than this are skipped")

	return rootCmd
}

func run(ctx context.Context, cfg *config.Config, localPath, prefix string) error {
	startTime := time.Now()
	logger := logging.NewLogger(cfg.Quiet, cfg.Verbose)

	files, err := transfer.Discover(localPath, prefix, cfg.Excludes)
	if err != nil {
		return err
	}

	policy := cfg.Policy()
	if policy.MinChunkSize < s3remote.MinPartSize {
		policy.MinChunkSize = s3remote.MinPartSize
	}

	var observer progress.Observer = progress.Nop{}
	if !cfg.Quiet {
		observer = logging.NewStatusLine()
	}

	engine := transfer.NewEngine(transfer.Options{
		Account:  transfer.Account{Tier: cfg.ChunkTier()},
		Policy:   policy,
		Store:    session.NewStore(),
		Observer: observer,
		Logger:   logger,
	})

	results := engine.HashAll(ctx, files, func(i, n int, f transfer.FileDescriptor) {
		logger.FileHeader(i, n, f.Path, f.Size)
	})

	var summary logging.Summary
	for _, res := range results {
		switch {
		case res.Failed():
			logger.Failure(res.File.Path, res.Err)
			summary.Failed++
		case res.Skipped():
			logger.Info("skip: %s (%s)", res.File.Path, res.Reason)
			summary.Skipped++
		default:
			logger.Debug("%s: %s, %d parts of %s", res.File.Path, res.Reason, res.Chunks, humanize.IBytes(uint64(res.ChunkSize)))
			if res.Resumed {
				summary.Resumed++
			} else {
				summary.Bytes += res.File.Size
			}
			summary.Uploaded++
		}
	}
	summary.Duration = time.Since(startTime)
	logger.PrintHashSummary(summary)

	if summary.Failed > 0 {
		return fmt.Errorf("%d files failed", summary.Failed)
	}
	return ctx.Err()
}
