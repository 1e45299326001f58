package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-s3-upload/internal/config"
	"github.com/yuya-takeyama/strict-s3-upload/internal/logging"
	"github.com/yuya-takeyama/strict-s3-upload/internal/plan"
	"github.com/yuya-takeyama/strict-s3-upload/internal/progress"
	"github.com/yuya-takeyama/strict-s3-upload/internal/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/internal/s3remote"
	"github.com/yuya-takeyama/strict-s3-upload/internal/session"
	"github.com/yuya-takeyama/strict-s3-upload/internal/transfer"
	"github.com/yuya-takeyama/strict-s3-upload/internal/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

// UploadResult represents the outcome of a run
type UploadResult struct {
	Files   []ResultFile  `json:"files"`
	Errors  []ErrorFile   `json:"errors"`
	Summary ResultSummary `json:"summary"`
}

type ResultFile struct {
	Action  string  `json:"action"` // "uploaded", "resumed", "rapid", "skipped"
	Source  string  `json:"source"`
	Target  string  `json:"target"`
	Reason  string  `json:"reason,omitempty"`
	Bytes   int64   `json:"bytes"`
	Seconds float64 `json:"seconds"`
}

type ErrorFile struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	FailedIn string `json:"failed_in"`
	Error    string `json:"error"`
}

type ResultSummary struct {
	Uploaded int   `json:"uploaded"`
	Resumed  int   `json:"resumed"`
	Rapid    int   `json:"rapid"`
	Skipped  int   `json:"skipped"`
	Failed   int   `json:"failed"`
	Bytes    int64 `json:"bytes"`
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "strict-s3-upload <LocalPath> <S3Uri>",
		Short: "Resumable, verified multipart upload to S3",
		Long: `strict-s3-upload uploads files to S3 in verified chunks. Progress is kept in a
sidecar file next to each source file, so an interrupted upload resumes where
it stopped and every part is checked against its locally computed MD5.`,
		Version:      fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		Args:         cobra.ExactArgs(2),
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, args[0], args[1])
		},
	}

	defaults := config.NewDefaultConfig()
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML config file")
	flags.Bool("dryrun", false, "Shows operations without executing")
	flags.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	flags.Bool("quiet", false, "Suppress non-error output")
	flags.BoolP("verbose", "v", false, "Print debug output")
	flags.Int("concurrency", defaults.Concurrency, "Number of parts uploaded in parallel")
	flags.Int("max-attempts", defaults.MaxAttempts, "Attempts per part before the file fails")
	flags.Duration("stall-timeout", defaults.StallTimeout, "Abandon a part attempt that sends nothing for this long (0 disables)")
	flags.String("tier", defaults.Tier, "Account tier: standard or privileged")
	flags.String("min-chunk-size", "5MiB", "Smallest part size")
	flags.Int("max-chunks", defaults.MaxChunks, "Files needing more parts than this are skipped")
	flags.Bool("no-rapid-upload", false, "Never copy an identical object instead of uploading")
	flags.String("profile", "", "AWS profile to use")
	flags.String("region", "", "AWS region (uses default if not specified)")
	flags.String("endpoint-url", "", "Custom S3 endpoint")
	flags.Bool("path-style", false, "Use path-style addressing")
	flags.String("result-json-file", "", "Path to output result as JSON file")

	return rootCmd
}

func run(ctx context.Context, cfg *config.Config, localPath, s3URI string) error {
	startTime := time.Now()
	logger := logging.NewLogger(cfg.Quiet, cfg.Verbose)

	bucket, prefix, err := s3client.ParseS3URI(s3URI)
	if err != nil {
		return err
	}

	files, err := transfer.Discover(localPath, prefix, cfg.Excludes)
	if err != nil {
		return err
	}
	logger.Debug("found %d files under %s", len(files), localPath)

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	client := s3client.NewClient(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
		o.UsePathStyle = cfg.AWS.PathStyle
	})
	remote := s3remote.New(client, bucket)

	policy := cfg.Policy()
	if policy.MinChunkSize < s3remote.MinPartSize {
		logger.Warn("min chunk size raised to %d bytes, the S3 minimum part size", s3remote.MinPartSize)
		policy.MinChunkSize = s3remote.MinPartSize
	}

	var observer progress.Observer = progress.Nop{}
	if !cfg.Quiet {
		observer = logging.NewStatusLine()
	}

	engine := transfer.NewEngine(transfer.Options{
		Remote:      remote,
		Lister:      remote,
		Account:     transfer.Account{Name: cfg.AWS.Profile, Tier: cfg.ChunkTier()},
		Policy:      policy,
		Pool:        worker.NewPool(cfg.WorkerOptions(logger.AttemptFailed)),
		Store:       session.NewStore(),
		RapidUpload: cfg.RapidUpload,
		Observer:    observer,
		Logger:      logger,
	})

	if cfg.DryRun {
		return dryRun(ctx, engine, logger, bucket, files)
	}

	results := engine.TransferAll(ctx, files, func(i, n int, f transfer.FileDescriptor) {
		logger.FileHeader(i, n, f.RemoteName, f.Size)
	})

	result := UploadResult{Files: []ResultFile{}, Errors: []ErrorFile{}}
	for _, res := range results {
		target := formatS3Path(bucket, s3client.ObjectKey(res.File.RemoteDir, res.File.RemoteName))
		if res.Failed() {
			logger.Failure(res.File.Path, res.Err)
			result.Errors = append(result.Errors, ErrorFile{
				Source:   res.File.Path,
				Target:   target,
				FailedIn: res.FailedIn.String(),
				Error:    res.Err.Error(),
			})
			result.Summary.Failed++
			continue
		}

		file := ResultFile{
			Source:  res.File.Path,
			Target:  target,
			Reason:  res.Reason,
			Bytes:   res.Bytes,
			Seconds: res.Duration.Seconds(),
		}
		switch {
		case res.Skipped():
			logger.Info("skip: %s (%s)", res.File.Path, res.Reason)
			file.Action = "skipped"
			result.Summary.Skipped++
		case res.Rapid:
			file.Action = "rapid"
			result.Summary.Rapid++
			result.Summary.Uploaded++
		case res.Resumed:
			file.Action = "resumed"
			result.Summary.Resumed++
			result.Summary.Uploaded++
		default:
			file.Action = "uploaded"
			result.Summary.Uploaded++
		}
		result.Summary.Bytes += res.Bytes
		result.Files = append(result.Files, file)
	}

	logger.PrintSummary(logging.Summary{
		Uploaded: result.Summary.Uploaded,
		Resumed:  result.Summary.Resumed,
		Rapid:    result.Summary.Rapid,
		Skipped:  result.Summary.Skipped,
		Failed:   result.Summary.Failed,
		Bytes:    result.Summary.Bytes,
		Duration: time.Since(startTime),
	})

	if cfg.ResultJSONFile != "" {
		if err := writeUploadResult(cfg.ResultJSONFile, result); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	if result.Summary.Failed > 0 {
		return fmt.Errorf("%d files failed", result.Summary.Failed)
	}
	return ctx.Err()
}

func dryRun(ctx context.Context, engine *transfer.Engine, logger *logging.Logger, bucket string, files []transfer.FileDescriptor) error {
	var failed int
	for _, f := range files {
		res := engine.Plan(ctx, f)
		target := formatS3Path(bucket, s3client.ObjectKey(f.RemoteDir, f.RemoteName))
		switch {
		case res.Failed():
			failed++
			logger.Failure(f.Path, res.Err)
		case res.Action == plan.ActionSkip:
			logger.Info("(dryrun) skip: %s (%s)", f.Path, res.Reason)
		default:
			logger.Info("(dryrun) upload: %s to %s (%s, %d parts of %s)",
				f.Path, target, res.Reason, res.Chunks, humanize.IBytes(uint64(res.ChunkSize)))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d files could not be planned", failed)
	}
	return nil
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

func writeUploadResult(path string, result UploadResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

func formatS3Path(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}
