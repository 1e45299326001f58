package s3client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
)

// API is the subset of *s3.Client used by Client
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
}

// Client wraps the S3 client with retry logic
type Client struct {
	api        API
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a new S3 client wrapper. Checksums are only computed
// when an operation requires them, since parts carry their own Content-MD5.
func NewClient(cfg aws.Config, optFns ...func(*s3.Options)) *Client {
	optFns = append([]func(*s3.Options){func(o *s3.Options) {
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}}, optFns...)
	return NewClientWithAPI(s3.NewFromConfig(cfg, optFns...))
}

// NewClientWithAPI creates a client over any API implementation
func NewClientWithAPI(api API) *Client {
	return &Client{
		api:        api,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
}

// ListObjectsV2Pages lists objects and common prefixes page by page
func (c *Client) ListObjectsV2Pages(ctx context.Context, bucket, prefix, delimiter string, fn func(*s3.ListObjectsV2Output) error) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}
	paginator := s3.NewListObjectsV2Paginator(c.api, input)

	for paginator.HasMorePages() {
		page, err := withRetry(ctx, c, func() (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}

		if err := fn(page); err != nil {
			return err
		}
	}

	return nil
}

// HeadObject retrieves object metadata
func (c *Client) HeadObject(ctx context.Context, bucket, key string) (*s3.HeadObjectOutput, error) {
	return withRetry(ctx, c, func() (*s3.HeadObjectOutput, error) {
		return c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	})
}

// CopyObject copies an object within the bucket, keeping its metadata
func (c *Client) CopyObject(ctx context.Context, bucket, srcKey, dstKey string) (*s3.CopyObjectOutput, error) {
	return withRetry(ctx, c, func() (*s3.CopyObjectOutput, error) {
		return c.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:            aws.String(bucket),
			Key:               aws.String(dstKey),
			CopySource:        aws.String(bucket + "/" + srcKey),
			MetadataDirective: types.MetadataDirectiveCopy,
		})
	})
}

// CreateMultipartUpload initiates a multipart upload
func (c *Client) CreateMultipartUpload(ctx context.Context, bucket, key, contentType string, metadata map[string]string) (*s3.CreateMultipartUploadOutput, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Metadata: metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	return withRetry(ctx, c, func() (*s3.CreateMultipartUploadOutput, error) {
		return c.api.CreateMultipartUpload(ctx, input)
	})
}

// UploadPart uploads a part of a multipart upload in a single attempt.
// Retries belong to the caller, which can reopen the body and verify the part.
func (c *Client) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.Reader, size int64, contentMD5 string) (*s3.UploadPartOutput, error) {
	input := &s3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentMD5 != "" {
		input.ContentMD5 = aws.String(contentMD5)
	}
	return c.api.UploadPart(ctx, input, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
	})
}

// ListPartsPages lists the parts already uploaded to a multipart upload
func (c *Client) ListPartsPages(ctx context.Context, bucket, key, uploadID string, fn func([]types.Part) error) error {
	paginator := s3.NewListPartsPaginator(c.api, &s3.ListPartsInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})

	for paginator.HasMorePages() {
		page, err := withRetry(ctx, c, func() (*s3.ListPartsOutput, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return fmt.Errorf("list parts: %w", err)
		}

		if err := fn(page.Parts); err != nil {
			return err
		}
	}

	return nil
}

// CompleteMultipartUpload completes a multipart upload
func (c *Client) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.CompletedPart) (*s3.CompleteMultipartUploadOutput, error) {
	return withRetry(ctx, c, func() (*s3.CompleteMultipartUploadOutput, error) {
		return c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		})
	})
}

// withRetry calls op until it succeeds, fails with a non-retryable error or
// the retries run out, backing off between attempts.
func withRetry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		output, err := op()
		if err == nil {
			return output, nil
		}

		if !c.isRetryableError(err) {
			return zero, err
		}

		lastErr = err
		if attempt < c.maxRetries {
			delay := c.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryableError checks if an error is retryable
func (c *Client) isRetryableError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "RequestTimeoutException", "InternalError":
			return true
		}
		// Retry on 5xx errors
		if httpErr, ok := apiErr.(interface{ HTTPStatusCode() int }); ok {
			code := httpErr.HTTPStatusCode()
			return code >= 500 && code < 600
		}
	}
	// Also retry on network errors
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// calculateDelay calculates the retry delay with exponential backoff and jitter
func (c *Client) calculateDelay(attempt int) time.Duration {
	base := float64(c.baseDelay)
	delay := base * math.Pow(2.0, float64(attempt))

	// Add jitter (±25%)
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter

	// Cap at maxDelay
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}

	return time.Duration(delay)
}

// IsNotFound reports whether err is a missing object or upload
func IsNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) || errors.As(err, &noSuchUpload) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchUpload":
			return true
		}
	}
	return false
}
