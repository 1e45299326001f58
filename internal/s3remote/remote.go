// Package s3remote implements the transfer collaborators on S3 multipart uploads.
package s3remote

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yuya-takeyama/strict-s3-upload/internal/checksum"
	"github.com/yuya-takeyama/strict-s3-upload/internal/chunk"
	"github.com/yuya-takeyama/strict-s3-upload/internal/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/internal/transfer"
)

// User metadata keys recorded on every object for digest based deduplication
const (
	MetaMD5   = "content-md5"
	MetaSlice = "slice-md5"
	MetaCRC32 = "content-crc32"
)

// MinPartSize is the smallest non-final part S3 accepts
const MinPartSize = 5 * chunk.MiB

// maxCopySize is the largest object a single CopyObject call can copy
const maxCopySize = 5 * chunk.GiB

// ErrUploadGone is returned when a multipart upload id is no longer known to S3
var ErrUploadGone = errors.New("multipart upload no longer exists")

// Remote uploads into one bucket
type Remote struct {
	client *s3client.Client
	bucket string
}

// New creates a new S3 remote
func New(client *s3client.Client, bucket string) *Remote {
	return &Remote{client: client, bucket: bucket}
}

// Begin reopens req.SessionID when S3 still knows it and otherwise starts a
// new multipart upload. Parts already stored with the expected ETag are not
// required again.
func (r *Remote) Begin(ctx context.Context, req transfer.BeginRequest) (*transfer.BeginResponse, error) {
	key := s3client.ObjectKey(req.RemoteDir, req.RemoteName)

	if req.SessionID != "" {
		required, err := r.requiredParts(ctx, key, req.SessionID, req.Digests.Chunks)
		if err == nil {
			return &transfer.BeginResponse{SessionID: req.SessionID, Required: required}, nil
		}
		if !errors.Is(err, ErrUploadGone) {
			return nil, err
		}
	}

	out, err := r.client.CreateMultipartUpload(ctx, r.bucket, key, contentType(req.LocalPath), metadata(req.Digests))
	if err != nil {
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}

	required := make([]int, len(req.Digests.Chunks))
	for i := range required {
		required[i] = i
	}
	return &transfer.BeginResponse{SessionID: aws.ToString(out.UploadId), Required: required}, nil
}

func (r *Remote) requiredParts(ctx context.Context, key, uploadID string, chunks []string) ([]int, error) {
	stored := make(map[int]bool, len(chunks))
	err := r.client.ListPartsPages(ctx, r.bucket, key, uploadID, func(parts []types.Part) error {
		for _, part := range parts {
			i := int(aws.ToInt32(part.PartNumber)) - 1
			if i < 0 || i >= len(chunks) {
				continue
			}
			if checksum.CompareChecksums(aws.ToString(part.ETag), chunks[i]) {
				stored[i] = true
			}
		}
		return nil
	})
	if err != nil {
		if s3client.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUploadGone, uploadID)
		}
		return nil, err
	}

	var required []int
	for i := range chunks {
		if !stored[i] {
			required = append(required, i)
		}
	}
	return required, nil
}

// UploadChunk uploads one part. S3 verifies the body against Content-MD5
// and the part's ETag is returned as the accepted digest.
func (r *Remote) UploadChunk(ctx context.Context, req transfer.ChunkRequest) (*transfer.ChunkResponse, error) {
	key := s3client.ObjectKey(req.RemoteDir, req.RemoteName)
	out, err := r.client.UploadPart(ctx, r.bucket, key, req.SessionID, int32(req.Index+1), req.Body, req.Length, contentMD5(req.ExpectedDigest))
	if err != nil {
		return nil, fmt.Errorf("upload part: %w", err)
	}
	return &transfer.ChunkResponse{AcceptedDigest: strings.Trim(aws.ToString(out.ETag), `"`)}, nil
}

// Finalize completes the multipart upload with every part in order
func (r *Remote) Finalize(ctx context.Context, req transfer.FinalizeRequest) error {
	key := s3client.ObjectKey(req.RemoteDir, req.RemoteName)
	parts := make([]types.CompletedPart, len(req.Digests.Chunks))
	for i, digest := range req.Digests.Chunks {
		parts[i] = types.CompletedPart{
			PartNumber: aws.Int32(int32(i + 1)),
			ETag:       aws.String(`"` + digest + `"`),
		}
	}

	if _, err := r.client.CompleteMultipartUpload(ctx, r.bucket, key, req.SessionID, parts); err != nil {
		if s3client.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUploadGone, req.SessionID)
		}
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

// List returns the names of objects and folders directly under dir
func (r *Remote) List(ctx context.Context, dir string) ([]string, error) {
	prefix := s3client.DirPrefix(dir)
	var names []string
	err := r.client.ListObjectsV2Pages(ctx, r.bucket, prefix, "/", func(page *s3.ListObjectsV2Output) error {
		for _, obj := range page.Contents {
			if name := strings.TrimPrefix(aws.ToString(obj.Key), prefix); name != "" {
				names = append(names, name)
			}
		}
		for _, p := range page.CommonPrefixes {
			if name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), prefix), "/"); name != "" {
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// RapidUpload copies an object with the same size and digests from the
// target directory instead of uploading the file again.
func (r *Remote) RapidUpload(ctx context.Context, req transfer.RapidRequest) (bool, error) {
	if req.Size > maxCopySize {
		return false, nil
	}

	prefix := s3client.DirPrefix(req.RemoteDir)
	target := s3client.ObjectKey(req.RemoteDir, req.RemoteName)

	var candidates []string
	err := r.client.ListObjectsV2Pages(ctx, r.bucket, prefix, "/", func(page *s3.ListObjectsV2Output) error {
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key != target && aws.ToInt64(obj.Size) == req.Size {
				candidates = append(candidates, key)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	want := metadata(req.Digests)
	for _, key := range candidates {
		head, err := r.client.HeadObject(ctx, r.bucket, key)
		if err != nil {
			if s3client.IsNotFound(err) {
				continue
			}
			return false, fmt.Errorf("head object %s: %w", key, err)
		}
		if !sameDigests(head.Metadata, want) {
			continue
		}
		if _, err := r.client.CopyObject(ctx, r.bucket, key, target); err != nil {
			return false, fmt.Errorf("copy object %s: %w", key, err)
		}
		return true, nil
	}
	return false, nil
}

func metadata(d *checksum.Digests) map[string]string {
	return map[string]string{
		MetaMD5:   d.File,
		MetaSlice: d.Slice,
		MetaCRC32: strconv.FormatUint(uint64(d.CRC32), 10),
	}
}

func sameDigests(got, want map[string]string) bool {
	for k, v := range want {
		if !strings.EqualFold(got[k], v) {
			return false
		}
	}
	return true
}

// contentMD5 converts a hex digest into the base64 form of the Content-MD5 header
func contentMD5(hexDigest string) string {
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
