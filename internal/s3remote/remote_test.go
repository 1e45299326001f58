package s3remote

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-s3-upload/internal/checksum"
	"github.com/yuya-takeyama/strict-s3-upload/internal/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/internal/s3client/s3clienttest"
	"github.com/yuya-takeyama/strict-s3-upload/internal/transfer"
)

var testDigests = &checksum.Digests{
	File:   "9e107d9d372bb6826bd81d3542a419d6",
	Slice:  "e4d909c290d0fb1ca068ffaddf22cbd0",
	CRC32:  414141,
	Chunks: []string{"aaaa0000aaaa0000aaaa0000aaaa0000", "bbbb1111bbbb1111bbbb1111bbbb1111", "cccc2222cccc2222cccc2222cccc2222"},
}

func newRemote(mock *s3clienttest.MockAPI) *Remote {
	return New(s3client.NewClientWithAPI(mock), "bucket")
}

func TestBeginCreatesUpload(t *testing.T) {
	var created *s3.CreateMultipartUploadInput
	mock := &s3clienttest.MockAPI{
		CreateMultipartUploadFunc: func(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			created = in
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("new-id")}, nil
		},
	}

	resp, err := newRemote(mock).Begin(context.Background(), transfer.BeginRequest{
		LocalPath:  "/tmp/report.json",
		RemoteDir:  "docs",
		RemoteName: "report.json",
		Digests:    testDigests,
	})

	require.NoError(t, err)
	assert.Equal(t, "new-id", resp.SessionID)
	assert.Equal(t, []int{0, 1, 2}, resp.Required)

	require.NotNil(t, created)
	assert.Equal(t, "docs/report.json", aws.ToString(created.Key))
	assert.Equal(t, "application/json", aws.ToString(created.ContentType))
	assert.Equal(t, testDigests.File, created.Metadata[MetaMD5])
	assert.Equal(t, testDigests.Slice, created.Metadata[MetaSlice])
	assert.Equal(t, "414141", created.Metadata[MetaCRC32])
}

func TestBeginResumesUpload(t *testing.T) {
	mock := &s3clienttest.MockAPI{
		ListPartsFunc: func(ctx context.Context, in *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
			assert.Equal(t, "old-id", aws.ToString(in.UploadId))
			return &s3.ListPartsOutput{Parts: []types.Part{
				{PartNumber: aws.Int32(1), ETag: aws.String(`"` + testDigests.Chunks[0] + `"`)},
				{PartNumber: aws.Int32(2), ETag: aws.String(`"deadbeef"`)},
				{PartNumber: aws.Int32(9), ETag: aws.String(`"whatever"`)},
			}}, nil
		},
		CreateMultipartUploadFunc: func(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			t.Fatal("must not create a new upload")
			return nil, nil
		},
	}

	resp, err := newRemote(mock).Begin(context.Background(), transfer.BeginRequest{
		SessionID:  "old-id",
		RemoteDir:  "videos",
		RemoteName: "movie.mp4",
		Digests:    testDigests,
	})

	require.NoError(t, err)
	assert.Equal(t, "old-id", resp.SessionID)
	assert.Equal(t, []int{1, 2}, resp.Required)
}

func TestBeginReplacesVanishedUpload(t *testing.T) {
	mock := &s3clienttest.MockAPI{
		ListPartsFunc: func(ctx context.Context, in *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "NoSuchUpload"}
		},
		CreateMultipartUploadFunc: func(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("new-id")}, nil
		},
	}

	resp, err := newRemote(mock).Begin(context.Background(), transfer.BeginRequest{
		SessionID:  "old-id",
		RemoteDir:  "videos",
		RemoteName: "movie.mp4",
		Digests:    testDigests,
	})

	require.NoError(t, err)
	assert.Equal(t, "new-id", resp.SessionID)
	assert.Equal(t, []int{0, 1, 2}, resp.Required)
}

func TestBeginListPartsError(t *testing.T) {
	mock := &s3clienttest.MockAPI{
		ListPartsFunc: func(ctx context.Context, in *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied"}
		},
	}

	_, err := newRemote(mock).Begin(context.Background(), transfer.BeginRequest{
		SessionID: "old-id",
		Digests:   testDigests,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUploadGone)
}

func TestUploadChunk(t *testing.T) {
	mock := &s3clienttest.MockAPI{
		UploadPartFunc: func(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
			assert.Equal(t, "videos/movie.mp4", aws.ToString(in.Key))
			assert.Equal(t, "u1", aws.ToString(in.UploadId))
			assert.Equal(t, int32(3), aws.ToInt32(in.PartNumber))
			assert.Equal(t, int64(5), aws.ToInt64(in.ContentLength))
			assert.Equal(t, "XrY7u+Ae7tCTyyK7j1rNww==", aws.ToString(in.ContentMD5))

			body, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(body))
			return &s3.UploadPartOutput{ETag: aws.String(`"5d41402abc4b2a76b9719d911017c592"`)}, nil
		},
	}

	resp, err := newRemote(mock).UploadChunk(context.Background(), transfer.ChunkRequest{
		SessionID:      "u1",
		RemoteDir:      "videos",
		RemoteName:     "movie.mp4",
		Index:          2,
		Length:         5,
		ExpectedDigest: "5d41402abc4b2a76b9719d911017c592",
		Body:           strings.NewReader("hello"),
	})

	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", resp.AcceptedDigest)
}

func TestFinalize(t *testing.T) {
	mock := &s3clienttest.MockAPI{
		CompleteMultipartUploadFunc: func(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
			parts := in.MultipartUpload.Parts
			require.Len(t, parts, 3)
			for i, p := range parts {
				assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
				assert.Equal(t, `"`+testDigests.Chunks[i]+`"`, aws.ToString(p.ETag))
			}
			return &s3.CompleteMultipartUploadOutput{}, nil
		},
	}

	err := newRemote(mock).Finalize(context.Background(), transfer.FinalizeRequest{
		SessionID:  "u1",
		RemoteDir:  "videos",
		RemoteName: "movie.mp4",
		Digests:    testDigests,
	})
	require.NoError(t, err)
}

func TestFinalizeUploadGone(t *testing.T) {
	mock := &s3clienttest.MockAPI{
		CompleteMultipartUploadFunc: func(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
			return nil, &types.NoSuchUpload{}
		},
	}

	err := newRemote(mock).Finalize(context.Background(), transfer.FinalizeRequest{SessionID: "u1", Digests: testDigests})
	assert.ErrorIs(t, err, ErrUploadGone)
}

func TestList(t *testing.T) {
	mock := &s3clienttest.MockAPI{
		ListObjectsV2Func: func(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			assert.Equal(t, "videos/", aws.ToString(in.Prefix))
			assert.Equal(t, "/", aws.ToString(in.Delimiter))
			return &s3.ListObjectsV2Output{
				Contents: []types.Object{
					{Key: aws.String("videos/")},
					{Key: aws.String("videos/a.mp4")},
				},
				CommonPrefixes: []types.CommonPrefix{{Prefix: aws.String("videos/2024/")}},
			}, nil
		},
	}

	names, err := newRemote(mock).List(context.Background(), "videos")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "2024"}, names)
}

func TestRapidUpload(t *testing.T) {
	listing := &s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("videos/other-size.mp4"), Size: aws.Int64(1)},
			{Key: aws.String("videos/different.mp4"), Size: aws.Int64(100)},
			{Key: aws.String("videos/copy.mp4"), Size: aws.Int64(100)},
		},
	}
	heads := map[string]map[string]string{
		"videos/different.mp4": {MetaMD5: "0000", MetaSlice: testDigests.Slice, MetaCRC32: "414141"},
		"videos/copy.mp4":      metadata(testDigests),
	}

	tests := []struct {
		name     string
		size     int64
		wantCopy string
	}{
		{"matching object is copied", 100, "videos/copy.mp4"},
		{"no object of that size", 42, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var copied string
			mock := &s3clienttest.MockAPI{
				ListObjectsV2Func: func(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
					return listing, nil
				},
				HeadObjectFunc: func(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
					return &s3.HeadObjectOutput{Metadata: heads[aws.ToString(in.Key)]}, nil
				},
				CopyObjectFunc: func(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
					copied = strings.TrimPrefix(aws.ToString(in.CopySource), "bucket/")
					assert.Equal(t, "videos/movie.mp4", aws.ToString(in.Key))
					return &s3.CopyObjectOutput{}, nil
				},
			}

			ok, err := newRemote(mock).RapidUpload(context.Background(), transfer.RapidRequest{
				RemoteDir:  "videos",
				RemoteName: "movie.mp4",
				Size:       tt.size,
				Digests:    testDigests,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.wantCopy != "", ok)
			assert.Equal(t, tt.wantCopy, copied)
		})
	}
}

func TestRapidUploadSkipsHugeFiles(t *testing.T) {
	mock := &s3clienttest.MockAPI{
		ListObjectsV2Func: func(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			t.Fatal("must not list")
			return nil, nil
		},
	}

	ok, err := newRemote(mock).RapidUpload(context.Background(), transfer.RapidRequest{Size: maxCopySize + 1, Digests: testDigests})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("report.json"))

	path := filepath.Join(t.TempDir(), "noext")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0644))
	assert.Equal(t, "application/pdf", contentType(path))

	assert.Equal(t, "", contentType(filepath.Join(t.TempDir(), "missing")))
}

func TestContentMD5(t *testing.T) {
	assert.Equal(t, "XrY7u+Ae7tCTyyK7j1rNww==", contentMD5("5d41402abc4b2a76b9719d911017c592"))
	assert.Equal(t, "", contentMD5("not-hex"))
}
