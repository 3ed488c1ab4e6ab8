package storage

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	_, err := NewS3Archive(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		wantErr     bool
	}{
		{ContentTypeJSON, false},
		{"text/csv", true},
		{ContentTypePNG, false},
		{"audio/wav", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			err := validateContentType(tt.contentType)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunKey(t *testing.T) {
	assert.Equal(t, "runs/abc/traces.json", RunKey("abc", "traces.json"))
}

func TestGenerateDownloadURL_PathStyle(t *testing.T) {
	archive, err := NewS3Archive(context.Background(), S3Config{
		Bucket:    "qubitcal-runs",
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)

	url, err := archive.GenerateDownloadURL(context.Background(), RunKey("abc", "traces.json"))
	require.NoError(t, err)
	assert.Contains(t, url, "http://localhost:9000/qubitcal-runs/runs/abc/traces.json")
	assert.Contains(t, url, "X-Amz-Signature")
}

func TestUpload_RejectsContentType(t *testing.T) {
	archive, err := NewS3Archive(context.Background(), S3Config{
		Bucket:    "qubitcal-runs",
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)

	err = archive.Upload(context.Background(), "runs/x/a.wav", []byte("x"), "audio/wav")
	assert.ErrorContains(t, err, "invalid content type")
}

func TestArchive_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := minio.Run(ctx,
		"minio/minio:RELEASE.2024-10-29T16-01-48Z",
		minio.WithUsername("minioadmin"),
		minio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	archive, err := NewS3Archive(ctx, S3Config{
		Bucket:    "qubitcal-runs",
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)

	client := archive.(*s3Archive).client
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("qubitcal-runs")})
	require.NoError(t, err)

	key := RunKey("run-1", "traces.json")
	payload := []byte(`{"rr0":[1,2,3]}`)
	require.NoError(t, archive.Upload(ctx, key, payload, ContentTypeJSON))

	got, err := archive.DownloadFile(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, archive.DeleteFile(ctx, key))
	_, err = archive.DownloadFile(ctx, key)
	assert.Error(t, err)
}
