package state

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store loads and saves the machine state.
type Store interface {
	Load(ctx context.Context) (*Machine, error)
	Save(ctx context.Context, m *Machine) error
}

// FileStore keeps the state in a JSON file.
type FileStore struct {
	Path string
}

// NewFileStore creates a file-backed store
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads and parses the state file
func (s *FileStore) Load(ctx context.Context) (*Machine, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	return Decode(data)
}

// Save writes the state through a temp file so a crash never leaves a
// truncated document behind.
func (s *FileStore) Save(ctx context.Context, m *Machine) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// ObjectStoreConfig locates the state object in a MinIO bucket.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Key       string
	UseSSL    bool
}

// ObjectStore keeps the state as a single object in MinIO.
type ObjectStore struct {
	client *minio.Client
	bucket string
	key    string
}

// NewObjectStore connects to MinIO and makes sure the bucket exists.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("STATE_BUCKET is required")
	}
	if cfg.Key == "" {
		cfg.Key = "quam_state.json"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check state bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create state bucket: %w", err)
		}
	}

	return &ObjectStore{client: client, bucket: cfg.Bucket, key: cfg.Key}, nil
}

// Load fetches and parses the state object
func (s *ObjectStore) Load(ctx context.Context) (*Machine, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get state object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read state object: %w", err)
	}
	return Decode(data)
}

// Save uploads the state object
func (s *ObjectStore) Save(ctx context.Context, m *Machine) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to put state object: %w", err)
	}
	return nil
}
