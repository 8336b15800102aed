package export

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore uploads to a MinIO bucket, creating it when missing.
type MinIOStore struct {
	client *minio.Client
	bucket string
	region string
	opts   Options
	retry  RetryConfig
}

// NewMinIOStore creates a MinIO store and ensures the bucket exists.
func NewMinIOStore(ctx context.Context, cfg Config, opts Options) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newHTTPClient().Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	s := &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		opts:   opts,
		retry:  DefaultRetryConfig(),
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	s.opts.Logger.Info().Str("bucket", s.bucket).Msg("Created export bucket")
	return nil
}

func (s *MinIOStore) Name() string { return BackendMinIO }

// Upload puts the file at localPath under key.
func (s *MinIOStore) Upload(ctx context.Context, key, localPath string) (string, error) {
	var info minio.UploadInfo
	err := withRetry(ctx, s.retry, func() error {
		var err error
		info, err = s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
			ContentType: "application/gzip",
		})
		return err
	})
	if err != nil {
		s.opts.Reporter.Error(err)
		return "", err
	}
	s.opts.Logger.Debug().Str("etag", info.ETag).Int64("size", info.Size).Msg("Uploaded to MinIO")
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucket, key), nil
}
