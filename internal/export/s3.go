package export

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rescale/ventsim/internal/progress"
)

// S3Store uploads to an S3 bucket, or any endpoint speaking the S3 API.
type S3Store struct {
	client *s3.Client
	bucket string
	opts   Options
	retry  RetryConfig
}

// NewS3Store creates an S3 store. Static keys from cfg take precedence over
// the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg Config, opts Options) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(newHTTPClient()),
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		opts:   opts,
		retry:  DefaultRetryConfig(),
	}, nil
}

func (s *S3Store) Name() string { return BackendS3 }

// Upload puts the file at localPath under key.
func (s *S3Store) Upload(ctx context.Context, key, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", err
	}

	s.opts.Reporter.Start(info.Size(), key)
	retry := s.retry
	retry.OnRetry = func(attempt int, err error, errType ErrorType) {
		s.opts.Logger.Warn().Err(err).Int("attempt", attempt).Str("type", ErrorTypeName(errType)).Msg("Retrying S3 upload")
	}

	err = withRetry(ctx, retry, func() error {
		file, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          progress.NewProgressReader(file, info.Size(), s.opts.Reporter),
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String("application/gzip"),
		})
		return err
	})
	if err != nil {
		s.opts.Reporter.Error(err)
		return "", err
	}
	s.opts.Reporter.Finish()
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
