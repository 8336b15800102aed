package export

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureStore uploads to an Azure Blob Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
	opts      Options
	retry     RetryConfig
}

// NewAzureStore creates an Azure store from a connection string, or from an
// account URL carrying a SAS token.
func NewAzureStore(cfg Config, opts Options) (*AzureStore, error) {
	clientOpts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{Transport: newHTTPClient()},
	}

	var (
		client *azblob.Client
		err    error
	)
	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, clientOpts)
	} else {
		client, err = azblob.NewClientWithNoCredential(cfg.AccountURL, clientOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &AzureStore{
		client:    client,
		container: cfg.Bucket,
		opts:      opts,
		retry:     DefaultRetryConfig(),
	}, nil
}

func (s *AzureStore) Name() string { return BackendAzure }

// Upload uploads the file at localPath as a block blob named key.
func (s *AzureStore) Upload(ctx context.Context, key, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", err
	}

	s.opts.Reporter.Start(info.Size(), key)
	retry := s.retry
	retry.OnRetry = func(attempt int, err error, errType ErrorType) {
		s.opts.Logger.Warn().Err(err).Int("attempt", attempt).Str("type", ErrorTypeName(errType)).Msg("Retrying Azure upload")
	}

	err = withRetry(ctx, retry, func() error {
		file, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = s.client.UploadFile(ctx, s.container, key, file, &azblob.UploadFileOptions{
			Progress: func(bytesTransferred int64) {
				s.opts.Reporter.Update(bytesTransferred)
			},
		})
		return err
	})
	if err != nil {
		s.opts.Reporter.Error(err)
		return "", err
	}
	s.opts.Reporter.Finish()

	base := s.client.URL()
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, "/") + "/" + s.container + "/" + key, nil
}
