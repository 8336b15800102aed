// Package export uploads archived cases to object storage.
package export

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rescale/ventsim/internal/logging"
	"github.com/rescale/ventsim/internal/progress"
)

// Supported backends.
const (
	BackendS3    = "s3"
	BackendAzure = "azure"
	BackendMinIO = "minio"
)

// ErrNotConfigured is returned when no export backend is set.
var ErrNotConfigured = errors.New("export backend not configured")

// Store uploads a local file and returns where it was stored.
type Store interface {
	Name() string
	Upload(ctx context.Context, key, localPath string) (string, error)
}

// Config selects and configures a backend. It is the [export] section of the
// configuration file.
type Config struct {
	Backend string `ini:"backend"`
	Bucket  string `ini:"bucket"`
	Prefix  string `ini:"prefix"`
	Region  string `ini:"region"`
	// Endpoint overrides the S3 endpoint, or is the MinIO host:port.
	Endpoint  string `ini:"endpoint"`
	AccessKey string `ini:"access_key"`
	SecretKey string `ini:"secret_key"`
	UseSSL    bool   `ini:"use_ssl"`
	// ConnectionString or AccountURL (with a SAS token) authenticate Azure.
	ConnectionString string `ini:"connection_string"`
	AccountURL       string `ini:"account_url"`
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case "":
		return ErrNotConfigured
	case BackendS3:
		if c.Bucket == "" {
			return fmt.Errorf("s3 export requires a bucket")
		}
	case BackendAzure:
		if c.Bucket == "" {
			return fmt.Errorf("azure export requires a container (bucket)")
		}
		if c.ConnectionString == "" && c.AccountURL == "" {
			return fmt.Errorf("azure export requires connection_string or account_url")
		}
	case BackendMinIO:
		if c.Endpoint == "" || c.Bucket == "" {
			return fmt.Errorf("minio export requires endpoint and bucket")
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return fmt.Errorf("minio export requires access_key and secret_key")
		}
	default:
		return fmt.Errorf("unknown export backend %q", c.Backend)
	}
	return nil
}

// ObjectKey joins prefix and name into an object key.
func (c Config) ObjectKey(name string) string {
	prefix := strings.Trim(c.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Options are shared by every backend.
type Options struct {
	Logger *logging.Logger
	// Reporter receives byte progress of each upload.
	Reporter progress.Reporter
}

// New creates the store cfg selects.
func New(ctx context.Context, cfg Config, opts Options) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.NewNoOpProgress()
	}
	opts.Logger = logging.OrNop(opts.Logger).Component("export")

	switch cfg.Backend {
	case BackendS3:
		return NewS3Store(ctx, cfg, opts)
	case BackendAzure:
		return NewAzureStore(cfg, opts)
	default:
		return NewMinIOStore(ctx, cfg, opts)
	}
}
