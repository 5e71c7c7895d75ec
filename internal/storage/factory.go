package storage

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/samber/lo"

	"github.com/SanishKumar/comfy-service/internal/config"
	"github.com/SanishKumar/comfy-service/internal/interfaces"
)

// Factory image store factory
type Factory struct {
	// newS3Client is replaced in tests
	newS3Client func(ctx context.Context) (S3API, error)
}

// NewFactory creates factory instance
func NewFactory() *Factory {
	return &Factory{newS3Client: defaultS3Client}
}

func defaultS3Client(ctx context.Context) (S3API, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// CreateStore creates the image store selected by configuration
func (f *Factory) CreateStore(ctx context.Context, cfg config.OutputConfig) (interfaces.ImageStore, error) {
	switch cfg.Backend {
	case config.StorageBackendLocal:
		return NewLocalStore(cfg.Directory)
	case config.StorageBackendS3:
		if cfg.S3Bucket == "" {
			return nil, config.ErrS3BucketRequired
		}
		client, err := f.newS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// GetSupportedTypes gets supported storage backends
func (f *Factory) GetSupportedTypes() []string {
	return []string{
		config.StorageBackendLocal,
		config.StorageBackendS3,
	}
}

// ValidateStoreType validates if a storage backend is supported
func (f *Factory) ValidateStoreType(backend string) bool {
	return lo.Contains(f.GetSupportedTypes(), backend)
}
