package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/SanishKumar/comfy-service/internal/config"
	"github.com/SanishKumar/comfy-service/internal/interfaces"
)

// S3API is the part of *s3.Client the store uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Store keeps images as objects under an optional key prefix
type S3Store struct {
	client S3API
	bucket string
	prefix string
	logger *logrus.Logger
}

// NewS3Store creates an S3 backed store
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: config.NewLogger(),
	}
}

// Save uploads data and returns its s3:// URI
func (s *S3Store) Save(ctx context.Context, name string, data []byte) (string, error) {
	key := s.prefix + name

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("image/png"),
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	uri := s.uri(key)
	s.logger.WithFields(logrus.Fields{
		"path":       uri,
		"size_bytes": len(data),
	}).Debug("Image uploaded")
	return uri, nil
}

// List lists .png objects under the prefix, newest first
func (s *S3Store) List(ctx context.Context) ([]interfaces.ImageInfo, error) {
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var images []interfaces.ImageInfo
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list images: %w", err)
		}

		objs := lo.Filter(page.Contents, func(o s3types.Object, _ int) bool {
			key := aws.ToString(o.Key)
			// direct children of the prefix only, like the local directory
			return strings.HasSuffix(key, ".png") && !strings.Contains(strings.TrimPrefix(key, s.prefix), "/")
		})
		images = append(images, lo.Map(objs, func(o s3types.Object, _ int) interfaces.ImageInfo {
			key := aws.ToString(o.Key)
			return interfaces.ImageInfo{
				Filename:  path.Base(key),
				SizeBytes: aws.ToInt64(o.Size),
				Created:   aws.ToTime(o.LastModified),
				Path:      s.uri(key),
			}
		})...)
	}

	if images == nil {
		images = []interfaces.ImageInfo{}
	}
	sortNewestFirst(images)
	return images, nil
}

func (s *S3Store) uri(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}
