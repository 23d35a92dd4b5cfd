package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gatherly/server/internal/config"
	"github.com/rs/zerolog"
)

// S3Store keeps blobs in an S3 bucket. Keys get the configured prefix on the
// way in and URLs point at the bucket's public endpoint.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	region string
	logger zerolog.Logger
}

func NewS3Store(ctx context.Context, cfg config.MediaConfig, logger zerolog.Logger) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(cfg.S3Prefix, "/"),
		region: cfg.S3Region,
		logger: logger.With().Str("component", "media").Str("backend", "s3").Logger(),
	}, nil
}

func (s *S3Store) SaveCover(ctx context.Context, ownerID, filename string, content io.Reader) (string, error) {
	return s.save(ctx, coverKey(ownerID, filename), content)
}

func (s *S3Store) SaveGallery(ctx context.Context, eventID, filename string, content io.Reader) (string, error) {
	return s.save(ctx, galleryKey(eventID, filename), content)
}

func (s *S3Store) save(ctx context.Context, key string, content io.Reader) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   content,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("blob stored")
	return key, nil
}

func (s *S3Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) URL(key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, s.objectKey(key))
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
