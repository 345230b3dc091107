// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// Multipart part size used by the S3 manager: 10MB
	partSize = 10 * 1024 * 1024
	// Concurrent part uploads within a single segment
	partConcurrency = 3
)

// S3Options configures an S3Uploader.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // Optional custom endpoint (LocalStack, MinIO)
}

// objectPutter is the subset of manager.Uploader used here.
type objectPutter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader uploads blobs to S3 with automatic multipart for large bodies.
type S3Uploader struct {
	putter objectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Uploader creates a new S3 uploader using the default AWS credential chain.
func NewS3Uploader(ctx context.Context, opts S3Options, logger *zap.Logger) (*S3Uploader, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}

	// LocalStack and MinIO accept any static key pair
	if opts.Endpoint != "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
			logger.Info("Using custom S3 endpoint", zap.String("endpoint", opts.Endpoint))
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = partConcurrency
	})

	return &S3Uploader{
		putter: uploader,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		logger: logger,
	}, nil
}

// Key returns the object key for name.
func (u *S3Uploader) Key(name string) string {
	return path.Join(u.prefix, name)
}

// Upload implements Uploader. It returns the object location reported by S3,
// or an s3:// URL when the endpoint reports none.
func (u *S3Uploader) Upload(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
	key := u.Key(name)

	u.logger.Info("Uploading object to S3",
		zap.String("s3_key", key),
		zap.Int64("size", size))

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := u.putter.Upload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	location := out.Location
	if location == "" {
		location = fmt.Sprintf("s3://%s/%s", u.bucket, key)
	}

	u.logger.Info("Object uploaded successfully",
		zap.String("s3_key", key),
		zap.String("location", location),
		zap.Int64("size", size))

	return location, nil
}
