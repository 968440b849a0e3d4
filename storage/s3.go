package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"rankpool/models"
)

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket   string
	Prefix   string
	Endpoint string // Optional: for MinIO, R2, etc.
}

type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver keeps raw pages that produced no records so selectors can be
// fixed against the exact payload.
type S3Archiver struct {
	client s3PutAPI
	bucket string
	prefix string
}

func NewS3Archiver(awsCfg aws.Config, cfg S3Config) *S3Archiver {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

func (a *S3Archiver) Archive(ctx context.Context, page *models.RawPage) (string, error) {
	var first string
	for _, obj := range archiveObjects(page) {
		key := obj.key
		if a.prefix != "" {
			key = a.prefix + "/" + key
		}
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(obj.data),
			ContentType: aws.String(obj.contentType),
		})
		if err != nil {
			return "", fmt.Errorf("put object: %w", err)
		}
		if first == "" {
			first = fmt.Sprintf("s3://%s/%s", a.bucket, key)
		}
	}
	return first, nil
}
