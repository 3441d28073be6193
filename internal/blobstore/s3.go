// Copyright 2025 James Ross
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Store is an S3-compatible Store, grounded on the teacher's
// long-term-archives.S3Exporter session/client/uploader construction
// idiom, adapted from batch-export semantics to plain keyed blob
// operations. Works against AWS S3 and MinIO/S3-compatible endpoints by
// setting Endpoint and S3ForcePathStyle, same as S3Exporter.initAWS.
type S3Store struct {
	bucket    string
	keyPrefix string
	client    *s3.S3
	uploader  *s3manager.Uploader
}

// NewS3Store builds a session against cfg and verifies bucket access.
func NewS3Store(cfg BlobStoreConfig) (*S3Store, error) {
	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("blobstore: create aws session: %w", err)
	}

	client := s3.New(sess)
	if _, err := client.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("blobstore: access bucket %s: %w", cfg.Bucket, err)
	}

	return &S3Store{
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		client:    client,
		uploader:  s3manager.NewUploader(sess),
	}, nil
}

// BlobStoreConfig is the subset of internal/config.BlobStore this
// package needs, kept local so internal/blobstore has no import-time
// dependency on internal/config.
type BlobStoreConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	KeyPrefix string
}

func (s *S3Store) fullKey(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return strings.TrimSuffix(s.keyPrefix, "/") + "/" + key
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("blobstore: put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if awsErr, ok := err.(interface{ Code() string }); ok && (awsErr.Code() == s3.ErrCodeNoSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if awsErr, ok := err.(interface{ Code() string }); ok && awsErr.Code() == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: head %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			keys = append(keys, strings.TrimPrefix(strings.TrimPrefix(*obj.Key, s.keyPrefix), "/"))
		}
		return !lastPage
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: list %s: %w", prefix, err)
	}
	return keys, nil
}

var _ Store = (*S3Store)(nil)
