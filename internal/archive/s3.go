// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
)

// S3Transport implements Transport for AWS S3 and S3-compatible stores.
type S3Transport struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Transport creates an S3-backed transport. Static credentials from
// the config take precedence; otherwise the ambient AWS chain applies.
func NewS3Transport(ctx context.Context, cfg config.ArchiveConfig) (*S3Transport, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Transport{
		client: client,
		bucket: cfg.Path,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Transport) fullKey(key string) string {
	return path.Join(s.prefix, key)
}

func (s *S3Transport) Put(ctx context.Context, key string, data io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   data,
	})
	return faults.Wrap(faults.KindTransientIO, "s3 put failed", err)
}

func (s *S3Transport) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, faults.Wrap(faults.KindNotFound, key, err)
		}
		return nil, faults.Wrap(faults.KindTransientIO, "s3 get failed", err)
	}
	return result.Body, nil
}

func (s *S3Transport) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	fullPrefix := s.fullKey(prefix)
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, faults.Wrap(faults.KindTransientIO, "s3 list failed", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Strip the transport prefix so keys match what callers Put.
			if s.prefix != "" {
				key = key[min(len(s.prefix)+1, len(key)):]
			}
			objects = append(objects, ObjectInfo{
				Key:  key,
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

func (s *S3Transport) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	return faults.Wrap(faults.KindTransientIO, "s3 delete failed", err)
}

func (s *S3Transport) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, faults.Wrap(faults.KindTransientIO, "s3 head failed", err)
	}
	return true, nil
}

func (s *S3Transport) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, faults.Wrap(faults.KindNotFound, key, err)
		}
		return ObjectInfo{}, faults.Wrap(faults.KindTransientIO, "s3 head failed", err)
	}
	return ObjectInfo{Key: key, Size: aws.ToInt64(result.ContentLength)}, nil
}

func (s *S3Transport) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return faults.Wrap(faults.KindTransientIO, "s3 bucket unreachable", err)
}

func (s *S3Transport) Close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	var noKey *types.NoSuchKey
	return errors.As(err, &noKey)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	return errors.As(err, &notFound) || isNoSuchKey(err)
}
