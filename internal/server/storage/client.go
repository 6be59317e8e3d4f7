// Package storage is the blob gateway. It stores chunk ciphertext in an
// S3-compatible bucket (MinIO in the default deployment) and verifies a
// SHA-256 digest on every read.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
)

const (
	checksumMetaKey = "sha256"

	initBucketAttempts = 5
	initBucketDelay    = 2 * time.Second
)

// s3API is the slice of the S3 client the gateway uses; tests substitute a fake.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Client talks to one bucket of the configured S3-compatible endpoint.
type Client struct {
	api    s3API
	bucket string
}

// Config carries the gateway connection settings.
type Config struct {
	Region       string
	RootUser     string
	RootPassword string
	BaseEndpoint string
	Bucket       string
}

// NewClient builds a gateway client with static credentials against the
// configured base endpoint. Path-style addressing is forced because MinIO
// does not serve virtual-host bucket URLs out of the box.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.RootUser,
			cfg.RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		o.UsePathStyle = true
	})

	return &Client{api: api, bucket: cfg.Bucket}, nil
}

// initBucketBackoff is a seam so tests can drop the retry delay.
var initBucketBackoff = func() retry.Backoff {
	return retry.WithMaxRetries(initBucketAttempts-1, retry.NewConstant(initBucketDelay))
}

// InitBucket creates the bucket if it does not exist yet, retrying a few
// times with a fixed delay since the object store may still be starting
// when the server comes up. A bucket that already exists counts as success.
func (c *Client) InitBucket(ctx context.Context) error {
	return retry.Do(ctx, initBucketBackoff(), func(ctx context.Context) error {
		_, err := c.api.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(c.bucket),
		})
		if err == nil {
			return nil
		}
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return retry.RetryableError(fmt.Errorf("failed to create bucket: %w", err))
	})
}

// Upload stores one chunk under key and records its SHA-256 digest as
// object metadata for verification on download.
func (c *Client) Upload(ctx context.Context, key string, data []byte) error {
	sum := sha256.Sum256(data)
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			checksumMetaKey: hex.EncodeToString(sum[:]),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload chunk: %v", common.ErrUpstream, err)
	}
	return nil
}

// Download fetches one chunk and recomputes its digest against the one
// recorded at upload. A mismatch returns ErrIntegrity and no data.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to download chunk: %v", common.ErrUpstream, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read chunk body: %v", common.ErrUpstream, err)
	}

	if want, ok := out.Metadata[checksumMetaKey]; ok {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != want {
			return nil, fmt.Errorf("%w: chunk %s", common.ErrIntegrity, key)
		}
	}
	return data, nil
}

// Delete removes one chunk. A key that is already gone is not an error, so
// teardown paths can be retried safely.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return fmt.Errorf("%w: failed to delete chunk: %v", common.ErrUpstream, err)
	}
	return nil
}

// Exists reports whether a chunk is present without fetching its body.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to stat chunk: %v", common.ErrUpstream, err)
	}
	return true, nil
}
