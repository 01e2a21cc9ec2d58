// Package s3blob implements blob.Store on Amazon S3 or any S3-compatible
// endpoint (MinIO, localstack). Keys map directly onto object keys below an
// optional prefix. A known size enables passthrough streaming via PutObject;
// an unknown size forces internal buffering because S3 requires a declared
// content length.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/haukened/stash/internal/blob"
)

// Ensure Store implements the port plus the sorted-listing capability.
// S3 ListObjectsV2 returns keys in ascending UTF-8 binary order.
var (
	_ blob.Store        = (*Store)(nil)
	_ blob.SortedLister = (*Store)(nil)
)

// Config collects the settings needed to reach a bucket.
type Config struct {
	Endpoint        string // empty for AWS proper; set for MinIO/localstack
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	KeyPrefix       string // optional prefix applied to every key
}

// Store implements blob.Store using an S3 client.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// New constructs a Store from a pre-built client. Used directly by tests
// with a stub client; production wiring goes through NewFromConfig.
func New(client *s3.Client, bucket, keyPrefix string) *Store {
	return &Store{client: client, bucket: bucket, keyPrefix: keyPrefix}
}

// NewFromConfig builds the S3 client and returns a ready Store. Static
// credentials are used when provided; otherwise the default chain applies.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO and localstack require path-style addressing
		}
	})
	return New(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// ListsSorted reports that ListObjectsV2 returns keys in sorted order.
func (s *Store) ListsSorted() bool { return true }

func (s *Store) fullKey(key string) string { return s.keyPrefix + key }

// Put uploads the stream as one object. With a known size the reader is
// handed to the SDK directly; with SizeUnknown the stream is buffered first
// so a content length can be declared.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string, size int64, meta blob.UserMeta) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if len(meta) > 0 {
		input.Metadata = map[string]string(meta)
	}
	if size >= 0 {
		input.Body = r
		input.ContentLength = aws.Int64(size)
	} else {
		var buf bytes.Buffer
		n, err := io.Copy(&buf, r)
		if err != nil {
			return err
		}
		input.Body = bytes.NewReader(buf.Bytes())
		input.ContentLength = aws.Int64(n)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// Get opens the object for streaming.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	return out.Body, nil
}

// Head returns the object's user metadata without fetching its body.
func (s *Store) Head(ctx context.Context, key string) (blob.UserMeta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
	if out.Metadata == nil {
		return blob.UserMeta{}, nil
	}
	return blob.UserMeta(out.Metadata), nil
}

// Delete removes the object. S3 DeleteObject succeeds on missing keys, which
// matches the port's idempotency requirement.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3blob: delete %s: %w", key, err)
	}
	return nil
}

// List pages through ListObjectsV2 and returns all keys under prefix with
// the store's key prefix stripped.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix))
		}
	}
	return keys, nil
}

// Healthy probes the bucket with a HeadBucket call.
func (s *Store) Healthy(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", s.bucket, err)
	}
	return nil
}
