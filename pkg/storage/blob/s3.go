// Package blob offloads schema content to S3 compatible object storage.
// Objects are content addressed by their SHA-256 digest, so identical
// documents registered under different subjects are stored once.
package blob

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
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/storage"
)

const (
	keyPrefix   = "schemas/sha256"
	contentType = "application/octet-stream"
	checksumKey = "checksum-sha256"
)

// API is the subset of the S3 client the store uses. *s3.Client satisfies it.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Store implements storage.ContentStore on top of a bucket
type S3Store struct {
	client  API
	bucket  string
	metrics *observability.Metrics
}

var _ storage.ContentStore = (*S3Store)(nil)

// NewS3Store builds an S3 client from cfg and makes sure the bucket exists
func NewS3Store(ctx context.Context, cfg storage.Config) (*S3Store, error) {
	var (
		awsConfig aws.Config
		err       error
	)
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials for MinIO or explicit keys
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsConfig, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.S3Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	store := NewS3StoreWithClient(client, cfg.S3Bucket)
	if err := store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return store, nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// WithMetrics records object operations on metrics
func (s *S3Store) WithMetrics(metrics *observability.Metrics) *S3Store {
	s.metrics = metrics
	return s
}

// Key returns the object key for a content hash: schemas/sha256/ab/cd...
func Key(hash string) string {
	return fmt.Sprintf("%s/%s/%s", keyPrefix, hash[:2], hash[2:])
}

// Hash returns the hex SHA-256 digest used to address content
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// PutContent uploads content unless an object with the same digest exists
func (s *S3Store) PutContent(ctx context.Context, content []byte) (hash string, err error) {
	hash = Hash(content)
	key := Key(hash)
	ctx, span := observability.StartSpan(ctx, "S3.PutContent",
		attribute.String("s3.bucket", s.bucket),
		attribute.String("s3.key", key),
		attribute.Int("content.size", len(content)),
	)
	start := time.Now()
	defer func() {
		observability.EndSpan(span, err)
		s.metrics.RecordStorageOperation("put_content", "s3", time.Since(start), err)
	}()

	exists, err := s.exists(ctx, key)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Bool("deduplication.hit", exists))
	if exists {
		return hash, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{checksumKey: hash},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to s3: %w", err)
	}
	return hash, nil
}

// GetContent downloads the object for hash and verifies its digest
func (s *S3Store) GetContent(ctx context.Context, hash string) (content []byte, err error) {
	if !validHash(hash) {
		return nil, fmt.Errorf("invalid content hash %q", hash)
	}
	key := Key(hash)
	ctx, span := observability.StartSpan(ctx, "S3.GetContent",
		attribute.String("s3.bucket", s.bucket),
		attribute.String("s3.key", key),
	)
	start := time.Now()
	defer func() {
		observability.EndSpan(span, err)
		s.metrics.RecordStorageOperation("get_content", "s3", time.Since(start), err)
	}()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: content %s", storage.ErrNotFound, hash)
		}
		return nil, fmt.Errorf("failed to get object from s3: %w", err)
	}
	defer out.Body.Close()

	content, err = io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	if got := Hash(content); got != hash {
		return nil, fmt.Errorf("content digest mismatch for %s: got %s", hash, got)
	}
	return content, nil
}

// HealthCheck verifies the bucket is reachable
func (s *S3Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check object existence: %w", err)
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil && !isBucketAlreadyExists(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func validHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func isBucketAlreadyExists(err error) bool {
	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	return errors.As(err, &exists) || errors.As(err, &owned)
}
