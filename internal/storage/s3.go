package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"imageq/internal/logger"
)

// S3Config describes an S3 compatible endpoint such as MinIO.
type S3Config struct {
	Endpoint  string // host:port, without scheme
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3 is a Store backed by an S3 compatible service. Path-style addressing is
// always used so MinIO works without DNS buckets.
type S3 struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3 builds the client. No request is sent until the first call.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("%s://%s", scheme, cfg.Endpoint))
		o.UsePathStyle = true
	})

	lg := logger.WithComponent("s3_store")
	lg.Info().
		Str("endpoint", cfg.Endpoint).
		Str("region", cfg.Region).
		Bool("use_ssl", cfg.UseSSL).
		Msg("object store client initialized")

	return &S3{client: client, cfg: cfg}, nil
}

func (s *S3) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head bucket %q: %w", bucket, err)
}

func (s *S3) CreateBucket(ctx context.Context, bucket string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		lg := logger.WithComponent("s3_store")
		lg.Info().Str("bucket", bucket).Msg("bucket created")
		return nil
	}

	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	var exists *types.BucketAlreadyExists
	if errors.As(err, &exists) {
		return nil
	}
	return fmt.Errorf("create bucket %q: %w", bucket, err)
}

func (s *S3) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("put %s/%s: %w", bucket, key, ErrBucketNotFound)
		}
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}

	lg := logger.WithComponent("s3_store")
	lg.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", len(data)).
		Msg("object stored")
	return nil
}

func (s *S3) Get(ctx context.Context, bucket, key string) (Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return Object{}, fmt.Errorf("get %s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noBucket) {
			return Object{}, fmt.Errorf("get %s/%s: %w", bucket, key, ErrBucketNotFound)
		}
		return Object{}, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, fmt.Errorf("read body of %s/%s: %w", bucket, key, err)
	}

	return Object{Data: data, ContentType: aws.ToString(out.ContentType)}, nil
}

// isNotFound reports whether err is a 404 style S3 error. HeadBucket carries no
// body, so the SDK only surfaces the generic NotFound code there.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nb *types.NoSuchBucket
	if errors.As(err, &nb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

var _ Store = (*S3)(nil)
