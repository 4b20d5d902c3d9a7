package publish

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Environment variables holding static S3 credentials. When they are unset
// the default AWS credential chain is used.
const (
	EnvS3AccessKeyID     = "AMBER_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "AMBER_S3_SECRET_ACCESS_KEY"
)

// S3Target uploads published output to a bucket, one object per file.
type S3Target struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Target creates a target for bucket. Object keys are prefix joined
// with the file's path relative to the output root.
func NewS3Target(ctx context.Context, bucket, prefix, region string) (*S3Target, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if id, secret := os.Getenv(EnvS3AccessKeyID), os.Getenv(EnvS3SecretAccessKey); id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Target{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}, nil
}

// Put uploads the object with a content type guessed from its extension.
func (t *S3Target) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(key)),
		Body:   r,
	}
	if ct := ContentType(key); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := t.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("uploading to s3://%s/%s: %w", t.bucket, t.objectKey(key), err)
	}
	return nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (t *S3Target) ValidateSetup(ctx context.Context) error {
	if _, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(t.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", t.bucket, err)
	}
	return nil
}

func (t *S3Target) objectKey(key string) string {
	if t.prefix == "" {
		return key
	}
	return t.prefix + "/" + key
}

// ContentType guesses the MIME type of a published file from its name.
// Files without an extension, such as CNAME, get text/plain.
func ContentType(key string) string {
	ext := path.Ext(key)
	if ext == "" {
		return "text/plain; charset=utf-8"
	}
	return mime.TypeByExtension(ext)
}

// Compile-time check that S3Target implements Target
var _ Target = (*S3Target)(nil)
