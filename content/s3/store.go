// Package s3 provides an S3-based content blob store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/rbaliyan/mailqueue/content"
)

// Store implements content.Store using AWS S3.
type Store struct {
	client *s3.Client
	tm     *transfermanager.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Ensure Store implements content.Store.
var _ content.Store = (*Store)(nil)

// New creates a new S3 content store.
// The context is used for AWS credential loading and configuration.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := &options{
		region: "us-east-1",
		prefix: "mailqueue",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(opts *s3.Options) {
		if o.endpoint != "" {
			opts.BaseEndpoint = aws.String(o.endpoint)
			opts.UsePathStyle = o.usePathStyle
		}
	})

	return &Store{
		client: client,
		tm:     transfermanager.New(client),
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

// buildAWSConfig builds AWS config based on authentication options.
func buildAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	var optFns []func(*config.LoadOptions) error

	optFns = append(optFns, config.WithRegion(o.region))

	switch {
	case o.accessKey != "" && o.secretKey != "":
		// Static credentials (Access Key + Secret Key)
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))

	case o.roleARN != "":
		// IAM Role - use STS AssumeRole
		baseCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		stsCreds := newAssumeRoleProvider(baseCfg, o.roleARN, o.roleSessionName, o.externalID)
		optFns = append(optFns, config.WithCredentialsProvider(stsCreds))

	default:
		// Default credential chain (env vars, shared config, IAM role on
		// EC2/EKS via IRSA, ECS task role). No explicit credentials needed.
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Put uploads the payload to S3 and returns the object key as URI.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	key := s.generateKey()

	input := &transfermanager.UploadObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}

	if _, err := s.tm.UploadObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	s.logger.Debug("stored mail content in s3", "bucket", s.bucket, "key", key)

	// Return the key as URI (s3://bucket/key format)
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Get returns the payload for the key.
func (s *Store) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, content.ErrNotFound
		}
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

// Remove deletes the payload from S3. S3 DeleteObject on an absent key
// succeeds, which matches the idempotent contract.
func (s *Store) Remove(ctx context.Context, uri string) error {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object from s3: %w", err)
	}

	s.logger.Debug("deleted mail content from s3", "bucket", bucket, "key", key)
	return nil
}

// Close releases nothing; the S3 client holds no closable resources.
func (s *Store) Close() error {
	return nil
}

// generateKey creates a unique S3 key for the payload.
func (s *Store) generateKey() string {
	// Date-based partitioning for better S3 performance
	now := time.Now().UTC()
	return path.Join(s.prefix, now.Format("2006/01/02"), uuid.New().String())
}

// parseS3URI parses an s3:// URI into bucket and key.
func parseS3URI(uri string) (bucket, key string, err error) {
	if len(uri) < 6 || uri[:5] != "s3://" {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}

	rest := uri[5:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}

	return "", "", fmt.Errorf("invalid s3 uri (no key): %s", uri)
}
