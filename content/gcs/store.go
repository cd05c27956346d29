// Package gcs provides a Google Cloud Storage-based content blob store.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rbaliyan/mailqueue/content"
	"google.golang.org/api/option"
)

// Store implements content.Store using Google Cloud Storage.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Ensure Store implements content.Store.
var _ content.Store = (*Store)(nil)

// New creates a new GCS content store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := &options{
		prefix: "mailqueue",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	clientOpts, err := buildClientOptions(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &Store{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

// buildClientOptions builds GCS client options based on authentication settings.
func buildClientOptions(_ context.Context, o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil:
		// Use provided JSON credentials (service account key)
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			CredentialsJSON: o.credentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from json: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.credentialsFile != "":
		// Use credentials from file
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	default:
		// Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS,
		// gcloud login, Workload Identity, compute default service account).
		// No explicit options needed - SDK handles it automatically.
	}

	// Custom endpoint for emulators and testing
	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}

	return opts, nil
}

// Put uploads the payload to GCS and returns the object path as URI.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	key := s.generateKey()

	obj := s.client.Bucket(s.bucket).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write content to gcs: %w", err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer: %w", err)
	}

	s.logger.Debug("stored mail content in gcs", "bucket", s.bucket, "key", key)

	// Return the key as URI (gs://bucket/key format)
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// Get returns the payload for the key.
func (s *Store) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	obj := s.client.Bucket(bucket).Object(key)
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, content.ErrNotFound
		}
		return nil, fmt.Errorf("create gcs reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gcs object: %w", err)
	}
	return data, nil
}

// Remove deletes the payload from GCS. Absent objects are a no-op.
func (s *Store) Remove(ctx context.Context, uri string) error {
	bucket, key, err := parseGCSURI(uri)
	if err != nil {
		return err
	}

	obj := s.client.Bucket(bucket).Object(key)
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("delete object from gcs: %w", err)
	}

	s.logger.Debug("deleted mail content from gcs", "bucket", bucket, "key", key)
	return nil
}

// Close closes the GCS client.
func (s *Store) Close() error {
	return s.client.Close()
}

// generateKey creates a unique GCS key for the payload.
func (s *Store) generateKey() string {
	// Date-based partitioning
	now := time.Now().UTC()
	return path.Join(s.prefix, now.Format("2006/01/02"), uuid.New().String())
}

// parseGCSURI parses a gs:// URI into bucket and key.
func parseGCSURI(uri string) (bucket, key string, err error) {
	if len(uri) < 6 || uri[:5] != "gs://" {
		return "", "", fmt.Errorf("invalid gcs uri: %s", uri)
	}

	rest := uri[5:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}

	return "", "", fmt.Errorf("invalid gcs uri (no key): %s", uri)
}
