// Package s3 implements the artifact store over an S3 bucket.
package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/scttfrdmn/modelserve/internal/store"
	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// API is the subset of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Config selects the bucket and client settings.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	Extension       string
	MaxRetries      int

	// ListPageSize bounds keys per ListObjectsV2 call; zero keeps the
	// service default.
	ListPageSize int32

	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Store is an artifact store backed by S3.
type Store struct {
	client  API
	bucket  string
	prefix  string
	ext     string
	page    int32
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New loads AWS configuration and returns a store for cfg.Bucket.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "bucket name cannot be empty")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg, logger)
}

// NewWithClient returns a store that issues requests through client.
func NewWithClient(client API, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "bucket name cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("s3").With(zap.String("bucket", cfg.Bucket))

	ext := cfg.Extension
	if ext == "" {
		ext = store.DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	s := &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		ext:    ext,
		page:   cfg.ListPageSize,
		logger: logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "s3:" + cfg.Bucket,
		Timeout: timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || stderrors.Is(err, errors.ErrNotFound) || stderrors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return s, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	out, err := s.execute(func() (any, error) {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(s.prefix),
		}
		if s.page > 0 {
			input.MaxKeys = aws.Int32(s.page)
		}

		ids := []string{}
		pager := s3.NewListObjectsV2Paginator(s.client, input)
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, s.translateError(err, "list", s.prefix)
			}
			for _, obj := range page.Contents {
				if id, ok := s.identifier(aws.ToString(obj.Key)); ok {
					ids = append(ids, id)
				}
			}
		}
		sort.Strings(ids)
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// Fetch implements store.Store.
func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	out, err := s.execute(func() (any, error) {
		return s.get(ctx, s.prefix+id+s.ext)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// FetchMetadata implements store.Store.
func (s *Store) FetchMetadata(ctx context.Context, id string) (artifact.Document, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	out, err := s.execute(func() (any, error) {
		return s.get(ctx, s.prefix+id+store.MetadataSuffix)
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return store.DecodeDocument(id, out.([]byte))
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.execute(func() (any, error) {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		if err != nil {
			return nil, s.translateError(err, "head_bucket", "")
		}
		return nil, nil
	})
	return err
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.translateError(err, "get_object", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageRead, err, "read object body").
			WithComponent("s3").
			WithDetail("key", key)
	}
	return data, nil
}

func (s *Store) execute(fn func() (any, error)) (any, error) {
	out, err := s.breaker.Execute(fn)
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(errors.ErrCodeServiceUnavailable, err, "artifact bucket unavailable").
			WithComponent("s3")
	}
	return out, err
}

// identifier maps an object key to an artifact identifier.
func (s *Store) identifier(key string) (string, bool) {
	name := strings.TrimPrefix(key, s.prefix)
	if strings.Contains(name, "/") || store.IsSidecar(name) || !strings.HasSuffix(name, s.ext) {
		return "", false
	}
	id := strings.TrimSuffix(name, s.ext)
	if store.ValidateID(id) != nil {
		return "", false
	}
	return id, true
}

func (s *Store) translateError(err error, operation, key string) error {
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isAPIErrorCode(err, "NoSuchKey", "NotFound"):
		return errors.Newf(errors.ErrCodeNotFound, "object not found: %s", key).
			WithComponent("s3").
			WithOperation(operation)
	case isErrorType[*s3types.NoSuchBucket](err), isAPIErrorCode(err, "NoSuchBucket"):
		return errors.Wrap(errors.ErrCodeStorageRead, err, "bucket not found: "+s.bucket).
			WithComponent("s3").
			WithOperation(operation)
	default:
		return errors.Wrap(errors.ErrCodeStorageRead, err, operation+" failed").
			WithComponent("s3").
			WithOperation(operation).
			WithDetail("key", key)
	}
}

func contextError(err error) error {
	switch {
	case stderrors.Is(err, context.Canceled):
		return context.Canceled
	case stderrors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	}
	return nil
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

func isAPIErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}
