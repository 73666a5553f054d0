// Package s3 lists and reads objects below an S3 bucket prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/port"
)

// throttleRetryAfter is the delay suggested to the worker when S3 asks to slow down
const throttleRetryAfter = 2 * time.Second

// API is the subset of the S3 client used by Source
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ClientConfig holds connection settings for NewClient
type ClientConfig struct {
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient creates an S3 client from the default AWS credential chain, or from
// static keys when both are set
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Source is a port.Source over an S3 bucket prefix. URIs are object keys.
type Source struct {
	api      API
	bucket   string
	prefix   string
	pageSize int32
	logger   *zap.Logger
}

var _ port.Source = (*Source)(nil)

// New creates a source
func New(api API, bucket, prefix string, logger *zap.Logger) *Source {
	return &Source{
		api:      api,
		bucket:   bucket,
		prefix:   prefix,
		pageSize: 1000,
		logger:   logger,
	}
}

// Name returns the source identifier
func (s *Source) Name() string {
	return "s3://" + s.bucket + "/" + s.prefix
}

// ListFiles pages through every object below the prefix
func (s *Source) ListFiles(ctx context.Context) ([]domain.RemoteFile, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(s.pageSize),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix)
	}

	var (
		files []domain.RemoteFile
		pages int
	)
	paginator := s3.NewListObjectsV2Paginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", s.Name(), err)
		}
		pages++

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// folder placeholder objects
			if strings.HasSuffix(key, "/") {
				continue
			}
			files = append(files, domain.NewRemoteFile(key, aws.ToTime(obj.LastModified), aws.ToInt64(obj.Size)))
		}
	}

	s.logger.Debug("listed s3 objects",
		zap.String("bucket", s.bucket),
		zap.String("prefix", s.prefix),
		zap.Int("pages", pages),
		zap.Int("count", len(files)),
	)

	return files, nil
}

// OpenFile streams an object body
func (s *Source) OpenFile(ctx context.Context, file domain.RemoteFile) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(file.URI),
	})
	if err != nil {
		return nil, classifyError(file.URI, err)
	}
	return out.Body, nil
}

func classifyError(key string, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%s: %w", key, domain.ErrSkipFileVanished)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w", key, domain.ErrSkipFileVanished)
		case "SlowDown", "Throttling", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return domain.NewRetryableError(fmt.Errorf("failed to get %s: %w", key, err), throttleRetryAfter)
		}
	}

	return fmt.Errorf("failed to get %s: %w", key, err)
}
