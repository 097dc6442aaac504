package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pictureloader/pictureloader/pkg/errors"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

// S3Config configures the s3:// fetcher.
type S3Config struct {
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	MaxRetries      int
	Logger          *slog.Logger
}

// ObjectGetter is the part of the S3 client the fetcher uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher retrieves s3://bucket/key locators with GetObject.
type S3Fetcher struct {
	client ObjectGetter
	logger *slog.Logger
}

// NewS3Fetcher loads the AWS configuration and creates the client. Static
// credentials are used when an access key is configured; otherwise the
// default provider chain applies.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.MaxRetries > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "failed to load AWS config").
			WithComponent("fetcher").
			WithOperation("s3_init").
			WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return NewS3FetcherWithClient(client, cfg.Logger), nil
}

// NewS3FetcherWithClient wraps an existing client.
func NewS3FetcherWithClient(client ObjectGetter, logger *slog.Logger) *S3Fetcher {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &S3Fetcher{client: client, logger: logger}
}

// Fetch opens the object body.
func (f *S3Fetcher) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3Locator(locator)
	if err != nil {
		return nil, err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		f.logger.Debug("S3 fetch failed", "bucket", bucket, "key", key, "error", err)
		return nil, fetchError(errors.ErrCodeFetchFailed, locator, "GetObject failed", err).
			WithContext("bucket", bucket)
	}

	f.logger.Debug("S3 fetch started", "bucket", bucket, "key", key, "content_length", aws.ToInt64(out.ContentLength))
	return out.Body, nil
}

// ParseS3Locator splits s3://bucket/key.
func ParseS3Locator(locator string) (bucket, key string, err error) {
	u, perr := url.Parse(locator)
	if perr != nil || !strings.EqualFold(u.Scheme, "s3") {
		return "", "", fetchError(errors.ErrCodeFetchUnsupported, locator, "not an s3 locator", perr)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fetchError(errors.ErrCodeFetchUnsupported, locator, "s3 locator needs a bucket and a key", nil)
	}
	return bucket, key, nil
}
