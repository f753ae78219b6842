// Package s3up implements the upload engine for S3 and S3-compatible
// object storage.
package s3up

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mirrorhub/pkg/engine"
	"mirrorhub/pkg/models"
)

// Config holds S3 client settings. Region defaults for S3-compatible
// providers that ignore it, explicit credentials override the default
// chain.
type Config struct {
	Region      string
	EndpointURL string
	AccessKey   string
	SecretKey   string
	MaxRetries  int
	Timeout     time.Duration
}

// Engine ships the downloaded payload to a bucket. The destination target
// is "bucket" or "bucket/prefix".
type Engine struct {
	client *s3.Client
}

// New builds the S3 client. For custom endpoints the hostname is pinned
// and redirects are not followed, which avoids 301 PermanentRedirect loops
// on S3-compatible storage.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	region := cfg.Region
	if region == "" {
		// the SDK requires a region for signing even when the provider
		// ignores it
		region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	configOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		configOptions = append(configOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.EndpointURL != "" {
		httpClient := &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
		configOptions = append(configOptions, config.WithHTTPClient(httpClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOptions := []func(*s3.Options){
		func(o *s3.Options) {
			o.RetryMaxAttempts = cfg.MaxRetries
		},
	}
	if cfg.EndpointURL != "" {
		endpoint := cfg.EndpointURL
		clientOptions = append(clientOptions, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &Engine{client: s3.NewFromConfig(awsCfg, clientOptions...)}, nil
}

type handle struct {
	*engine.Stream
	cancel context.CancelFunc
}

// Start uploads the payload at workPath under the bucket/prefix named by
// locator.
func (e *Engine) Start(ctx context.Context, locator, workPath string) (engine.Handle, error) {
	bucket, prefix, err := splitTarget(locator)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &handle{Stream: engine.NewStream(), cancel: cancel}
	go e.upload(ctx, h, bucket, prefix, workPath)
	return h, nil
}

// Cancel aborts the in-flight PutObject.
func (e *Engine) Cancel(h engine.Handle) error {
	hh, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("handle does not belong to this engine")
	}
	hh.cancel()
	return nil
}

func (e *Engine) upload(ctx context.Context, h *handle, bucket, prefix, payload string) {
	f, err := os.Open(payload)
	if err != nil {
		h.Fail(models.KindTransferError, fmt.Sprintf("failed to open payload: %v", err), false)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.Fail(models.KindTransferError, fmt.Sprintf("failed to stat payload: %v", err), false)
		return
	}
	size := info.Size()

	key := filepath.Base(payload)
	if prefix != "" {
		key = strings.TrimSuffix(prefix, "/") + "/" + key
	}

	body := &progressReader{
		f:     f,
		total: size,
		report: func(read int64) {
			t := size
			h.Progress(read, &t)
		},
	}

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		if ctx.Err() != nil {
			h.Canceled()
			return
		}
		h.Fail(models.KindTransferError, fmt.Sprintf("PutObject %s/%s: %v", bucket, key, err), true)
		return
	}

	h.Progress(size, &size)
	h.Succeed(fmt.Sprintf("s3://%s/%s", bucket, key))
}

func splitTarget(target string) (bucket, prefix string, err error) {
	target = strings.TrimPrefix(strings.TrimSpace(target), "s3://")
	if target == "" {
		return "", "", fmt.Errorf("empty S3 target")
	}
	parts := strings.SplitN(target, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix, nil
}
