// Package s3blob stores opportunity archives in S3 or an S3-compatible
// provider (MinIO, R2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig locates the archive bucket. Endpoint is empty for AWS itself;
// UseSSL only picks the scheme when Endpoint has none. MinIO needs
// ForcePathStyle.
type ClientConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
}

// Client is the archive bucket handle shared by Reader and Writer.
type Client struct {
	api    *s3.Client
	bucket string
	logger *slog.Logger
}

// New builds a client for cfg.Bucket. Static credentials are used when an
// access key is set, otherwise the default AWS chain. No request is made;
// call CheckBucket to verify access.
func New(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	return &Client{
		api:    s3.NewFromConfig(awsCfg, clientOptions(cfg)),
		bucket: cfg.Bucket,
		logger: logger.With(slog.String("component", "s3"), slog.String("bucket", cfg.Bucket)),
	}, nil
}

// clientOptions points the SDK at a custom endpoint when one is configured.
func clientOptions(cfg ClientConfig) func(*s3.Options) {
	return func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}
}

// CheckBucket issues HeadBucket so a wrong bucket or missing permission shows
// up at startup rather than on the first archive run.
func (c *Client) CheckBucket(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	c.logger.InfoContext(ctx, "archive bucket reachable")
	return nil
}

// normaliseEndpoint adds a scheme to a bare host:port. "host:port" would parse
// as a URL with scheme "host", so the check looks for "://".
func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
