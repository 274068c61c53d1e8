// Package s3blob archives closed trades to S3-compatible object storage
// (AWS S3, MinIO, Cloudflare R2) using AWS SDK v2.
package s3blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the configuration for connecting to an S3-compatible
// object store.
type ClientConfig struct {
	// Endpoint is the S3-compatible endpoint URL, e.g. "http://localhost:9000".
	// Leave empty for standard AWS S3.
	Endpoint string

	// Region is the AWS region or equivalent for the provider.
	Region string

	// Bucket is the default bucket name for all operations.
	Bucket string

	// AccessKey is the access key ID for authentication.
	AccessKey string

	// SecretKey is the secret access key for authentication.
	SecretKey string

	// UseSSL controls whether HTTPS is used when constructing the endpoint.
	// Only relevant when Endpoint is provided without a scheme.
	UseSSL bool

	// ForcePathStyle forces path-style addressing (bucket in path rather than
	// subdomain). MinIO needs it.
	ForcePathStyle bool

	// Prefix is prepended to every object key, e.g. "trades".
	Prefix string
}

// Client wraps the AWS S3 SDK client with the default bucket and key prefix.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New creates a new S3 client from the given configuration. Static
// credentials are used when an access key is set; otherwise the default AWS
// credential chain applies.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Health performs a HeadBucket call to verify connectivity and permissions.
// Returns nil if the bucket is accessible.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: health check failed for bucket %s: %w", c.bucket, err)
	}
	return nil
}

// S3 returns the underlying AWS SDK S3 client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the configured default bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// Prefix returns the key prefix without surrounding slashes.
func (c *Client) Prefix() string {
	return c.prefix
}

// normaliseEndpoint ensures the endpoint has a scheme. If the provided
// endpoint already has a scheme it is returned as-is; otherwise https:// or
// http:// is prepended based on useSSL.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
