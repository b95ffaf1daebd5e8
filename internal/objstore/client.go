package objstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientParams configures the S3-compatible client. Region defaults to
// us-east-1; Host, when set, overrides the endpoint and switches to
// path-style addressing (needed for non-AWS S3-compatible stores).
type ClientParams struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Host            string
}

// NewClient builds an *s3.Client following the configured credentials and
// optional endpoint override (the "HOST" configuration key).
func NewClient(ctx context.Context, p ClientParams) (*s3.Client, error) {
	region := p.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if p.AccessKeyID != "" && p.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.AccessKeyID, p.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load S3 client configuration: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if p.Host != "" {
			o.BaseEndpoint = aws.String(p.Host)
			o.UsePathStyle = true
		}
	}), nil
}
