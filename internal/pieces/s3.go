package pieces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultPresignTTL = 15 * time.Minute

// S3Config describes the bucket holding piece images. Endpoint selects an S3-compatible store
// such as R2 and switches to path-style addressing.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PresignTTL      time.Duration
	Clock           func() time.Time
}

// S3Presigner signs time-limited GET URLs for piece images.
type S3Presigner struct {
	bucket    string
	ttl       time.Duration
	now       func() time.Time
	presigner *s3.PresignClient
}

// NewS3Presigner loads the AWS configuration and builds the presign client.
func NewS3Presigner(ctx context.Context, cfg S3Config) (*S3Presigner, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("pieces: bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("pieces: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &S3Presigner{
		bucket:    cfg.Bucket,
		ttl:       ttl,
		now:       clock,
		presigner: s3.NewPresignClient(client),
	}, nil
}

// SignURL presigns a GET for the key.
func (p *S3Presigner) SignURL(ctx context.Context, key string) (SignedURL, error) {
	request, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return SignedURL{}, fmt.Errorf("pieces: presign %s: %w", key, err)
	}
	expiresAt := p.now().UTC().Add(p.ttl)
	return SignedURL{URL: request.URL, ExpiresAt: &expiresAt}, nil
}
