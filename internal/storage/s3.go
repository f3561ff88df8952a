package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the remote backend, including custom endpoints for
// MinIO-style deployments.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// S3Backend stores artifacts in an S3 bucket.
type S3Backend struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Backend constructs the remote backend from AWS default credentials.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               opts.Endpoint,
					HostnameImmutable: opts.PathStyle,
					SigningRegion:     opts.Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
	})

	baseURL := fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	if opts.Endpoint != "" {
		baseURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(opts.Endpoint, "/"), opts.Bucket)
	}

	return &S3Backend{client: client, bucket: opts.Bucket, baseURL: baseURL}, nil
}

func (b *S3Backend) Name() string { return "s3" }

// Store uploads the artifact. S3 puts are atomic, so a failed put leaves
// nothing behind.
func (b *S3Backend) Store(ctx context.Context, key string, body []byte, contentType string) (Locator, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"source":      "capture-scheduler",
			"uploaded_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return Locator{}, fmt.Errorf("put object %s/%s: %w", b.bucket, key, err)
	}
	return Locator{
		Backend:     b.Name(),
		Key:         key,
		URL:         fmt.Sprintf("%s/%s", b.baseURL, key),
		SizeBytes:   int64(len(body)),
		ContentType: contentType,
		StoredAt:    time.Now().UTC(),
	}, nil
}

// List returns the stored artifacts under the user's capture prefix.
func (b *S3Backend) List(ctx context.Context, userID string) ([]Locator, error) {
	prefix := fmt.Sprintf("captures/%s/", userID)
	var out []Locator
	var token *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", b.bucket, prefix, err)
		}
		for _, obj := range resp.Contents {
			loc := Locator{
				Backend:   b.Name(),
				Key:       aws.ToString(obj.Key),
				URL:       fmt.Sprintf("%s/%s", b.baseURL, aws.ToString(obj.Key)),
				SizeBytes: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				loc.StoredAt = *obj.LastModified
			}
			out = append(out, loc)
		}
		if resp.NextContinuationToken == nil {
			return out, nil
		}
		token = resp.NextContinuationToken
	}
}

// Delete removes the object.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s/%s: %w", b.bucket, key, err)
	}
	return nil
}
