package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultRegion is used when neither the options nor the environment name one.
const DefaultRegion = "us-east-1"

// deleteBatch is the most keys one DeleteObjects call accepts.
const deleteBatch = 1000

// Error codes as returned by AWS and by S3-compatible stores such as MinIO
// and Ceph RGW, which do not always map to the SDK's typed errors.
var (
	notFoundCodes    = []string{"NotFound", "NoSuchBucket", "NoSuchKey", "404"}
	bucketOwnedCodes = []string{"BucketAlreadyOwnedByYou", "BucketAlreadyExists"}
	errNilClient     = errors.New("s3 client is not configured")
)

// Options configures a Client.
type Options struct {
	// Endpoint overrides the AWS endpoint for S3-compatible services.
	// Requests use path-style addressing when it is set.
	Endpoint string
	Region   string

	// AccessKey and SecretKey select static credentials. When empty the
	// default credential chain is used.
	AccessKey string
	SecretKey string
}

// Client is the subset of S3 the artifact store needs.
type Client struct {
	s3     *s3.Client
	region string
}

// NewClient resolves credentials and region and returns a client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{s3: client, region: region}, nil
}

// Region returns the region requests are signed for.
func (c *Client) Region() string {
	return c.region
}

// EnsureBucket creates bucket unless it is already reachable. It reports
// whether the bucket was created.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) (bool, error) {
	if c == nil || c.s3 == nil {
		return false, errNilClient
	}
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return false, nil
	}
	if !isNotFoundError(err) {
		return false, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if c.region != "" && c.region != DefaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}
	if _, err := c.s3.CreateBucket(ctx, in); err != nil {
		if isBucketAlreadyOwnedByYou(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return true, nil
}

// ListKeys returns every key under prefix, following continuation tokens.
func (c *Client) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	var keys []string
	pages := s3.NewListObjectsV2Paginator(c.s3, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// PutObject uploads data under key. An empty contentType leaves the
// store's default.
func (c *Client) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := c.s3.PutObject(ctx, in); err != nil {
		return fmt.Errorf("failed to put object %s in bucket %s: %w", key, bucket, err)
	}
	return nil
}

// GetObject downloads the object at key.
func (c *Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", key, bucket, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// DeleteKeys removes keys in batches. Per-key failures reported by the
// store are joined into the returned error.
func (c *Client) DeleteKeys(ctx context.Context, bucket string, keys []string) error {
	var errs []error
	for batch := range slices.Chunk(keys, deleteBatch) {
		objects := make([]types.ObjectIdentifier, 0, len(batch))
		for _, k := range batch {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := c.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects from bucket %s: %w", bucket, err)
		}
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}
	return errors.Join(errs...)
}

func isBucketAlreadyOwnedByYou(err error) bool {
	return hasErrorCode(err, bucketOwnedCodes)
}

func isNotFoundError(err error) bool {
	return hasErrorCode(err, notFoundCodes)
}

// hasErrorCode matches the API error code of err. The SDK's typed errors
// implement smithy.APIError, so one check covers both forms.
func hasErrorCode(err error, codes []string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return slices.Contains(codes, apiErr.ErrorCode())
}
