package s3direct

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lakefront/s3console/pkg/apperror"
	"github.com/lakefront/s3console/pkg/remotestore"
)

// Client implements remotestore.Store with the AWS SDK.
type Client struct {
	client  *s3.Client
	region  string
	maxKeys int32
}

var _ remotestore.Store = (*Client)(nil)

// New creates a direct S3 client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	maxKeys := int32(cfg.MaxKeys)
	if maxKeys <= 0 || maxKeys > DefaultMaxKeys {
		maxKeys = DefaultMaxKeys
	}

	return &Client{
		client:  s3.NewFromConfig(awsCfg, s3Opts...),
		region:  awsCfg.Region,
		maxKeys: maxKeys,
	}, nil
}

// ListBuckets implements remotestore.Store.
func (c *Client) ListBuckets(ctx context.Context) ([]remotestore.Bucket, error) {
	out, err := c.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("ListBuckets: %w", err)
	}

	buckets := make([]remotestore.Bucket, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, remotestore.Bucket{
			Name:      aws.ToString(b.Name),
			Region:    c.region,
			CreatedAt: aws.ToTime(b.CreationDate),
		})
	}
	return buckets, nil
}

// CreateBucket implements remotestore.Store. Versioning and encryption
// options are applied as follow-up calls once the bucket exists.
func (c *Client) CreateBucket(ctx context.Context, input remotestore.CreateBucketInput) error {
	req := &s3.CreateBucketInput{
		Bucket:                     aws.String(input.Name),
		ObjectLockEnabledForBucket: aws.Bool(input.ObjectLockEnabled),
	}
	// us-east-1 rejects an explicit location constraint.
	if c.region != "" && c.region != DefaultAWSRegion {
		req.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}

	if _, err := c.client.CreateBucket(ctx, req); err != nil {
		return fmt.Errorf("CreateBucket %s: %w", input.Name, err)
	}

	if input.VersioningEnabled {
		if err := c.SetVersioning(ctx, input.Name, true); err != nil {
			return err
		}
	}
	if input.EncryptionEnabled {
		if err := c.SetEncryption(ctx, input.Name, true); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBucket implements remotestore.Store.
func (c *Client) DeleteBucket(ctx context.Context, name string) error {
	if _, err := c.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)}); err != nil {
		return fmt.Errorf("DeleteBucket %s: %w", name, err)
	}
	return nil
}

// ListObjects implements remotestore.Store. Pages are accumulated into one
// delimiter-style listing.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) (*remotestore.ObjectListing, error) {
	listing := &remotestore.ObjectListing{}
	var token *string

	for {
		out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(strings.TrimPrefix(prefix, "/")),
			Delimiter:         aws.String("/"),
			MaxKeys:           aws.Int32(c.maxKeys),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("ListObjects %s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range out.Contents {
			listing.Objects = append(listing.Objects, remotestore.Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		for _, p := range out.CommonPrefixes {
			listing.Prefixes = append(listing.Prefixes, aws.ToString(p.Prefix))
		}

		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return listing, nil
		}
		token = out.NextContinuationToken
	}
}

// PutObject implements remotestore.Store.
func (c *Client) PutObject(ctx context.Context, input remotestore.UploadInput) error {
	req := &s3.PutObjectInput{
		Bucket: aws.String(input.Bucket),
		Key:    aws.String(input.Key),
		Body:   input.Body,
	}
	if input.Size > 0 {
		req.ContentLength = aws.Int64(input.Size)
	}
	if input.ContentType != "" {
		req.ContentType = aws.String(input.ContentType)
	}

	if _, err := c.client.PutObject(ctx, req); err != nil {
		return fmt.Errorf("PutObject %s/%s: %w", input.Bucket, input.Key, err)
	}
	return nil
}

// DeleteObject implements remotestore.Store.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("DeleteObject %s/%s: %w", bucket, key, err)
	}
	return nil
}

// CreateFolder implements remotestore.Store with a zero-byte marker object.
func (c *Client) CreateFolder(ctx context.Context, bucket, path string) error {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return c.PutObject(ctx, remotestore.UploadInput{Bucket: bucket, Key: path})
}

// SetVersioning implements remotestore.Store.
func (c *Client) SetVersioning(ctx context.Context, bucket string, enabled bool) error {
	status := types.BucketVersioningStatusSuspended
	if enabled {
		status = types.BucketVersioningStatusEnabled
	}
	_, err := c.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket:                  aws.String(bucket),
		VersioningConfiguration: &types.VersioningConfiguration{Status: status},
	})
	if err != nil {
		return fmt.Errorf("SetVersioning %s: %w", bucket, err)
	}
	return nil
}

// SetEncryption implements remotestore.Store. Enabling applies AES256
// default encryption; disabling removes the bucket encryption config.
func (c *Client) SetEncryption(ctx context.Context, bucket string, enabled bool) error {
	var err error
	if enabled {
		_, err = c.client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
			Bucket: aws.String(bucket),
			ServerSideEncryptionConfiguration: &types.ServerSideEncryptionConfiguration{
				Rules: []types.ServerSideEncryptionRule{{
					ApplyServerSideEncryptionByDefault: &types.ServerSideEncryptionByDefault{
						SSEAlgorithm: types.ServerSideEncryptionAes256,
					},
				}},
			},
		})
	} else {
		_, err = c.client.DeleteBucketEncryption(ctx, &s3.DeleteBucketEncryptionInput{
			Bucket: aws.String(bucket),
		})
	}
	if err != nil {
		return fmt.Errorf("SetEncryption %s: %w", bucket, err)
	}
	return nil
}

// corsDocument is the JSON shape accepted for the cors config kind.
type corsDocument struct {
	Rules []struct {
		AllowedMethods []string `json:"allowedMethods"`
		AllowedOrigins []string `json:"allowedOrigins"`
		AllowedHeaders []string `json:"allowedHeaders,omitempty"`
		ExposeHeaders  []string `json:"exposeHeaders,omitempty"`
		MaxAgeSeconds  int32    `json:"maxAgeSeconds,omitempty"`
	} `json:"rules"`
}

// PutBucketConfig implements remotestore.Store for the policy and cors
// kinds. The remaining kinds need the proxy's richer translation layer and
// report INVALID_REQUEST here.
func (c *Client) PutBucketConfig(ctx context.Context, bucket string, kind remotestore.ConfigKind, doc []byte) error {
	switch kind {
	case remotestore.ConfigPolicy:
		_, err := c.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
			Bucket: aws.String(bucket),
			Policy: aws.String(string(doc)),
		})
		if err != nil {
			return fmt.Errorf("PutBucketPolicy %s: %w", bucket, err)
		}
		return nil

	case remotestore.ConfigCORS:
		var parsed corsDocument
		if err := json.Unmarshal(doc, &parsed); err != nil {
			return apperror.New(apperror.CodeValidationError, fmt.Sprintf("invalid cors document: %v", err))
		}
		rules := make([]types.CORSRule, 0, len(parsed.Rules))
		for _, r := range parsed.Rules {
			rule := types.CORSRule{
				AllowedMethods: r.AllowedMethods,
				AllowedOrigins: r.AllowedOrigins,
				AllowedHeaders: r.AllowedHeaders,
				ExposeHeaders:  r.ExposeHeaders,
			}
			if r.MaxAgeSeconds > 0 {
				rule.MaxAgeSeconds = aws.Int32(r.MaxAgeSeconds)
			}
			rules = append(rules, rule)
		}
		_, err := c.client.PutBucketCors(ctx, &s3.PutBucketCorsInput{
			Bucket:            aws.String(bucket),
			CORSConfiguration: &types.CORSConfiguration{CORSRules: rules},
		})
		if err != nil {
			return fmt.Errorf("PutBucketCors %s: %w", bucket, err)
		}
		return nil
	}

	return apperror.New(apperror.CodeInvalidRequest,
		fmt.Sprintf("config kind %q is not supported by the direct backend", kind))
}

// DeleteBucketConfig implements remotestore.Store for the policy and cors
// kinds.
func (c *Client) DeleteBucketConfig(ctx context.Context, bucket string, kind remotestore.ConfigKind) error {
	var err error
	switch kind {
	case remotestore.ConfigPolicy:
		_, err = c.client.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: aws.String(bucket)})
	case remotestore.ConfigCORS:
		_, err = c.client.DeleteBucketCors(ctx, &s3.DeleteBucketCorsInput{Bucket: aws.String(bucket)})
	default:
		return apperror.New(apperror.CodeInvalidRequest,
			fmt.Sprintf("config kind %q is not supported by the direct backend", kind))
	}
	if err != nil {
		return fmt.Errorf("DeleteBucketConfig %s/%s: %w", bucket, kind, err)
	}
	return nil
}
