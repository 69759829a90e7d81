// Package proxyclient implements remotestore.Store against the local CORS
// proxy's HTTP contract.
//
// Every request carries the credential headers (x-access-key, x-secret-key,
// x-region) rather than a bearer token: the proxy re-signs requests to the
// upstream S3-compatible provider. Failures are surfaced as
// *apperror.HTTPError so the classifier sees status, upstream protocol code,
// and a resource hint.
package proxyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/s3console/pkg/apperror"
	"github.com/lakefront/s3console/pkg/remotestore"
)

// Credential header names understood by the proxy.
const (
	headerAccessKey = "x-access-key"
	headerSecretKey = "x-secret-key"
	headerRegion    = "x-region"
)

// DefaultTimeout bounds a single proxy round trip.
const DefaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// BaseURL is the proxy base URL, e.g. "http://localhost:8765".
	BaseURL string

	// Credentials are forwarded as headers on every request.
	Credentials remotestore.Credentials

	// Timeout bounds a single round trip. Zero uses DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests. Nil builds one
	// from Timeout.
	HTTPClient *http.Client

	// Logger receives request diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// Client talks to the proxy. Safe for concurrent use.
type Client struct {
	baseURL string
	creds   remotestore.Credentials
	httpc   *http.Client
	logger  *zap.Logger
}

var _ remotestore.Store = (*Client)(nil)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("proxy base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid proxy base URL: %w", err)
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpc = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{baseURL: base, creds: cfg.Credentials, httpc: httpc, logger: logger}, nil
}

type bucketsResponse struct {
	Buckets []remotestore.Bucket `json:"buckets"`
}

type objectsResponse struct {
	Objects  []remotestore.Object `json:"objects"`
	Prefixes []string             `json:"prefixes"`
}

// proxyError is the JSON error envelope the proxy returns on failure.
type proxyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListBuckets implements remotestore.Store.
func (c *Client) ListBuckets(ctx context.Context) ([]remotestore.Bucket, error) {
	var out bucketsResponse
	err := c.do(ctx, http.MethodGet, "/buckets", nil, "", apperror.ResourceBucket, &out)
	if err != nil {
		return nil, err
	}
	return out.Buckets, nil
}

// CreateBucket implements remotestore.Store.
func (c *Client) CreateBucket(ctx context.Context, input remotestore.CreateBucketInput) error {
	body, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/buckets", bytes.NewReader(body), "application/json", apperror.ResourceBucket, nil)
}

// DeleteBucket implements remotestore.Store.
func (c *Client) DeleteBucket(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/buckets/"+url.PathEscape(name), nil, "", apperror.ResourceBucket, nil)
}

// ListObjects implements remotestore.Store. The listing is delimiter-style:
// one level of keys plus the common prefixes below it.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) (*remotestore.ObjectListing, error) {
	q := url.Values{}
	q.Set("prefix", prefix)
	q.Set("delimiter", "/")
	path := "/buckets/" + url.PathEscape(bucket) + "/objects?" + q.Encode()

	var out objectsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", apperror.ResourceObject, &out); err != nil {
		return nil, err
	}
	return &remotestore.ObjectListing{Objects: out.Objects, Prefixes: out.Prefixes}, nil
}

// PutObject implements remotestore.Store via a multipart upload.
func (c *Client) PutObject(ctx context.Context, input remotestore.UploadInput) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("path", input.Key); err != nil {
		return err
	}
	part, err := w.CreateFormFile("file", input.Key)
	if err != nil {
		return err
	}
	if input.Body != nil {
		if _, err := io.Copy(part, input.Body); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	path := "/buckets/" + url.PathEscape(input.Bucket) + "/objects"
	return c.do(ctx, http.MethodPost, path, &buf, w.FormDataContentType(), apperror.ResourceObject, nil)
}

// DeleteObject implements remotestore.Store.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	path := "/buckets/" + url.PathEscape(bucket) + "/objects/" + url.PathEscape(key)
	return c.do(ctx, http.MethodDelete, path, nil, "", apperror.ResourceObject, nil)
}

// CreateFolder implements remotestore.Store with a zero-byte marker object.
func (c *Client) CreateFolder(ctx context.Context, bucket, path string) error {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return c.PutObject(ctx, remotestore.UploadInput{Bucket: bucket, Key: path})
}

// SetVersioning implements remotestore.Store. PUT enables, DELETE disables.
func (c *Client) SetVersioning(ctx context.Context, bucket string, enabled bool) error {
	return c.toggle(ctx, bucket, "versioning", enabled)
}

// SetEncryption implements remotestore.Store. PUT enables, DELETE disables.
func (c *Client) SetEncryption(ctx context.Context, bucket string, enabled bool) error {
	return c.toggle(ctx, bucket, "encryption", enabled)
}

func (c *Client) toggle(ctx context.Context, bucket, feature string, enabled bool) error {
	path := "/buckets/" + url.PathEscape(bucket) + "/" + feature
	method := http.MethodPut
	if !enabled {
		method = http.MethodDelete
	}
	return c.do(ctx, method, path, nil, "", apperror.ResourceBucket, nil)
}

// PutBucketConfig implements remotestore.Store.
func (c *Client) PutBucketConfig(ctx context.Context, bucket string, kind remotestore.ConfigKind, doc []byte) error {
	path := "/buckets/" + url.PathEscape(bucket) + "/" + string(kind)
	return c.do(ctx, http.MethodPut, path, bytes.NewReader(doc), "application/json", apperror.ResourceBucket, nil)
}

// DeleteBucketConfig implements remotestore.Store.
func (c *Client) DeleteBucketConfig(ctx context.Context, bucket string, kind remotestore.ConfigKind) error {
	path := "/buckets/" + url.PathEscape(bucket) + "/" + string(kind)
	return c.do(ctx, http.MethodDelete, path, nil, "", apperror.ResourceBucket, nil)
}

// do executes one round trip and decodes the response into out (when
// non-nil). Non-2xx responses become *apperror.HTTPError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, resource apperror.Resource, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(headerAccessKey, c.creds.AccessKey)
	req.Header.Set(headerSecretKey, c.creds.SecretKey)
	req.Header.Set(headerRegion, c.creds.Region)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.httpError(resp, resource)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return nil
}

func (c *Client) httpError(resp *http.Response, resource apperror.Resource) error {
	httpErr := &apperror.HTTPError{StatusCode: resp.StatusCode, Resource: resource}

	// Bounded read: error envelopes are small.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(body) > 0 {
		var envelope proxyError
		if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil {
			httpErr.UpstreamCode = envelope.Code
			httpErr.UpstreamMessage = envelope.Message
		}
	}

	c.logger.Debug("proxy request failed",
		zap.Int("status", resp.StatusCode),
		zap.String("upstream_code", httpErr.UpstreamCode))
	return httpErr
}
