// Package histsync replicates the local action history to the remote
// history service and merges remote entries back.
//
// The engine pushes outbox batches and pulls the server's view; the store
// stays authoritative for what is pending. A failed push leaves the outbox
// untouched so the next cycle retries the same batch.
package histsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/s3console/pkg/apperror"
	"github.com/lakefront/s3console/pkg/history"
)

// Credential headers forwarded on every request, mirroring the storage
// proxy contract.
const (
	headerAccessKey = "x-access-key"
	headerSecretKey = "x-secret-key"
	headerRegion    = "x-region"
)

// DefaultTimeout bounds each request to the history service.
const DefaultTimeout = 15 * time.Second

// Remote is the wire surface of the history service consumed by the engine.
type Remote interface {
	// Push sends a batch of entries and returns the ids the server
	// acknowledged.
	Push(ctx context.Context, entries []history.Entry) ([]string, error)

	// Fetch returns up to limit of the server's entries for the
	// authenticated user. limit <= 0 means no bound.
	Fetch(ctx context.Context, limit int) ([]history.Entry, error)

	// Clear deletes the user's remote history.
	Clear(ctx context.Context) error
}

// Config configures a history service client.
type Config struct {
	// BaseURL is the history service root, e.g. http://localhost:9000.
	BaseURL string

	// AccessKey, SecretKey and Region authenticate the user partition.
	AccessKey string
	SecretKey string
	Region    string

	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport (tests). nil builds one from
	// Timeout.
	HTTPClient *http.Client

	// Logger receives request diagnostics. nil uses zap.NewNop.
	Logger *zap.Logger
}

// Client talks to the remote history service over HTTP.
type Client struct {
	baseURL   string
	accessKey string
	secretKey string
	region    string
	http      *http.Client
	logger    *zap.Logger
}

var _ Remote = (*Client)(nil)

// NewClient creates a history service client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("history service base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid history service URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:   base,
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		region:    cfg.Region,
		http:      httpClient,
		logger:    logger,
	}, nil
}

// pushRequest is the sync batch envelope.
type pushRequest struct {
	Entries []history.Entry `json:"entries"`
}

// pushResponse acknowledges synced entry ids.
type pushResponse struct {
	SyncedIDs []string `json:"syncedIds"`
}

// fetchResponse is the server's history listing.
type fetchResponse struct {
	Entries []history.Entry `json:"entries"`
}

// Push implements Remote.
func (c *Client) Push(ctx context.Context, entries []history.Entry) ([]string, error) {
	body, err := json.Marshal(pushRequest{Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("encode sync batch: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/history/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.httpError(resp)
	}

	var out pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}
	return out.SyncedIDs, nil
}

// Fetch implements Remote.
func (c *Client) Fetch(ctx context.Context, limit int) ([]history.Entry, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.httpError(resp)
	}

	var out fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	return out.Entries, nil
}

// Clear implements Remote.
func (c *Client) Clear(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/history", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.httpError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	req.Header.Set(headerAccessKey, c.accessKey)
	req.Header.Set(headerSecretKey, c.secretKey)
	req.Header.Set(headerRegion, c.region)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// errorEnvelope mirrors the service's JSON error shape.
type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) httpError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	httpErr := &apperror.HTTPError{StatusCode: resp.StatusCode}
	var envelope errorEnvelope
	if json.Unmarshal(raw, &envelope) == nil && envelope.Code != "" {
		httpErr.UpstreamCode = envelope.Code
		httpErr.UpstreamMessage = envelope.Message
	}

	c.logger.Debug("history service error",
		zap.Int("status", resp.StatusCode),
		zap.String("code", httpErr.UpstreamCode))
	return httpErr
}
