package proxyclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakefront/s3console/pkg/apperror"
	"github.com/lakefront/s3console/pkg/remotestore"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL: srv.URL,
		Credentials: remotestore.Credentials{
			AccessKey: "AKIA123",
			SecretKey: "secret",
			Region:    "fr-par",
		},
	})
	require.NoError(t, err)
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestListBucketsForwardsCredentialHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/buckets", r.URL.Path)
		assert.Equal(t, "AKIA123", r.Header.Get("x-access-key"))
		assert.Equal(t, "secret", r.Header.Get("x-secret-key"))
		assert.Equal(t, "fr-par", r.Header.Get("x-region"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"buckets": []map[string]any{{"name": "docs"}, {"name": "photos"}},
		})
	})

	buckets, err := c.ListBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "docs", buckets[0].Name)
}

func TestListObjectsQueryAndDecode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/buckets/docs/objects", r.URL.Path)
		assert.Equal(t, "reports/", r.URL.Query().Get("prefix"))
		assert.Equal(t, "/", r.URL.Query().Get("delimiter"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"objects":  []map[string]any{{"key": "reports/q1.pdf", "size": 42}},
			"prefixes": []string{"reports/2026/"},
		})
	})

	listing, err := c.ListObjects(context.Background(), "docs", "reports/")
	require.NoError(t, err)
	require.Len(t, listing.Objects, 1)
	assert.Equal(t, int64(42), listing.Objects[0].Size)
	assert.Equal(t, []string{"reports/2026/"}, listing.Prefixes)
}

func TestPutObjectSendsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "reports/q1.pdf", r.FormValue("path"))

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()

		w.WriteHeader(http.StatusCreated)
	})

	err := c.PutObject(context.Background(), remotestore.UploadInput{
		Bucket: "docs",
		Key:    "reports/q1.pdf",
		Body:   strings.NewReader("pdf bytes"),
	})
	require.NoError(t, err)
}

func TestErrorEnvelopeBecomesHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "NoSuchBucket",
			"message": "bucket does not exist",
		})
	})

	err := c.DeleteBucket(context.Background(), "missing")
	require.Error(t, err)

	var httpErr *apperror.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "NoSuchBucket", httpErr.UpstreamCode)
	assert.Equal(t, apperror.CodeBucketNotFound, apperror.CodeOf(err))
}

func TestStatusOnlyErrorUsesResourceHint(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := c.ListObjects(context.Background(), "docs", "")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeObjectNotFound, apperror.CodeOf(err))
}

func TestVersioningToggleMapsToMethod(t *testing.T) {
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/buckets/docs/versioning", r.URL.Path)
		methods = append(methods, r.Method)
	})

	require.NoError(t, c.SetVersioning(context.Background(), "docs", true))
	require.NoError(t, c.SetVersioning(context.Background(), "docs", false))
	assert.Equal(t, []string{http.MethodPut, http.MethodDelete}, methods)
}

func TestCreateFolderAppendsSlash(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "archive/", r.FormValue("path"))
	})

	require.NoError(t, c.CreateFolder(context.Background(), "docs", "archive"))
}

func TestBucketConfigRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/buckets/docs/policy", r.URL.Path)
		if r.Method == http.MethodPut {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{"Version":"2012-10-17"}`, string(body))
		}
	})

	require.NoError(t, c.PutBucketConfig(context.Background(), "docs", remotestore.ConfigPolicy, []byte(`{"Version":"2012-10-17"}`)))
	require.NoError(t, c.DeleteBucketConfig(context.Background(), "docs", remotestore.ConfigPolicy))
}
