package histsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakefront/s3console/pkg/apperror"
	"github.com/lakefront/s3console/pkg/history"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:   srv.URL,
		AccessKey: "AKIA123",
		SecretKey: "secret",
		Region:    "fr-par",
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestPushSendsBatchAndReturnsAcks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/history/sync", r.URL.Path)
		assert.Equal(t, "AKIA123", r.Header.Get("x-access-key"))
		assert.Equal(t, "fr-par", r.Header.Get("x-region"))

		var req pushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Entries, 2)

		_ = json.NewEncoder(w).Encode(pushResponse{SyncedIDs: []string{"a", "b"}})
	})

	acked, err := c.Push(context.Background(), []history.Entry{
		{ID: "a", OperationType: history.OpBucketList},
		{ID: "b", OperationType: history.OpObjectUpload},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, acked)
}

func TestFetchDecodesEntries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/history", r.URL.Path)
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(fetchResponse{Entries: []history.Entry{
			{ID: "srv-1", Status: history.StatusSuccess},
		}})
	})

	entries, err := c.Fetch(context.Background(), 200)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "srv-1", entries[0].ID)
}

func TestClearUsesDelete(t *testing.T) {
	var method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Clear(context.Background()))
	assert.Equal(t, http.MethodDelete, method)
}

func TestErrorEnvelopeClassifies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "InvalidAccessKeyId",
			"message": "unknown access key",
		})
	})

	_, err := c.Fetch(context.Background(), 0)
	require.Error(t, err)

	var httpErr *apperror.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Equal(t, apperror.CodeInvalidCredentials, apperror.CodeOf(err))
}
