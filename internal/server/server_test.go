package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakefront/s3console/internal/config"
	"github.com/lakefront/s3console/internal/metrics"
	"github.com/lakefront/s3console/internal/server/handlers"
	"github.com/lakefront/s3console/pkg/cache"
	"github.com/lakefront/s3console/pkg/requestqueue"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	s := New(Options{
		Config: config.ServerConfig{Host: "localhost", Port: 0},
		Health: handlers.NewHealthManager("test"),
		Stats: handlers.StatsSources{
			Cache: func() cache.Stats {
				return cache.Stats{Total: 3, Valid: 2, Expired: 1, HitRate: 0.5}
			},
			Queue: func() requestqueue.Stats {
				return requestqueue.Stats{Pending: 1, RateDelay: time.Second, Dispatched: 7}
			},
		},
		Metrics: metrics.NewCollector(),
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthzRoute(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsRoute(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Cache struct {
			Total   int     `json:"total"`
			HitRate float64 `json:"hitRate"`
		} `json:"cache"`
		Queue struct {
			Pending     int   `json:"pending"`
			RateDelayMS int64 `json:"rateDelayMs"`
		} `json:"queue"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3, body.Cache.Total)
	assert.Equal(t, 0.5, body.Cache.HitRate)
	assert.Equal(t, int64(1000), body.Queue.RateDelayMS)
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
