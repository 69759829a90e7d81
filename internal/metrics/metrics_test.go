package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakefront/s3console/pkg/cache"
	"github.com/lakefront/s3console/pkg/history"
	"github.com/lakefront/s3console/pkg/requestqueue"
)

func TestObserveCache(t *testing.T) {
	c := NewCollector()
	c.ObserveCache(cache.Stats{Total: 12, Valid: 10, Expired: 2, HitRate: 0.8})

	assert.Equal(t, 10.0, testutil.ToFloat64(c.cacheEntries.WithLabelValues("valid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheEntries.WithLabelValues("expired")))
	assert.Equal(t, 0.8, testutil.ToFloat64(c.cacheHitRate))
}

func TestObserveQueueCountersUseDeltas(t *testing.T) {
	c := NewCollector()

	prev := requestqueue.Stats{}
	cur := requestqueue.Stats{Pending: 3, RateDelay: 2 * time.Second, Dispatched: 5, RateLimited: 1}
	c.ObserveQueue(prev, cur)
	c.ObserveQueue(cur, requestqueue.Stats{Pending: 0, Dispatched: 8, RateLimited: 1})

	assert.Equal(t, 8.0, testutil.ToFloat64(c.dispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rateLimited))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.queuePending))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector()
	c.ObserveHistory(history.Stats{Total: 4, Errors: 1, Pending: 2})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, 200, resp.StatusCode)

	assert.Equal(t, 4.0, testutil.ToFloat64(c.historyTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.syncPending))
}
