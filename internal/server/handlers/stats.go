package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lakefront/s3console/pkg/cache"
	"github.com/lakefront/s3console/pkg/history"
	"github.com/lakefront/s3console/pkg/requestqueue"
)

// StatsSources supplies live subsystem snapshots to the stats endpoint.
// Any nil source is omitted from the response.
type StatsSources struct {
	Cache   func() cache.Stats
	Queue   func() requestqueue.Stats
	History func(r *http.Request) (history.Stats, error)
}

// statsResponse is the /api/stats JSON body.
type statsResponse struct {
	Cache   *cacheStats    `json:"cache,omitempty"`
	Queue   *queueStats    `json:"queue,omitempty"`
	History *history.Stats `json:"history,omitempty"`
}

type cacheStats struct {
	Total   int     `json:"total"`
	Valid   int     `json:"valid"`
	Expired int     `json:"expired"`
	HitRate float64 `json:"hitRate"`
}

type queueStats struct {
	Pending     int    `json:"pending"`
	RateDelayMS int64  `json:"rateDelayMs"`
	Dispatched  uint64 `json:"dispatched"`
	RateLimited uint64 `json:"rateLimited"`
}

// StatsHandler serves a JSON snapshot of the client subsystems.
func StatsHandler(sources StatsSources) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp statsResponse

		if sources.Cache != nil {
			s := sources.Cache()
			resp.Cache = &cacheStats{
				Total:   s.Total,
				Valid:   s.Valid,
				Expired: s.Expired,
				HitRate: s.HitRate,
			}
		}
		if sources.Queue != nil {
			s := sources.Queue()
			resp.Queue = &queueStats{
				Pending:     s.Pending,
				RateDelayMS: s.RateDelay.Milliseconds(),
				Dispatched:  s.Dispatched,
				RateLimited: s.RateLimited,
			}
		}
		if sources.History != nil {
			s, err := sources.History(r)
			if err == nil {
				resp.History = &s
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
