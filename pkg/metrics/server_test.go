package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	snap := Snapshot{
		State:      "running",
		FHEntries:  3,
		FHAccesses: 10,
		FHHits:     7,
		FHMisses:   3,
		FDRead:     1,
		FDWrite:    2,
		Mounts:     1,
	}
	router := NewRouter(func() Snapshot { return snap })

	t.Run("debug stats", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/stats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var got Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, snap, got)
	})

	t.Run("stats without source", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/stats", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("post not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/stats", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("unknown path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCacheCollector(t *testing.T) {
	c := NewCacheCollector(func() Snapshot {
		return Snapshot{FHEntries: 5, FDRead: 1, FDWrite: 2}
	})

	descs := make(chan *prometheus.Desc, 16)
	c.Describe(descs)
	close(descs)
	assert.Len(t, descs, 6)

	collected := make(chan prometheus.Metric, 16)
	c.Collect(collected)
	close(collected)

	count := 0
	for range collected {
		count++
	}
	// entries, lookups, hits, misses, fd read, fd write, mounts
	assert.Equal(t, 7, count)
}
