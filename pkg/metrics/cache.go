package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the server state reported by SIGUSR1, /debug/stats and the
// cache collector.
type Snapshot struct {
	State  string `json:"state"`
	Uptime string `json:"uptime"`

	// File handle cache.
	FHEntries  int    `json:"fh_entries"`
	FHAccesses uint64 `json:"fh_access"`
	FHHits     uint64 `json:"fh_hit"`
	FHMisses   uint64 `json:"fh_miss"`

	// Open descriptors held by the descriptor cache.
	FDRead  int `json:"fd_read"`
	FDWrite int `json:"fd_write"`

	Mounts             int    `json:"mounts"`
	Exports            int    `json:"exports"`
	RateLimitedClients int    `json:"rate_limited_clients"`
	CookieEpoch        uint32 `json:"cookie_epoch"`
}

// SnapshotFunc returns the current server state. It must be safe to call
// from the HTTP goroutines.
type SnapshotFunc func() Snapshot

// cacheCollector exports Snapshot values as gauges and counters at scrape
// time, so the caches need no Prometheus dependency.
type cacheCollector struct {
	snapshot SnapshotFunc

	fhEntries  *prometheus.Desc
	fhAccesses *prometheus.Desc
	fhHits     *prometheus.Desc
	fhMisses   *prometheus.Desc
	fdOpen     *prometheus.Desc
	mounts     *prometheus.Desc
}

// RegisterCacheCollector registers a collector over snapshot on the global
// registry. It is a no-op when metrics are disabled.
func RegisterCacheCollector(snapshot SnapshotFunc) error {
	if !IsEnabled() {
		return nil
	}
	return GetRegistry().Register(NewCacheCollector(snapshot))
}

// NewCacheCollector returns a prometheus.Collector over snapshot.
func NewCacheCollector(snapshot SnapshotFunc) prometheus.Collector {
	fq := func(name string) string { return prometheus.BuildFQName(Namespace, "", name) }
	return &cacheCollector{
		snapshot:   snapshot,
		fhEntries:  prometheus.NewDesc(fq("fh_cache_entries"), "File handles currently cached", nil, nil),
		fhAccesses: prometheus.NewDesc(fq("fh_cache_lookups_total"), "File handle resolutions", nil, nil),
		fhHits:     prometheus.NewDesc(fq("fh_cache_hits_total"), "File handle resolutions answered from the cache", nil, nil),
		fhMisses:   prometheus.NewDesc(fq("fh_cache_misses_total"), "File handle resolutions that had to search the file system", nil, nil),
		fdOpen:     prometheus.NewDesc(fq("fd_cache_open"), "Descriptors held open by the descriptor cache", []string{"mode"}, nil),
		mounts:     prometheus.NewDesc(fq("mounts"), "Entries in the MOUNT table", nil, nil),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fhEntries
	ch <- c.fhAccesses
	ch <- c.fhHits
	ch <- c.fhMisses
	ch <- c.fdOpen
	ch <- c.mounts
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	ch <- prometheus.MustNewConstMetric(c.fhEntries, prometheus.GaugeValue, float64(s.FHEntries))
	ch <- prometheus.MustNewConstMetric(c.fhAccesses, prometheus.CounterValue, float64(s.FHAccesses))
	ch <- prometheus.MustNewConstMetric(c.fhHits, prometheus.CounterValue, float64(s.FHHits))
	ch <- prometheus.MustNewConstMetric(c.fhMisses, prometheus.CounterValue, float64(s.FHMisses))
	ch <- prometheus.MustNewConstMetric(c.fdOpen, prometheus.GaugeValue, float64(s.FDRead), "read")
	ch <- prometheus.MustNewConstMetric(c.fdOpen, prometheus.GaugeValue, float64(s.FDWrite), "write")
	ch <- prometheus.MustNewConstMetric(c.mounts, prometheus.GaugeValue, float64(s.Mounts))
}
