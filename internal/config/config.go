package config

import (
	"runtime"
	"time"
)

// Config is the root configuration for the collection and index-management
// core: where namespace metadata and dictionaries live on disk, how
// background index builds are scheduled, and the defaults new collections
// and caches start with.
type Config struct {
	DataDir string

	IndexBuild IndexBuildConfig
	Capped     CappedConfig
	QueryCache QueryCacheConfig
	Metrics    MetricsConfig
}

// IndexBuildConfig sizes the worker pool background ("hot") index builds
// run on. Background builds share a bounded pool rather than one goroutine
// each, so a burst of ensureIndex calls can't exhaust the process.
type IndexBuildConfig struct {
	WorkerPoolSize int           // Max concurrent background index builds
	WorkerExpiry   time.Duration // Idle goroutine expiry for the pool
	PreAlloc       bool          // Pre-allocate the pool's worker queue
}

// CappedConfig holds the defaults a capped collection is created with when
// its options document omits size/max.
type CappedConfig struct {
	DefaultMaxSizeBytes int64
	DefaultMaxObjects   int64
}

// QueryCacheConfig sizes the per-collection query-plan cache.
type QueryCacheConfig struct {
	MaxEntries int
}

// MetricsConfig toggles the Prometheus metrics surface.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// DefaultConfig returns the configuration a freshly started process uses
// absent any overrides.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		IndexBuild: IndexBuildConfig{
			WorkerPoolSize: 2 * runtime.NumCPU(), // one build per core is typical, leave headroom
			WorkerExpiry:   time.Second,
			PreAlloc:       false,
		},
		Capped: CappedConfig{
			DefaultMaxSizeBytes: 64 * 1024 * 1024, // 64MB, matches the teacher's WAL segment default
			DefaultMaxObjects:   0,                // 0 = unbounded object count, size is the only limit
		},
		QueryCache: QueryCacheConfig{
			MaxEntries: 256,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "storedb",
		},
	}
}
