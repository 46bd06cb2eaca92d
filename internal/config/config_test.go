package config

import "testing"

func TestDefaultConfigHasSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Fatalf("expected non-empty default data dir")
	}
	if cfg.IndexBuild.WorkerPoolSize <= 0 {
		t.Fatalf("expected positive index build worker pool size")
	}
	if cfg.QueryCache.MaxEntries <= 0 {
		t.Fatalf("expected positive query cache size")
	}
	if !cfg.Metrics.Enabled {
		t.Fatalf("expected metrics enabled by default")
	}
}
