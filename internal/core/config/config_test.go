package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"TILE_WIDTH", "TILE_CACHE_MAX", "PARAM_STRICT", "KAFKA_BROKERS", "PREFETCH_WORKERS"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.TileWidth != 256 || cfg.TileHeight != 256 {
		t.Fatalf("tile size=%dx%d want 256x256", cfg.TileWidth, cfg.TileHeight)
	}
	if cfg.TileCacheMax != 0 || cfg.ParamStrict {
		t.Fatalf("cache max=%d strict=%v", cfg.TileCacheMax, cfg.ParamStrict)
	}
	if len(cfg.Events.Brokers) != 1 || cfg.Events.Brokers[0] != "localhost:9092" {
		t.Fatalf("brokers=%v", cfg.Events.Brokers)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TILE_WIDTH", "64")
	t.Setenv("TILE_HEIGHT", "-3")
	t.Setenv("TILE_CACHE_MAX", "500")
	t.Setenv("PARAM_STRICT", "yes")
	t.Setenv("PREFETCH_WORKERS", "0")
	t.Setenv("REDIS_OP_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg := FromEnv()
	if cfg.TileWidth != 64 || cfg.TileHeight != 256 {
		t.Fatalf("tile size=%dx%d want 64x256", cfg.TileWidth, cfg.TileHeight)
	}
	if cfg.TileCacheMax != 500 || !cfg.ParamStrict || cfg.PrefetchWorkers != 1 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.RedisOpTimeout != 2*time.Second {
		t.Fatalf("redis timeout=%v", cfg.RedisOpTimeout)
	}
	if len(cfg.Events.Brokers) != 2 || cfg.Events.Brokers[1] != "b:9092" {
		t.Fatalf("brokers=%v", cfg.Events.Brokers)
	}
}
