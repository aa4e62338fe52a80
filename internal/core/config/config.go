package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	Queue   int
	// GroupID is the consumer group of the watch command.
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr     string
	LogLevel string
	LogCons  bool
	LogSampN int

	// ParamStrict makes unknown parameter keys fail binding.
	ParamStrict bool

	TileWidth       int
	TileHeight      int
	TileCacheMax    int
	PrefetchWorkers int

	RedisAddr      string
	RedisOpTimeout time.Duration

	Events  EventsCfg
	Metrics MetricsCfg
}

func FromEnv() Config {
	tw := getint("TILE_WIDTH", 256)
	th := getint("TILE_HEIGHT", 256)
	if tw <= 0 {
		tw = 256
	}
	if th <= 0 {
		th = 256
	}
	workers := getint("PREFETCH_WORKERS", 4)
	if workers <= 0 {
		workers = 1
	}
	cacheMax := getint("TILE_CACHE_MAX", 0)
	if cacheMax < 0 {
		cacheMax = 0
	}

	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		LogCons:  getbool("LOG_CONSOLE", false),
		LogSampN: getint("LOG_SAMPLE_N", 0),

		ParamStrict: getbool("PARAM_STRICT", false),

		TileWidth:       tw,
		TileHeight:      th,
		TileCacheMax:    cacheMax,
		PrefetchWorkers: workers,

		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		RedisOpTimeout: getduration("REDIS_OP_TIMEOUT", 250*time.Millisecond),

		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "tilegraph-runs"),
			Queue:   getint("EVENTS_QUEUE", 256),
			GroupID: getenv("KAFKA_GROUP_ID", "tilegraph-watch"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
