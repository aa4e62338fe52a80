package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	tileComputations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_computations_total",
			Help: "Operator compute invocations by operator type and strategy.",
		},
		[]string{"operator", "strategy"},
	)

	tileComputeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_compute_duration_seconds",
			Help:    "Duration of one operator compute call, upstream pulls included.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operator"},
	)

	tileCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Run tile cache lookups by outcome (hit, miss, coalesced, evicted).",
		},
		[]string{"outcome"},
	)

	paramBindFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "param_bind_failures_total",
			Help: "Parameter binding failures by reason.",
		},
		[]string{"reason"},
	)

	redisOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of raster store Redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	runEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "run_events_total",
			Help: "Run lifecycle events by type and result (queued, dropped, failed).",
		},
		[]string{"type", "result"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Errors while consuming run events.",
		},
		[]string{"kind"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tilegraph_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		tileComputations, tileComputeSeconds, tileCacheResults,
		paramBindFailures, redisOpSeconds, runEvents, kafkaConsumerErrors,
		buildInfo,
	}
}

// Init registers the engine collectors with reg. Counting works without it;
// only exposition needs a registry. Registering twice is harmless.
func Init(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCompute(operator, strategy string, durationSeconds float64) {
	tileComputations.WithLabelValues(operator, strategy).Inc()
	tileComputeSeconds.WithLabelValues(operator).Observe(durationSeconds)
}

func IncTileCache(outcome string) {
	tileCacheResults.WithLabelValues(outcome).Inc()
}

func IncBindFailure(reason string) {
	if reason == "" {
		reason = "other"
	}
	paramBindFailures.WithLabelValues(reason).Inc()
}

func ObserveRedisOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	redisOpSeconds.WithLabelValues(op, res).Observe(durationSeconds)
}

func IncRunEvent(eventType, result string) {
	runEvents.WithLabelValues(eventType, result).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
