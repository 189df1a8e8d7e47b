package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	chainMetricsOnce sync.Once
	chainRegistry    *chainMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricechain",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and route.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricechain",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pricechain",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricechain",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// OracleMetrics bundles collectors for the price worker.
type OracleMetrics struct {
	rounds      *prometheus.CounterVec
	fetches     *prometheus.HistogramVec
	submissions *prometheus.CounterVec
	lastPrice   prometheus.Gauge

	// OTLP mirrors of the round and fetch series.
	roundCounter   metric.Int64Counter
	fetchHistogram metric.Float64Histogram
}

// Oracle returns the worker metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricechain",
				Subsystem: "oracle",
				Name:      "rounds_total",
				Help:      "Worker rounds segmented by outcome.",
			}, []string{"outcome"}),
			fetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pricechain",
				Subsystem: "oracle",
				Name:      "fetch_duration_seconds",
				Help:      "Latency of external price fetches.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			}, []string{"result"}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricechain",
				Subsystem: "oracle",
				Name:      "submissions_total",
				Help:      "Price submissions handed to the pool segmented by mode and result.",
			}, []string{"mode", "result"}),
			lastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pricechain",
				Subsystem: "oracle",
				Name:      "last_fetched_price_cents",
				Help:      "Most recent price fetched by the worker, in cents.",
			}),
		}
		prometheus.MustRegister(
			oracleRegistry.rounds,
			oracleRegistry.fetches,
			oracleRegistry.submissions,
			oracleRegistry.lastPrice,
		)
		oracleRegistry.initMeter()
	})
	return oracleRegistry
}

func (m *OracleMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("pricechain/oracle")
	rounds, err := meter.Int64Counter("pricechain.oracle.rounds")
	if err != nil {
		meter = noop.NewMeterProvider().Meter("pricechain/oracle")
		rounds, _ = meter.Int64Counter("pricechain.oracle.rounds")
	}
	fetches, err := meter.Float64Histogram("pricechain.oracle.fetch.duration", metric.WithUnit("s"))
	if err != nil {
		fetches, _ = noop.NewMeterProvider().Meter("pricechain/oracle").Float64Histogram("pricechain.oracle.fetch.duration")
	}
	m.roundCounter = rounds
	m.fetchHistogram = fetches
}

// RecordRound counts a finished worker round.
func (m *OracleMetrics) RecordRound(outcome string) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(outcome).Inc()
	if m.roundCounter != nil {
		m.roundCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// ObserveFetch records the latency of one fetch and, on success, the price.
func (m *OracleMetrics) ObserveFetch(d time.Duration, cents uint64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(result).Observe(d.Seconds())
	if m.fetchHistogram != nil {
		m.fetchHistogram.Record(context.Background(), d.Seconds(), metric.WithAttributes(attribute.String("result", result)))
	}
	if err == nil {
		m.lastPrice.Set(float64(cents))
	}
}

// RecordSubmission counts a submission attempt.
func (m *OracleMetrics) RecordSubmission(mode string, err error) {
	if m == nil {
		return
	}
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	m.submissions.WithLabelValues(mode, result).Inc()
}

type chainMetrics struct {
	height        prometheus.Gauge
	blockTxs      prometheus.Histogram
	rejected      prometheus.Counter
	blockInterval prometheus.Gauge
	scheduled     *prometheus.CounterVec
	reservedUsed  prometheus.Gauge
}

// Chain exposes block production metrics.
func Chain() *chainMetrics {
	chainMetricsOnce.Do(func() {
		chainRegistry = &chainMetrics{
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pricechain",
				Subsystem: "chain",
				Name:      "height",
				Help:      "Height of the last committed block.",
			}),
			blockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "pricechain",
				Subsystem: "chain",
				Name:      "block_transactions",
				Help:      "Transactions included per block.",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
			}),
			rejected: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pricechain",
				Subsystem: "chain",
				Name:      "rejected_transactions_total",
				Help:      "Pending submissions dropped because they failed at block application.",
			}),
			blockInterval: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pricechain",
				Subsystem: "chain",
				Name:      "block_interval_seconds",
				Help:      "Interval in seconds between the timestamps of consecutive committed blocks.",
			}),
			scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricechain",
				Subsystem: "chain",
				Name:      "scheduled_transactions_total",
				Help:      "Pending submissions scheduled into a block, by lane.",
			}, []string{"lane"}),
			reservedUsed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pricechain",
				Subsystem: "chain",
				Name:      "reserved_signed_used",
				Help:      "Signed submissions scheduled in the last block, out of the reserved signed capacity.",
			}),
		}
		prometheus.MustRegister(chainRegistry.height, chainRegistry.blockTxs, chainRegistry.rejected, chainRegistry.blockInterval,
			chainRegistry.scheduled, chainRegistry.reservedUsed)
	})
	return chainRegistry
}

// RecordBlock updates the chain gauges after a commit.
func (m *chainMetrics) RecordBlock(height uint64, included, rejected int, interval time.Duration) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
	m.blockTxs.Observe(float64(included))
	m.rejected.Add(float64(rejected))
	seconds := interval.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.blockInterval.Set(seconds)
}

// RecordSchedule tracks how a block's capacity was split between lanes.
func (m *chainMetrics) RecordSchedule(used int, byLane map[string]int) {
	if m == nil {
		return
	}
	m.reservedUsed.Set(float64(used))
	for lane, count := range byLane {
		m.scheduled.WithLabelValues(lane).Add(float64(count))
	}
}
