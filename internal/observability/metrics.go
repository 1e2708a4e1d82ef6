package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	scanCounter            *prometheus.CounterVec
	matchCounter           *prometheus.CounterVec
	creditCounter          *prometheus.CounterVec
	expiredOrdersCounter   prometheus.Counter
	allocationRetryCounter prometheus.Counter
	manualReviewQueueGauge prometheus.Gauge
	idempotencyCounter     *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		scanCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explorer_scans_total",
			Help: "Explorer scan outcomes per chain",
		}, []string{"chain", "result"})

		matchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_matches_total",
			Help: "Transfer matching outcomes",
		}, []string{"outcome"})

		creditCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_credits_total",
			Help: "Ledger credit outcomes for settled orders",
		}, []string{"result"})

		expiredOrdersCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deposit_orders_expired_total",
			Help: "Orders swept to EXPIRED",
		})

		allocationRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "amount_allocation_retries_total",
			Help: "Disambiguation amount collisions that triggered a retry",
		})

		manualReviewQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credit_manual_review_queue_size",
			Help: "Settled orders whose ledger credit needs operator attention",
		})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			scanCounter,
			matchCounter,
			creditCounter,
			expiredOrdersCounter,
			allocationRetryCounter,
			manualReviewQueueGauge,
			idempotencyCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementScan(chain, result string) {
	if scanCounter == nil {
		return
	}
	scanCounter.WithLabelValues(chain, result).Inc()
}

func IncrementMatch(outcome string) {
	if matchCounter == nil {
		return
	}
	matchCounter.WithLabelValues(outcome).Inc()
}

func IncrementCredit(result string) {
	if creditCounter == nil {
		return
	}
	creditCounter.WithLabelValues(result).Inc()
}

func AddExpiredOrders(count int64) {
	if expiredOrdersCounter == nil || count <= 0 {
		return
	}
	expiredOrdersCounter.Add(float64(count))
}

func IncrementAllocationRetry() {
	if allocationRetryCounter == nil {
		return
	}
	allocationRetryCounter.Inc()
}

func SetManualReviewQueueSize(size int64) {
	if manualReviewQueueGauge == nil {
		return
	}
	manualReviewQueueGauge.Set(float64(size))
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
