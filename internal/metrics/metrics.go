package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resource kinds.
const (
	KindConn   = "conn"
	KindStmt   = "stmt"
	KindCursor = "cursor"
)

var (
	resourcesAcquired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaexec_resources_acquired_total",
			Help: "Driver resources acquired, by kind",
		},
		[]string{"kind"},
	)
	resourcesReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaexec_resources_released_total",
			Help: "Driver resources released, by kind",
		},
		[]string{"kind"},
	)
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novaexec_query_duration_seconds",
			Help:    "Time from execution start to resource release, by consumption strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaexec_errors_total",
			Help: "Errors by class (driver, lifecycle, config)",
		},
		[]string{"class"},
	)
	batchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaexec_batch_flushes_total",
			Help: "Batch round trips, by mode (batch, single)",
		},
		[]string{"mode"},
	)
	txFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaexec_transactions_total",
			Help: "Finished transactions, by outcome",
		},
		[]string{"outcome"},
	)
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "novaexec_wire_sessions_active",
			Help: "Open wire server sessions",
		},
	)
)

func Acquired(kind string) { resourcesAcquired.WithLabelValues(kind).Inc() }
func Released(kind string) { resourcesReleased.WithLabelValues(kind).Inc() }
func Error(class string)   { errorsTotal.WithLabelValues(class).Inc() }

// ObserveQuery records the time elapsed since start for a strategy.
func ObserveQuery(strategy string, start time.Time) {
	queryDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
}

func BatchFlush(mode string)    { batchFlushes.WithLabelValues(mode).Inc() }
func TxFinished(outcome string) { txFinished.WithLabelValues(outcome).Inc() }
func SessionOpened()            { sessionsActive.Inc() }
func SessionClosed()            { sessionsActive.Dec() }

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
