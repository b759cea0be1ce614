package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cellwarden",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cellwarden",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reservationActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cellwarden",
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Reservation engine actions by outcome.",
		},
		[]string{"action", "outcome"},
	)
	reservedCells = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cellwarden",
			Subsystem: "engine",
			Name:      "reserved_cells",
			Help:      "Cells currently holding a reservation.",
		},
	)
	remoteExec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cellwarden",
			Subsystem: "remote",
			Name:      "commands_total",
			Help:      "Remote commands by operation and success.",
		},
		[]string{"op", "success"},
	)
	remoteExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cellwarden",
			Subsystem: "remote",
			Name:      "command_duration_seconds",
			Help:      "Remote command duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)
	probeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cellwarden",
			Subsystem: "allocator",
			Name:      "probes_total",
			Help:      "Host reachability probes by result.",
		},
		[]string{"result"},
	)
	sweeperReclaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cellwarden",
			Subsystem: "sweeper",
			Name:      "reclaims_total",
			Help:      "Expired reservations reclaimed by the sweeper.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			reservationActions,
			reservedCells,
			remoteExec,
			remoteExecDuration,
			probeResults,
			sweeperReclaims,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordAction counts one engine operation; outcome is "ok" or the error class.
func RecordAction(action, outcome string) {
	RegisterMetrics()
	reservationActions.WithLabelValues(action, outcome).Inc()
}

func SetReservedCells(n int) {
	RegisterMetrics()
	reservedCells.Set(float64(n))
}

func RecordRemoteExec(op string, duration time.Duration, success bool) {
	RegisterMetrics()
	remoteExec.WithLabelValues(op, strconv.FormatBool(success)).Inc()
	remoteExecDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordProbe(reachable bool) {
	RegisterMetrics()
	result := "unreachable"
	if reachable {
		result = "reachable"
	}
	probeResults.WithLabelValues(result).Inc()
}

func RecordReclaim(success bool) {
	RegisterMetrics()
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	sweeperReclaims.WithLabelValues(outcome).Inc()
}
