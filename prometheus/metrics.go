package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var CollectionReadCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "okboz_collection_reads_total",
		Help: "Scoped collection reads by outcome (hit, empty, malformed, error)",
	},
	[]string{"collection", "outcome"},
)

var CollectionWriteCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "okboz_collection_writes_total",
		Help: "Scoped collection writes by outcome (written, guarded, cleared, error)",
	},
	[]string{"collection", "outcome"},
)

var SyncEventCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "okboz_sync_events_total",
		Help: "Change notifications seen by listeners by outcome (applied, own_origin, deleted, invalid)",
	},
	[]string{"outcome"},
)

var BackupCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "okboz_backup_operations_total",
		Help: "Export and import operations by outcome",
	},
	[]string{"collection", "operation", "outcome"},
)

var AggregateDurationHistogram = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "okboz_aggregate_duration_seconds",
		Help:    "Duration of super-admin aggregate reads",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"collection"},
)

var LoginCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "okboz_login_total",
		Help: "Total number of corporate login attempts",
	},
)

var AuthErrorCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "okboz_auth_errors_total",
		Help: "Corporate login failures by type",
	},
	[]string{"type"},
)

func init() {
	prometheus.MustRegister(CollectionReadCounter)
	prometheus.MustRegister(CollectionWriteCounter)
	prometheus.MustRegister(SyncEventCounter)
	prometheus.MustRegister(BackupCounter)
	prometheus.MustRegister(AggregateDurationHistogram)
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(AuthErrorCounter)
}

func RecordRead(collection, outcome string) {
	CollectionReadCounter.WithLabelValues(collection, outcome).Inc()
}

func RecordWrite(collection, outcome string) {
	CollectionWriteCounter.WithLabelValues(collection, outcome).Inc()
}

func RecordSyncEvent(outcome string) {
	SyncEventCounter.WithLabelValues(outcome).Inc()
}

func RecordBackup(collection, operation, outcome string) {
	BackupCounter.WithLabelValues(collection, operation, outcome).Inc()
}

func RecordAuthError(errorType string) {
	AuthErrorCounter.WithLabelValues(errorType).Inc()
}

// TrackAggregate is meant to be deferred: defer TrackAggregate("staff_data")(time.Now())
func TrackAggregate(collection string) func(time.Time) {
	return func(start time.Time) {
		AggregateDurationHistogram.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	}
}
