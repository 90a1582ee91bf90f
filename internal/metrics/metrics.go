package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BackupsTotal tracks completed backup attempts by terminal status
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestegg_backups_total",
			Help: "Number of completed backup attempts by status",
		},
		[]string{"status"},
	)

	// StageFailures tracks stage errors by stage name
	StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestegg_stage_failures_total",
			Help: "Number of backup stage failures by stage",
		},
		[]string{"stage"},
	)

	// BackupDuration tracks end-to-end backup time
	BackupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nestegg_backup_duration_seconds",
			Help:    "Duration of backup attempts",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	// DiscoveryDuration tracks volume discovery time
	DiscoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nestegg_discovery_duration_seconds",
			Help:    "Duration of volume discovery passes",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(
		BackupsTotal,
		StageFailures,
		BackupDuration,
		DiscoveryDuration,
	)
}

// RecordBackup records a completed backup attempt
func RecordBackup(status string, seconds float64) {
	BackupsTotal.WithLabelValues(status).Inc()
	BackupDuration.WithLabelValues(status).Observe(seconds)
}

// RecordStageFailure records a stage error
func RecordStageFailure(stage string) {
	StageFailures.WithLabelValues(stage).Inc()
}

// RecordDiscovery records a discovery pass duration
func RecordDiscovery(seconds float64) {
	DiscoveryDuration.Observe(seconds)
}
