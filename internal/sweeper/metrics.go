package sweeper

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

func metricLabels() prometheus.Labels {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "codosphere-match-sweeper"
	}
	instance := os.Getenv("INSTANCE_ID")
	if instance == "" {
		instance, _ = os.Hostname()
	}
	return prometheus.Labels{"service": service, "instance": instance}
}

var reg = prometheus.WrapRegistererWith(metricLabels(), prometheus.DefaultRegisterer)

var (
	sweepCycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_cycle_total",
			Help: "Total number of sweep cycles by result and reason",
		},
		[]string{"result", "reason"},
	)

	sweepDeletedRooms = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweeper_deleted_rooms_total",
			Help: "Total number of expired waiting rooms deleted by the sweeper",
		},
	)

	sweepCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweeper_cycle_duration_seconds",
			Help:    "Duration of one sweep cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	reg.MustRegister(sweepCycleTotal)
	reg.MustRegister(sweepDeletedRooms)
	reg.MustRegister(sweepCycleDuration)
}

// ObserveSweepResult 记录一轮清扫的结果
func ObserveSweepResult(result, reason string) {
	sweepCycleTotal.WithLabelValues(result, reason).Inc()
}
