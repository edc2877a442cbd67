package matchmaking

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

func metricLabels() prometheus.Labels {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "codosphere-match-api"
	}
	instance := os.Getenv("INSTANCE_ID")
	if instance == "" {
		instance, _ = os.Hostname()
	}
	return prometheus.Labels{"service": service, "instance": instance}
}

var reg = prometheus.WrapRegistererWith(metricLabels(), prometheus.DefaultRegisterer)

var (
	// queueJoinTotal 入队结果计数
	queueJoinTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_queue_join_total",
			Help: "Total number of queue join calls by outcome",
		},
		[]string{"outcome"},
	)

	// queueJoinDuration 入队耗时 (含事务重试)
	queueJoinDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mm_queue_join_duration_seconds",
			Help:    "Duration of queue join calls including transaction retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	// matchCompletedTotal 对局完结计数 (按完结方式)
	matchCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_match_completed_total",
			Help: "Total number of completed matches by reason",
		},
		[]string{"reason"},
	)

	// roomsExpiredTotal 清理掉的过期房间数
	roomsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mm_rooms_expired_total",
			Help: "Total number of expired waiting rooms deleted",
		},
	)

	// statsAwardTotal 计分调用结果
	statsAwardTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_stats_award_total",
			Help: "Total number of rank point award attempts by result",
		},
		[]string{"result"},
	)

	// dispatcherTaskTotal 后台任务执行结果
	dispatcherTaskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_dispatcher_task_total",
			Help: "Total number of background task executions by kind and result",
		},
		[]string{"kind", "result"},
	)

	// dispatcherPending 待执行的后台任务数
	dispatcherPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mm_dispatcher_pending",
			Help: "Current number of pending background tasks",
		},
	)
)

func init() {
	reg.MustRegister(queueJoinTotal)
	reg.MustRegister(queueJoinDuration)
	reg.MustRegister(matchCompletedTotal)
	reg.MustRegister(roomsExpiredTotal)
	reg.MustRegister(statsAwardTotal)
	reg.MustRegister(dispatcherTaskTotal)
	reg.MustRegister(dispatcherPending)
}

const (
	completedReasonSubmissions = "submissions"
	completedReasonForfeit     = "forfeit"
	completedReasonStale       = "stale"
)
