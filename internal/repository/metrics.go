package repository

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
	// docstoreTxnConflictTotal 乐观事务冲突重试次数
	docstoreTxnConflictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_txn_conflict_total",
			Help: "Total number of optimistic transaction conflicts (retried)",
		},
	)

	// docstoreTxnExhaustedTotal 重试耗尽而放弃的事务数
	docstoreTxnExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_txn_exhausted_total",
			Help: "Total number of transactions abandoned after exhausting retries",
		},
	)
)

func init() {
	reg.MustRegister(docstoreTxnConflictTotal)
	reg.MustRegister(docstoreTxnExhaustedTotal)
}

func ObserveTxnConflict() {
	docstoreTxnConflictTotal.Inc()
}

func ObserveTxnExhausted() {
	docstoreTxnExhaustedTotal.Inc()
}
