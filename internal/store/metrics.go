package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricQueueTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_queue_transitions_total",
			Help: "Number of delivery queue items entering each status.",
		},
		[]string{"status"},
	)
	metricMessageOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_message_operations_total",
			Help: "Number of committed message mutations by operation.",
		},
		[]string{"op"},
	)
	metricSearches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailstore_search_queries_total",
			Help: "Number of full-text searches executed.",
		},
	)
)
