package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingMessagesCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pending_messages_total",
		Help: "Depth of the pending message queue.",
	})
	pendingTxsCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pending_txs_total",
		Help: "Depth of the pending tx queue.",
	})
	messagesCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messages_total",
		Help: "Count of confirmed messages in the message table.",
	})
	processedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processed_messages_total",
		Help: "Count of pending messages promoted to the message table.",
	}, []string{"type"})
	duplicateMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_messages_total",
		Help: "Count of pending messages retired as duplicates of a confirmed message.",
	})
	rejectedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rejected_messages_total",
		Help: "Count of pending messages rejected permanently.",
	})
)
