package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	receivedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "received_messages_total",
		Help: "Count of message envelopes accepted from the network.",
	}, []string{"origin"})
	ignoredMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ignored_messages_total",
		Help: "Count of gossip envelopes ignored before queueing.",
	}, []string{"reason"})
	publishedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "published_messages_total",
		Help: "Count of envelopes published to the gossip topic.",
	})
)
