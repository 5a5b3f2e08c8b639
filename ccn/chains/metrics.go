package chains

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lastCommittedHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "last_committed_height",
		Help: "Highest block height committed by a chain indexer.",
	}, []string{"chain"})
	indexedTxsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexed_txs_total",
		Help: "Count of aleph transactions written to the pending tx queue.",
	}, []string{"chain"})
)
