// Package params defines important configuration options for the core channel
// node, with default values for the main aleph.im network.
package params

import (
	"time"
)

// ChainConfig contains the settings of a single on-chain sync indexer.
type ChainConfig struct {
	Chain             string        `yaml:"chain"`
	Enabled           bool          `yaml:"enabled"`
	RPCEndpoint       string        `yaml:"rpc_endpoint"`
	ContractAddress   string        `yaml:"contract_address"`
	StartHeight       uint64        `yaml:"start_height"`
	ConfirmationDepth uint64        `yaml:"confirmation_depth"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	BlockWindow       uint64        `yaml:"block_window"`
}

// CCNChainConfig contains the parameters driving the message pipeline, the
// content-addressed storage and the p2p services of a core channel node.
type CCNChainConfig struct {
	// Message pipeline.
	MessageWorkers       int           // Number of parallel pending message workers.
	MessageBatchSize     int           // Rows claimed by a worker per pass.
	MessageClaimInterval time.Duration // Idle worker poll interval of the pending queue.
	MaxRetries           uint32        // Retries before a pending message is rejected.
	RetryBackoffBase     time.Duration // Base interval of the exponential retry backoff.
	RetryBackoffCap      time.Duration // Upper bound of the retry backoff.
	ClaimTimeout         time.Duration // Claimed rows become re-claimable after this delay.
	FetchTimeout         time.Duration // Timeout of a single remote content fetch.
	MaxInlineContentSize int           // Maximum size of inline item content in bytes.
	PendingHighWatermark int           // P2P/HTTP ingress rejects new messages above this queue depth.
	TypeConcurrency      map[string]int64
	AggregateTieBreak    string // Tie-break rule for aggregate elements with equal time.

	// Pending tx processor.
	TxWorkers       int
	TxMaxRetries    uint32
	TxBackoffBase   time.Duration
	TxBackoffCap    time.Duration
	TxFetchTimeout  time.Duration // Timeout of an off-chain chaindata fetch.
	TxClaimInterval time.Duration // Pending tx queue poll interval.

	// Content-addressed storage.
	IPFSAPIAddr         string
	FileGracePeriod     time.Duration // Grace before deleting an unpinned stored file.
	TempFileGracePeriod time.Duration // Grace before deleting a never-pinned upload.
	GCInterval          time.Duration

	// Balances.
	BalanceInterval           time.Duration
	TrustedBalancePostSenders []string
	FreeStorageBytes          uint64 // Storage allowance of an address holding no tokens.
	StorageBytesPerToken      uint64 // Additional allowance per token held.

	// P2P.
	MessageTopic   string
	PublishRate    int64 // Published messages per second per channel.
	PublishBurst   int64
	MaxMessageSize int

	// Chain indexers.
	Chains []ChainConfig
}

var ccnConfig = MainnetConfig()

// CCNConfig retrieves the current ccn chain config.
func CCNConfig() *CCNChainConfig {
	return ccnConfig
}

// OverrideCCNConfig by replacing the config. The preferred pattern is to
// retrieve the existing config, change the desired parameters, and then set
// the new value.
func OverrideCCNConfig(c *CCNChainConfig) {
	ccnConfig = c
}

// MainnetConfig returns the default config for the aleph.im main network.
func MainnetConfig() *CCNChainConfig {
	return &CCNChainConfig{
		MessageWorkers:       8,
		MessageBatchSize:     64,
		MessageClaimInterval: time.Second,
		MaxRetries:           10,
		RetryBackoffBase:     5 * time.Second,
		RetryBackoffCap:      time.Hour,
		ClaimTimeout:         5 * time.Minute,
		FetchTimeout:         30 * time.Second,
		MaxInlineContentSize: 200 * 1024,
		PendingHighWatermark: 200000,
		TypeConcurrency: map[string]int64{
			"AGGREGATE": 8,
			"POST":      8,
			"STORE":     4,
			"FORGET":    2,
			"PROGRAM":   4,
		},
		AggregateTieBreak: "item-hash-asc",

		TxWorkers:       2,
		TxMaxRetries:    10,
		TxBackoffBase:   5 * time.Second,
		TxBackoffCap:    10 * time.Minute,
		TxFetchTimeout:  2 * time.Minute,
		TxClaimInterval: 5 * time.Second,

		IPFSAPIAddr:         "http://127.0.0.1:5001",
		FileGracePeriod:     24 * time.Hour,
		TempFileGracePeriod: time.Hour,
		GCInterval:          time.Hour,

		BalanceInterval:           10 * time.Minute,
		TrustedBalancePostSenders: nil,
		FreeStorageBytes:          25 << 20,
		StorageBytesPerToken:      3 << 20,

		MessageTopic:   "ALEPH-TEST",
		PublishRate:    50,
		PublishBurst:   100,
		MaxMessageSize: 1 << 20,

		Chains: []ChainConfig{
			{
				Chain:             "ETH",
				Enabled:           false,
				RPCEndpoint:       "http://127.0.0.1:8545",
				ConfirmationDepth: 12,
				PollInterval:      10 * time.Second,
				BlockWindow:       1000,
			},
			{
				Chain:             "BNB",
				Enabled:           false,
				RPCEndpoint:       "http://127.0.0.1:8575",
				ConfirmationDepth: 15,
				PollInterval:      10 * time.Second,
				BlockWindow:       1000,
			},
		},
	}
}

// MinimalTestConfig returns a config suitable for unit tests: tight timeouts,
// no retries spread over hours.
func MinimalTestConfig() *CCNChainConfig {
	c := MainnetConfig()
	c.MessageWorkers = 2
	c.MessageBatchSize = 8
	c.MessageClaimInterval = 10 * time.Millisecond
	c.RetryBackoffBase = 10 * time.Millisecond
	c.RetryBackoffCap = 100 * time.Millisecond
	c.ClaimTimeout = time.Second
	c.FetchTimeout = time.Second
	c.TxBackoffBase = 10 * time.Millisecond
	c.TxBackoffCap = 100 * time.Millisecond
	c.FileGracePeriod = time.Second
	c.TempFileGracePeriod = time.Second
	c.GCInterval = time.Second
	return c
}
