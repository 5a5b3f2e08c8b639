// Package pipeline moves messages from the durable pending queues to the
// confirmed message table. The tx processor unpacks on-chain batches into
// pending messages; the message processor fetches, verifies, deduplicates
// and applies each pending message exactly once, whatever mix of p2p, http
// and on-chain copies of it arrive.
package pipeline

import (
	"context"
	"time"

	"github.com/aleph-im/go-aleph/async"
	"github.com/aleph-im/go-aleph/ccn/db"
	"github.com/aleph-im/go-aleph/ccn/handlers"
	"github.com/aleph-im/go-aleph/ccn/storage"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/config/params"
)

// metricsInterval is how often the queue depth gauges are refreshed.
const metricsInterval = 15 * time.Second

// Publisher forwards a locally confirmed message to the network.
// Implemented by the sync service on top of gossipsub.
type Publisher interface {
	Publish(ctx context.Context, msg *types.Message) error
}

// Config options for the pipeline service.
type Config struct {
	DB        db.Database
	Storage   *storage.Service
	Handlers  *handlers.Registry
	Publisher Publisher
	Params    *params.CCNChainConfig
}

// Service runs the message and tx processors.
type Service struct {
	cfg      *Config
	ctx      context.Context
	cancel   context.CancelFunc
	messages *MessageProcessor
	txs      *TxProcessor
}

// NewService initializes the pipeline service.
func NewService(ctx context.Context, cfg *Config) *Service {
	if cfg.Params == nil {
		cfg.Params = params.CCNConfig()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		messages: NewMessageProcessor(ctx, cfg),
		txs:      NewTxProcessor(ctx, cfg),
	}
}

// Start launches the processors and the metrics refresher.
func (s *Service) Start() {
	s.messages.Start()
	s.txs.Start()
	async.RunEvery(s.ctx, metricsInterval, s.refreshMetrics)
}

// Stop halts the processors, draining in-flight work.
func (s *Service) Stop() error {
	s.cancel()
	if err := s.txs.Stop(); err != nil {
		return err
	}
	return s.messages.Stop()
}

// Status always returns nil: failed rows are retried or rejected, never
// fatal to the service.
func (s *Service) Status() error {
	return nil
}

func (s *Service) refreshMetrics() {
	if depth, err := s.cfg.DB.CountPendingMessages(s.ctx); err == nil {
		pendingMessagesCount.Set(float64(depth))
	}
	if depth, err := s.cfg.DB.CountPendingTxs(s.ctx); err == nil {
		pendingTxsCount.Set(float64(depth))
	}
	if count, err := s.cfg.DB.CountMessages(s.ctx); err == nil {
		messagesCount.Set(float64(count))
	}
}
