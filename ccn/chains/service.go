package chains

import (
	"context"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/config/params"
)

// Service owns one indexer per enabled chain.
type Service struct {
	indexers []*EVMIndexer
}

// NewService builds the indexers for every enabled chain in the config.
// Only Ethereum-family chains are indexed natively; other chains reach the
// node through p2p relays.
func NewService(ctx context.Context, cfgs []params.ChainConfig, db iface.Database) *Service {
	s := &Service{}
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		chain := types.Chain(cfg.Chain)
		switch chain {
		case types.ChainETH, types.ChainBNB:
			s.indexers = append(s.indexers, NewEVMIndexer(ctx, chain, cfg, db))
		default:
			log.WithField("chain", cfg.Chain).Warn("No native indexer for chain, skipping")
		}
	}
	return s
}

// Start launches every indexer.
func (s *Service) Start() {
	for _, idx := range s.indexers {
		idx.Start()
	}
}

// Stop halts every indexer.
func (s *Service) Stop() error {
	for _, idx := range s.indexers {
		if err := idx.Stop(); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the first failing indexer.
func (s *Service) Status() error {
	for _, idx := range s.indexers {
		if err := idx.Status(); err != nil {
			return err
		}
	}
	return nil
}
