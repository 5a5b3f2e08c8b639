package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/aleph-im/go-aleph/async"
	"github.com/aleph-im/go-aleph/ccn/chains"
	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// txClaimLimit bounds the pending txs unpacked per pass. A single tx can
// fan out into thousands of messages, so passes stay small.
const txClaimLimit = 16

// TxProcessor drains the pending tx queue: each claimed tx is unpacked into
// the pending messages it batches, which are enqueued atomically with the
// retirement of the tx row.
type TxProcessor struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTxProcessor initializes the pending tx worker.
func NewTxProcessor(ctx context.Context, cfg *Config) *TxProcessor {
	ctx, cancel := context.WithCancel(ctx)
	return &TxProcessor{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Start launches the periodic claim loop.
func (p *TxProcessor) Start() {
	async.RunEvery(p.ctx, p.cfg.Params.TxClaimInterval, func() {
		if err := p.Pass(p.ctx); err != nil {
			log.WithError(err).Error("Pending tx pass failed")
		}
	})
}

// Stop halts the claim loop.
func (p *TxProcessor) Stop() error {
	p.cancel()
	return nil
}

// Pass claims and unpacks one batch of due pending txs. When the pending
// message queue is above the high watermark the pass is skipped: on-chain
// history is durable and loses nothing by waiting.
func (p *TxProcessor) Pass(ctx context.Context) error {
	depth, err := p.cfg.DB.CountPendingMessages(ctx)
	if err != nil {
		return err
	}
	if depth > p.cfg.Params.PendingHighWatermark {
		log.WithField("depth", depth).Debug("Pending message queue above high watermark, skipping tx pass")
		return nil
	}
	claimed, err := p.cfg.DB.ClaimPendingTxs(ctx, time.Now().UTC(), txClaimLimit)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	// TxWorkers unpack in parallel; off-chain fetches dominate the pass.
	workers := p.cfg.Params.TxWorkers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan *types.PendingTx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for ptx := range jobs {
				if err := p.processTx(gctx, ptx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(jobs)
		for _, ptx := range claimed {
			select {
			case jobs <- ptx:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	return g.Wait()
}

func (p *TxProcessor) processTx(ctx context.Context, ptx *types.PendingTx) error {
	fields := map[string]interface{}{
		"chain":  ptx.Context.Chain,
		"txHash": ptx.Context.TxHash,
		"height": ptx.Context.Height,
	}
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Params.TxFetchTimeout)
	msgs, offchainRef, err := chains.UnpackMessages(fetchCtx, ptx, p.cfg.Storage)
	cancel()
	if err != nil {
		if errors.Is(err, chains.ErrMalformedChainData) {
			log.WithError(err).WithFields(fields).Warn("Rejecting malformed pending tx")
			return p.cfg.DB.RejectPendingTx(ctx, ptx, err.Error())
		}
		retries := ptx.Retries + 1
		if retries > p.cfg.Params.TxMaxRetries {
			log.WithError(err).WithFields(fields).Warn("Rejecting pending tx after too many retries")
			return p.cfg.DB.RejectPendingTx(ctx, ptx, "too many retries: "+err.Error())
		}
		delay := backoffDelay(p.cfg.Params.TxBackoffBase, p.cfg.Params.TxBackoffCap, retries)
		log.WithError(err).WithFields(fields).WithField("delay", delay).Debug("Rescheduling pending tx")
		return p.cfg.DB.SetPendingTxRetry(ctx, ptx, time.Now().UTC().Add(delay))
	}

	err = p.cfg.DB.Update(ctx, func(txn iface.Txn) error {
		for _, pm := range msgs {
			if err := txn.SavePendingMessage(pm); err != nil {
				return err
			}
		}
		if offchainRef != "" {
			if err := p.pinOffchainRef(txn, offchainRef); err != nil {
				return err
			}
		}
		return txn.DeletePendingTx(ptx.Context.Chain, ptx.Context.TxHash)
	})
	if err != nil {
		return err
	}
	log.WithFields(fields).WithField("messages", len(msgs)).Info("Unpacked pending tx")
	return nil
}

// pinOffchainRef makes the off-chain chaindata object permanent: it is part
// of the chain history this node may have to serve back.
func (p *TxProcessor) pinOffchainRef(txn iface.Txn, ref string) error {
	f, err := txn.File(ref)
	if err != nil {
		if !errors.Is(err, iface.ErrNotFound) {
			return err
		}
		size, err := p.cfg.Storage.Size(ref)
		if err != nil {
			size = 0
		}
		f = &types.StoredFile{
			Hash:   ref,
			Engine: types.EngineIPFS,
			Size:   size,
		}
	}
	f.Permanent = true
	f.DeleteAt = time.Time{}
	f.LastAccess = time.Now().UTC()
	return txn.SaveFile(f)
}
