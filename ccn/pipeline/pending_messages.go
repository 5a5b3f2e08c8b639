package pipeline

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/aleph-im/go-aleph/ccn/chains/verify"
	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/handlers"
	"github.com/aleph-im/go-aleph/ccn/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageProcessor drains the pending message queue: each claimed row is
// fetched, verified, deduplicated and promoted to the message table in one
// database transaction together with its handler effects.
type MessageProcessor struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sems   map[types.MessageType]*semaphore.Weighted
}

// NewMessageProcessor initializes the pending message workers.
func NewMessageProcessor(ctx context.Context, cfg *Config) *MessageProcessor {
	ctx, cancel := context.WithCancel(ctx)
	sems := make(map[types.MessageType]*semaphore.Weighted)
	for _, t := range types.MessageTypes {
		weight := cfg.Params.TypeConcurrency[string(t)]
		if weight <= 0 {
			weight = int64(cfg.Params.MessageWorkers)
		}
		sems[t] = semaphore.NewWeighted(weight)
	}
	return &MessageProcessor{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		sems:   sems,
	}
}

// Start launches the worker goroutines.
func (p *MessageProcessor) Start() {
	for i := 0; i < p.cfg.Params.MessageWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop halts the workers, waiting for in-flight rows to settle.
func (p *MessageProcessor) Stop() error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return errors.New("timed out waiting for message workers to stop")
	}
}

func (p *MessageProcessor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		n, err := p.ProcessBatch(p.ctx)
		if err != nil {
			log.WithError(err).Error("Pending message batch failed")
		}
		if n == 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.cfg.Params.MessageClaimInterval):
			}
		}
	}
}

// ProcessBatch claims and processes one batch of due pending messages,
// returning the number of rows claimed. Safe to call from multiple workers:
// claims are exclusive until they expire.
func (p *MessageProcessor) ProcessBatch(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	claimed, err := p.cfg.DB.ClaimPendingMessages(
		ctx, now, p.cfg.Params.MessageBatchSize, now.Add(p.cfg.Params.ClaimTimeout))
	if err != nil {
		return 0, err
	}
	for _, pm := range claimed {
		if sem, ok := p.sems[pm.Type]; ok {
			if err := sem.Acquire(ctx, 1); err != nil {
				return len(claimed), err
			}
			p.processOne(ctx, pm)
			sem.Release(1)
			continue
		}
		p.processOne(ctx, pm)
	}
	return len(claimed), nil
}

// processOne runs the state machine on a single claimed row and retires,
// reschedules or rejects it depending on the outcome.
func (p *MessageProcessor) processOne(ctx context.Context, pm *types.PendingMessage) {
	err := p.apply(ctx, pm)
	if err == nil {
		return
	}
	fields := map[string]interface{}{
		"itemHash": pm.ItemHash,
		"type":     pm.Type,
		"origin":   pm.Origin,
	}
	if permanent(err) {
		log.WithError(err).WithFields(fields).Warn("Rejecting pending message")
		if err := p.cfg.DB.RejectPendingMessage(ctx, pm, err.Error()); err != nil {
			log.WithError(err).WithFields(fields).Error("Could not reject pending message")
			return
		}
		rejectedMessagesTotal.Inc()
		return
	}
	retries := pm.Retries + 1
	if retries > p.cfg.Params.MaxRetries {
		log.WithError(err).WithFields(fields).Warn("Rejecting pending message after too many retries")
		if err := p.cfg.DB.RejectPendingMessage(ctx, pm, "too many retries: "+err.Error()); err != nil {
			log.WithError(err).WithFields(fields).Error("Could not reject pending message")
			return
		}
		rejectedMessagesTotal.Inc()
		return
	}
	delay := backoffDelay(p.cfg.Params.RetryBackoffBase, p.cfg.Params.RetryBackoffCap, retries)
	log.WithError(err).WithFields(fields).WithField("delay", delay).Debug("Rescheduling pending message")
	next := time.Now().UTC().Add(delay)
	if err := p.cfg.DB.ReleasePendingMessage(ctx, pm.Seq, retries, next); err != nil {
		log.WithError(err).WithFields(fields).Error("Could not reschedule pending message")
	}
}

// apply runs one pending message through fetch, verification, deduplication
// and promotion. A nil return means the row was retired.
func (p *MessageProcessor) apply(ctx context.Context, pm *types.PendingMessage) error {
	// Cheap duplicate check before touching content or signatures. The
	// authoritative check is repeated inside the promotion transaction.
	has, err := p.cfg.DB.HasMessage(ctx, pm.ItemHash)
	if err != nil {
		return err
	}
	if has {
		return p.retireDuplicate(ctx, pm)
	}

	if pm.CheckMessage {
		if err := verify.CheckSignature(&pm.Message); err != nil {
			return err
		}
	}

	content, size, err := p.fetchContent(ctx, pm)
	if err != nil {
		return err
	}
	owner, scope, err := authorizationScope(pm, content)
	if err != nil {
		return err
	}
	handler, err := p.cfg.Handlers.Get(pm.Type)
	if err != nil {
		return err
	}

	rec := &types.MessageRecord{
		ItemHash:  pm.ItemHash,
		Sender:    pm.Sender,
		Chain:     pm.Chain,
		Type:      pm.Type,
		Channel:   pm.Channel,
		Time:      pm.Time,
		ItemType:  pm.ItemType,
		Content:   content,
		Size:      size,
		Signature: pm.Signature,
	}
	if pm.Confirmation != nil {
		rec.Confirmations = []types.Confirmation{*pm.Confirmation}
	}

	duplicate := false
	err = p.cfg.DB.Update(ctx, func(txn iface.Txn) error {
		if txn.HasMessage(pm.ItemHash) {
			// Another copy of the envelope won the race since our check.
			duplicate = true
			if pm.Confirmation != nil {
				if err := txn.AddConfirmation(pm.ItemHash, *pm.Confirmation); err != nil {
					return err
				}
			}
			return txn.DeletePendingMessage(pm.Seq)
		}
		authorized, err := handlers.IsAuthorized(txn, owner, pm.Sender, scope)
		if err != nil {
			return err
		}
		if !authorized {
			return errors.Wrapf(handlers.ErrReject,
				"sender %s is not authorized to act for %s", pm.Sender, owner)
		}
		if err := handler.Process(ctx, txn, rec); err != nil {
			return err
		}
		if err := txn.SaveMessage(rec); err != nil {
			return err
		}
		return txn.DeletePendingMessage(pm.Seq)
	})
	if err != nil {
		return err
	}
	if duplicate {
		duplicateMessagesTotal.Inc()
		return nil
	}
	processedMessagesTotal.WithLabelValues(string(pm.Type)).Inc()

	// Messages submitted directly to this node are forwarded to the network;
	// p2p and on-chain arrivals were already published by their sender.
	if pm.Origin == types.OriginHTTP && p.cfg.Publisher != nil {
		if err := p.cfg.Publisher.Publish(ctx, &pm.Message); err != nil {
			log.WithError(err).WithField("itemHash", pm.ItemHash).Warn("Could not publish message")
		}
	}
	return nil
}

// retireDuplicate merges the confirmation of an already confirmed envelope
// and drops the pending row.
func (p *MessageProcessor) retireDuplicate(ctx context.Context, pm *types.PendingMessage) error {
	err := p.cfg.DB.Update(ctx, func(txn iface.Txn) error {
		if pm.Confirmation != nil {
			err := txn.AddConfirmation(pm.ItemHash, *pm.Confirmation)
			if err != nil && !errors.Is(err, iface.ErrNotFound) {
				return err
			}
		}
		return txn.DeletePendingMessage(pm.Seq)
	})
	if err != nil {
		return err
	}
	duplicateMessagesTotal.Inc()
	return nil
}

// fetchContent materializes the message content. Inline content is carried
// by the envelope and must hash to the item hash; storage and ipfs content
// is resolved through the storage service, which registers a grace-period
// file row so unreferenced payloads are eventually reclaimed.
func (p *MessageProcessor) fetchContent(ctx context.Context, pm *types.PendingMessage) (jsoniter.RawMessage, uint64, error) {
	switch pm.ItemType {
	case types.ItemInline:
		content := []byte(pm.ItemContent)
		if len(content) > p.cfg.Params.MaxInlineContentSize {
			return nil, 0, errors.Wrapf(ErrInvalidContent,
				"inline content of %d bytes exceeds the %d byte limit",
				len(content), p.cfg.Params.MaxInlineContentSize)
		}
		if types.SHA256Hex(content) != pm.ItemHash {
			return nil, 0, errors.Wrap(ErrInvalidContent, "inline content does not hash to item_hash")
		}
		return content, uint64(len(content)), nil
	case types.ItemStorage, types.ItemIPFS:
		fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Params.FetchTimeout)
		defer cancel()
		content, err := p.cfg.Storage.Get(fetchCtx, pm.ItemType, pm.ItemHash)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "could not fetch content %s", pm.ItemHash)
		}
		if err := p.trackFetchedFile(ctx, pm, uint64(len(content))); err != nil {
			return nil, 0, err
		}
		return content, uint64(len(content)), nil
	default:
		return nil, 0, errors.Wrapf(handlers.ErrReject, "unknown item type %q", pm.ItemType)
	}
}

// trackFetchedFile registers remote message content in the file index. A
// fresh row starts unpinned with a temporary grace period: a later STORE pin
// makes it durable, otherwise the collector reclaims it.
func (p *MessageProcessor) trackFetchedFile(ctx context.Context, pm *types.PendingMessage, size uint64) error {
	engine := types.EngineLocal
	if pm.ItemType == types.ItemIPFS {
		engine = types.EngineIPFS
	}
	now := time.Now().UTC()
	return p.cfg.DB.Update(ctx, func(txn iface.Txn) error {
		f, err := txn.File(pm.ItemHash)
		if err != nil {
			if !errors.Is(err, iface.ErrNotFound) {
				return err
			}
			return txn.SaveFile(&types.StoredFile{
				Hash:       pm.ItemHash,
				Engine:     engine,
				Size:       size,
				DeleteAt:   now.Add(p.cfg.Params.TempFileGracePeriod),
				LastAccess: now,
			})
		}
		f.LastAccess = now
		return txn.SaveFile(f)
	})
}

// authorizationScope extracts the content owner and the delegation scope of
// the envelope. Content that does not parse for its declared type can never
// be applied.
func authorizationScope(pm *types.PendingMessage, content []byte) (string, handlers.AuthorizationScope, error) {
	scope := handlers.AuthorizationScope{
		Type:    pm.Type,
		Chain:   pm.Chain,
		Channel: pm.Channel,
	}
	owner, err := types.ContentAddress(content)
	if err != nil {
		return "", scope, errors.Wrap(handlers.ErrReject, err.Error())
	}
	switch pm.Type {
	case types.PostType:
		c, err := types.ParsePostContent(content)
		if err != nil {
			return "", scope, errors.Wrap(handlers.ErrReject, err.Error())
		}
		scope.PostType = c.Type
	case types.AggregateType:
		c, err := types.ParseAggregateContent(content)
		if err != nil {
			return "", scope, errors.Wrap(handlers.ErrReject, err.Error())
		}
		scope.AggregateKey = c.Key
	}
	return owner, scope, nil
}
