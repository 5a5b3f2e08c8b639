package chains

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/config/params"
)

// The aleph sync contract emits one SyncEvent per published chaindata batch.
const syncEventABI = `[{"anonymous":false,"inputs":[{"indexed":false,"name":"timestamp","type":"uint256"},{"indexed":false,"name":"addr","type":"address"},{"indexed":false,"name":"message","type":"string"}],"name":"SyncEvent","type":"event"}]`

var (
	syncABI        abi.ABI
	syncEventTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(syncEventABI))
	if err != nil {
		panic(err)
	}
	syncABI = parsed
	syncEventTopic = syncABI.Events["SyncEvent"].ID
}

const (
	rpcBackoffBase = time.Second
	rpcBackoffCap  = 60 * time.Second
)

// evmClient is the subset of ethclient.Client the indexer uses.
type evmClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
}

// EVMIndexer follows the sync contract of one Ethereum-family chain and
// appends every emitted batch to the pending tx queue, advancing a durable
// cursor only after the rows committed.
type EVMIndexer struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        params.ChainConfig
	chain      types.Chain
	contract   common.Address
	db         iface.Database
	client     evmClient
	failures   uint
	lastTxHash string
}

// NewEVMIndexer initializes an indexer for the given chain config.
func NewEVMIndexer(ctx context.Context, chain types.Chain, cfg params.ChainConfig, db iface.Database) *EVMIndexer {
	ctx, cancel := context.WithCancel(ctx)
	return &EVMIndexer{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		chain:    chain,
		contract: common.HexToAddress(cfg.ContractAddress),
		db:       db,
	}
}

// Start dials the RPC endpoint and launches the polling loop.
func (idx *EVMIndexer) Start() {
	go idx.run()
}

// Stop halts the polling loop.
func (idx *EVMIndexer) Stop() error {
	idx.cancel()
	return nil
}

// Status always returns nil: RPC outages are retried with backoff and must
// not take the node down.
func (idx *EVMIndexer) Status() error {
	return nil
}

func (idx *EVMIndexer) run() {
	for idx.client == nil {
		client, err := ethclient.DialContext(idx.ctx, idx.cfg.RPCEndpoint)
		if err != nil {
			log.WithError(err).WithField("chain", idx.chain).Error("Could not dial chain RPC")
			if !idx.sleep(idx.backoff()) {
				return
			}
			continue
		}
		idx.client = client
		idx.failures = 0
	}
	log.WithFields(map[string]interface{}{
		"chain":    idx.chain,
		"endpoint": idx.cfg.RPCEndpoint,
		"contract": idx.contract.Hex(),
	}).Info("Chain indexer started")

	for {
		if err := idx.poll(idx.ctx); err != nil {
			log.WithError(err).WithField("chain", idx.chain).Error("Chain poll failed")
			if !idx.sleep(idx.backoff()) {
				return
			}
			continue
		}
		idx.failures = 0
		if !idx.sleep(idx.cfg.PollInterval) {
			return
		}
	}
}

// backoff returns the exponential RPC retry delay.
func (idx *EVMIndexer) backoff() time.Duration {
	delay := rpcBackoffBase << idx.failures
	if delay > rpcBackoffCap || delay <= 0 {
		delay = rpcBackoffCap
	}
	idx.failures++
	return delay
}

func (idx *EVMIndexer) sleep(d time.Duration) bool {
	select {
	case <-idx.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// poll scans (cursor, head - confirmation_depth] in block windows and
// appends every sync event found to the pending tx queue.
func (idx *EVMIndexer) poll(ctx context.Context) error {
	head, err := idx.client.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "could not fetch chain head")
	}
	if head <= idx.cfg.ConfirmationDepth {
		return nil
	}
	target := head - idx.cfg.ConfirmationDepth

	cursor := idx.cfg.StartHeight
	if saved, err := idx.db.ChainCursor(ctx, idx.chain); err == nil {
		cursor = saved.LastHeight
		if idx.lastTxHash == "" {
			idx.lastTxHash = saved.LastTxHash
		}
	} else if !errors.Is(err, iface.ErrNotFound) {
		return err
	}
	if cursor > target {
		// The confirmed head moved backwards: a reorg deeper than our last
		// scan. Rewind and re-scan; pending tx upserts are idempotent.
		log.WithFields(map[string]interface{}{
			"chain":  idx.chain,
			"cursor": cursor,
			"target": target,
		}).Warn("Chain cursor ahead of confirmed head, rewinding")
		cursor = target
		if err := idx.saveCursor(ctx, cursor); err != nil {
			return err
		}
	}

	for from := cursor + 1; from <= target; {
		to := from + idx.cfg.BlockWindow - 1
		if to > target {
			to = target
		}
		if err := idx.scanRange(ctx, from, to); err != nil {
			return err
		}
		if err := idx.saveCursor(ctx, to); err != nil {
			return err
		}
		from = to + 1
	}
	return nil
}

func (idx *EVMIndexer) scanRange(ctx context.Context, from, to uint64) error {
	logs, err := idx.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{idx.contract},
		Topics:    [][]common.Hash{{syncEventTopic}},
	})
	if err != nil {
		return errors.Wrapf(err, "could not filter logs %d-%d", from, to)
	}
	for _, entry := range logs {
		ptx, err := idx.decodeEvent(entry)
		if err != nil {
			// Junk published to the contract: skip it, the cursor advances.
			log.WithError(err).WithFields(map[string]interface{}{
				"chain": idx.chain,
				"tx":    entry.TxHash.Hex(),
			}).Warn("Skipping malformed sync event")
			continue
		}
		if err := idx.db.SavePendingTx(ctx, ptx); err != nil {
			return err
		}
		idx.lastTxHash = ptx.Context.TxHash
		indexedTxsTotal.WithLabelValues(string(idx.chain)).Inc()
	}
	return nil
}

func (idx *EVMIndexer) decodeEvent(entry ethtypes.Log) (*types.PendingTx, error) {
	var event struct {
		Timestamp *big.Int
		Addr      common.Address
		Message   string
	}
	if err := syncABI.UnpackIntoInterface(&event, "SyncEvent", entry.Data); err != nil {
		return nil, errors.Wrap(err, "could not unpack sync event")
	}
	protocol, version, content, err := DecodePayload([]byte(event.Message))
	if err != nil {
		return nil, err
	}
	return &types.PendingTx{
		Context: types.TxContext{
			Chain:     idx.chain,
			TxHash:    entry.TxHash.Hex(),
			Height:    entry.BlockNumber,
			TxIndex:   uint64(entry.TxIndex),
			Time:      float64(event.Timestamp.Int64()),
			Publisher: event.Addr.Hex(),
		},
		Protocol: protocol,
		Version:  version,
		Content:  content,
	}, nil
}

func (idx *EVMIndexer) saveCursor(ctx context.Context, height uint64) error {
	if err := idx.db.SaveChainCursor(ctx, &types.ChainCursor{
		Chain:      idx.chain,
		LastHeight: height,
		LastTxHash: idx.lastTxHash,
	}); err != nil {
		return err
	}
	lastCommittedHeight.WithLabelValues(string(idx.chain)).Set(float64(height))
	return nil
}
