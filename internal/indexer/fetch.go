package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gasScope/internal/erc20"
	"gasScope/internal/model"
	"gasScope/internal/retry"
)

const (
	DefaultBlockWave          = 5
	DefaultBlockWaveDelay     = 100 * time.Millisecond
	DefaultReceiptBatch       = 50
	DefaultReceiptConcurrency = 25
	DefaultReceiptBatchDelay  = 200 * time.Millisecond
)

// ChainReader is the subset of the RPC client the pipeline and collector need.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// FetchConfig configures the fetch and enrichment pipeline.
type FetchConfig struct {
	Target common.Address
	// Contract restricts logs to one token; the zero address matches any token.
	Contract common.Address

	BlockWave          int
	BlockWaveDelay     time.Duration
	ReceiptBatch       int
	ReceiptConcurrency int
	ReceiptBatchDelay  time.Duration
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.BlockWave <= 0 {
		c.BlockWave = DefaultBlockWave
	}
	if c.BlockWaveDelay < 0 {
		c.BlockWaveDelay = 0
	}
	if c.ReceiptBatch <= 0 {
		c.ReceiptBatch = DefaultReceiptBatch
	}
	if c.ReceiptConcurrency <= 0 {
		c.ReceiptConcurrency = DefaultReceiptConcurrency
	}
	if c.ReceiptBatchDelay < 0 {
		c.ReceiptBatchDelay = 0
	}
	return c
}

// Pipeline fetches the transfer events of a block range sent or received by
// the target address and enriches them with transaction gas cost.
type Pipeline struct {
	chain     ChainReader
	cfg       FetchConfig
	policy    retry.Policy
	logger    *zap.Logger
	heartbeat func()
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPipeline builds a Pipeline. Every RPC call goes through policy.
func NewPipeline(chainReader ChainReader, cfg FetchConfig, policy retry.Policy, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Pipeline{
		chain:  chainReader,
		cfg:    cfg.withDefaults(),
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
}

// SetHeartbeat registers fn to be called between fetch waves.
func (p *Pipeline) SetHeartbeat(fn func()) {
	p.heartbeat = fn
}

// FetchAndEnrich returns the enriched transfer events in [fromBlock, toBlock]
// ordered by block number and log index. A range without matching logs yields
// an empty slice.
func (p *Pipeline) FetchAndEnrich(ctx context.Context, fromBlock, toBlock uint64) ([]model.EnrichedEvent, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("to block %d is before from block %d", toBlock, fromBlock)
	}

	logs, err := p.fetchLogs(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return []model.EnrichedEvent{}, nil
	}
	p.beat()

	timestamps, err := p.fetchTimestamps(ctx, distinctBlocks(logs))
	if err != nil {
		return nil, err
	}

	events := make([]model.TransferEvent, 0, len(logs))
	for _, log := range logs {
		event, err := erc20.DecodeTransfer(log)
		if err != nil {
			return nil, err
		}
		event.BlockTimestamp = timestamps[log.BlockNumber]
		events = append(events, event)
	}

	receipts, err := p.fetchReceipts(ctx, distinctTxs(logs))
	if err != nil {
		return nil, err
	}

	out := make([]model.EnrichedEvent, 0, len(events))
	for _, event := range events {
		enriched, err := enrichWithReceipt(event, receipts[common.HexToHash(event.TxHash)])
		if err != nil {
			return nil, err
		}
		out = append(out, enriched)
	}
	return out, nil
}

// fetchLogs runs the sender-side and recipient-side queries concurrently and
// merges them. A self-transfer appears in both results and is kept once.
func (p *Pipeline) fetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	targetTopic := erc20.AddressTopic(p.cfg.Target)
	queries := []ethereum.FilterQuery{
		p.filterQuery(fromBlock, toBlock, [][]common.Hash{{erc20.TransferTopic}, {targetTopic}}),
		p.filterQuery(fromBlock, toBlock, [][]common.Hash{{erc20.TransferTopic}, nil, {targetTopic}}),
	}

	results := make([][]types.Log, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		i, query := i, query
		g.Go(func() error {
			logs, err := retry.Do(gctx, p.policy.Named("eth_getLogs"), func(ctx context.Context) ([]types.Log, error) {
				return p.chain.FilterLogs(ctx, query)
			})
			if err != nil {
				p.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
				return fmt.Errorf("filter logs: %w", err)
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[model.EventKey]struct{})
	merged := make([]types.Log, 0, len(results[0])+len(results[1]))
	for _, logs := range results {
		for _, log := range logs {
			if log.Removed {
				continue
			}
			// Without a pinned contract other Transfer-shaped events match too.
			if p.cfg.Contract == (common.Address{}) && !erc20.IsTransferShape(log) {
				p.logger.Debug("skip non erc20 transfer",
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Uint("log_index", log.Index),
					zap.Int("topics", len(log.Topics)),
				)
				continue
			}
			key := model.EventKey{TxHash: log.TxHash.Hex(), LogIndex: uint64(log.Index)}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, log)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].BlockNumber != merged[j].BlockNumber {
			return merged[i].BlockNumber < merged[j].BlockNumber
		}
		return merged[i].Index < merged[j].Index
	})
	return merged, nil
}

func (p *Pipeline) filterQuery(fromBlock, toBlock uint64, topics [][]common.Hash) ethereum.FilterQuery {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Topics:    topics,
	}
	if p.cfg.Contract != (common.Address{}) {
		query.Addresses = []common.Address{p.cfg.Contract}
	}
	return query
}

// fetchTimestamps resolves block timestamps in waves of BlockWave concurrent lookups.
func (p *Pipeline) fetchTimestamps(ctx context.Context, blocks []uint64) (map[uint64]uint64, error) {
	timestamps := make(map[uint64]uint64, len(blocks))
	for start := 0; start < len(blocks); start += p.cfg.BlockWave {
		end := min(start+p.cfg.BlockWave, len(blocks))
		wave := blocks[start:end]
		values := make([]uint64, len(wave))

		g, gctx := errgroup.WithContext(ctx)
		for i, number := range wave {
			i, number := i, number
			g.Go(func() error {
				ts, err := retry.Do(gctx, p.policy.Named("eth_getBlockByNumber"), func(ctx context.Context) (uint64, error) {
					return p.chain.BlockTimestamp(ctx, number)
				})
				if err != nil {
					return fmt.Errorf("block timestamp %d: %w", number, err)
				}
				values[i] = ts
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i, number := range wave {
			timestamps[number] = values[i]
		}

		p.beat()
		if end < len(blocks) {
			if err := p.sleep(ctx, p.cfg.BlockWaveDelay); err != nil {
				return nil, err
			}
		}
	}
	return timestamps, nil
}

// fetchReceipts loads one receipt per transaction in batches of ReceiptBatch,
// with at most ReceiptConcurrency calls in flight.
func (p *Pipeline) fetchReceipts(ctx context.Context, txs []common.Hash) (map[common.Hash]*types.Receipt, error) {
	receipts := make(map[common.Hash]*types.Receipt, len(txs))
	for start := 0; start < len(txs); start += p.cfg.ReceiptBatch {
		end := min(start+p.cfg.ReceiptBatch, len(txs))
		batch := txs[start:end]
		values := make([]*types.Receipt, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.ReceiptConcurrency)
		for i, txHash := range batch {
			i, txHash := i, txHash
			g.Go(func() error {
				receipt, err := retry.Do(gctx, p.policy.Named("eth_getTransactionReceipt"), func(ctx context.Context) (*types.Receipt, error) {
					return p.chain.TransactionReceipt(ctx, txHash)
				})
				if err != nil {
					return fmt.Errorf("receipt %s: %w", txHash.Hex(), err)
				}
				values[i] = receipt
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i, txHash := range batch {
			receipts[txHash] = values[i]
		}

		p.beat()
		if end < len(txs) {
			if err := p.sleep(ctx, p.cfg.ReceiptBatchDelay); err != nil {
				return nil, err
			}
		}
	}
	return receipts, nil
}

func (p *Pipeline) beat() {
	if p.heartbeat != nil {
		p.heartbeat()
	}
}

func distinctBlocks(logs []types.Log) []uint64 {
	seen := make(map[uint64]struct{}, len(logs))
	blocks := make([]uint64, 0, len(logs))
	for _, log := range logs {
		if _, ok := seen[log.BlockNumber]; ok {
			continue
		}
		seen[log.BlockNumber] = struct{}{}
		blocks = append(blocks, log.BlockNumber)
	}
	return blocks
}

func distinctTxs(logs []types.Log) []common.Hash {
	seen := make(map[common.Hash]struct{}, len(logs))
	txs := make([]common.Hash, 0, len(logs))
	for _, log := range logs {
		if _, ok := seen[log.TxHash]; ok {
			continue
		}
		seen[log.TxHash] = struct{}{}
		txs = append(txs, log.TxHash)
	}
	return txs
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
