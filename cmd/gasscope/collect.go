package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gasScope/internal/chain"
	"gasScope/internal/config"
	"gasScope/internal/indexer"
	"gasScope/internal/retry"
	"gasScope/internal/server"
)

var _ indexer.ChainReader = (*chain.Client)(nil)

func newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect transfer events of a target address with their gas cost",
		RunE:  runCollect,
	}

	cmd.Flags().String("rpc", "", "JSON-RPC URL")
	cmd.Flags().String("target", "", "target address (sender or recipient)")
	cmd.Flags().String("contract", "", "token contract address, empty means any token")
	cmd.Flags().String("network", "ethereum", "network name written to reports")
	cmd.Flags().Uint64("target-events", 10_000, "stop after this many events")
	cmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	cmd.Flags().Duration("batch-delay", 200*time.Millisecond, "delay between batches")
	cmd.Flags().Uint64("segment-blocks", 500_000, "blocks per run segment before checkpointing")
	cmd.Flags().Uint64("lookback-days", 30, "days to scan back when nothing is stored")
	cmd.Flags().Duration("block-time", 12*time.Second, "average block interval")
	cmd.Flags().Bool("adaptive-batch", false, "halve the batch size when the provider rejects a range")
	cmd.Flags().Uint64("min-batch-size", 10, "smallest batch size for adaptive batching")
	cmd.Flags().Int("block-wave", 5, "concurrent block header lookups per wave")
	cmd.Flags().Duration("block-wave-delay", 100*time.Millisecond, "delay between header waves")
	cmd.Flags().Int("receipt-batch", 50, "receipts per batch")
	cmd.Flags().Int("receipt-concurrency", 25, "concurrent receipt lookups")
	cmd.Flags().Duration("receipt-batch-delay", 200*time.Millisecond, "delay between receipt batches")
	cmd.Flags().Duration("rpc-timeout", 30*time.Second, "timeout of a single RPC call")
	cmd.Flags().Float64("rpc-rps", 0, "max RPC requests per second, 0 means unlimited")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts per RPC call")
	cmd.Flags().Duration("retry-initial-delay", time.Second, "initial retry backoff")
	cmd.Flags().Duration("retry-max-delay", 30*time.Second, "maximum retry backoff")
	cmd.Flags().Int("activity-retries", 3, "restarts of a failed run from persisted state")
	cmd.Flags().Int("storage-retries", 3, "retries of a failed batch write")
	cmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	cmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	cmd.Flags().String("checkpoint-store", "file", "checkpoint store (file, db)")
	cmd.Flags().String("listen", "", "ops server address, e.g. :9090; empty disables it")
	cmd.Flags().Duration("stale-after", 5*time.Minute, "heartbeat age reported as unhealthy")
	addStoreFlags(cmd)

	return cmd
}

func runCollect(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCollect(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	target, err := indexer.ParseAddress(cfg.Target)
	if err != nil {
		return err
	}
	contract, err := indexer.ParseOptionalAddress(cfg.Contract)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{
		Timeout:           cfg.RPCTimeout,
		RequestsPerSecond: cfg.RPCRequestsPerSec,
	})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// A memory store starts empty, so a cursor from an earlier process would skip blocks.
	storeID := cfg.Store.Identity()
	checkpointsOn := cfg.CheckpointEnabled && storeID != ""
	if cfg.CheckpointEnabled && !checkpointsOn {
		logger.Info("checkpoints disabled for the memory store")
	}
	scope := indexer.CollectionScope(target, contract, storeID)

	var checkpoints indexer.CheckpointStore = indexer.NewFileCheckpointStore(cfg.Checkpoint, checkpointsOn)
	if cfg.CheckpointStore == "db" && checkpointsOn {
		stateStore, ok := store.(indexer.CheckpointStateStore)
		if !ok {
			return fmt.Errorf("store %q cannot hold checkpoints", cfg.Store.Backend)
		}
		checkpoints = &indexer.DBCheckpointStore{Store: stateStore, Name: "collect:" + strings.ToLower(target.Hex())}
	}
	supervisor := indexer.NewLocalSupervisor(checkpoints)

	restoreSignals := notifyStop(ctx, cancel, supervisor.RequestStop, logger)
	defer restoreSignals()

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.InitialDelay = cfg.RetryInitialDelay
	policy.MaxDelay = cfg.RetryMaxDelay
	policy.Logger = logger

	pipeline := indexer.NewPipeline(chainClient, indexer.FetchConfig{
		Target:             target,
		Contract:           contract,
		BlockWave:          cfg.BlockWave,
		BlockWaveDelay:     cfg.BlockWaveDelay,
		ReceiptBatch:       cfg.ReceiptBatch,
		ReceiptConcurrency: cfg.ReceiptConcurrency,
		ReceiptBatchDelay:  cfg.ReceiptBatchDelay,
	}, policy, logger)
	pipeline.SetHeartbeat(supervisor.Beat)

	collector := indexer.NewCollector(indexer.RunConfig{
		TargetEvents:      cfg.TargetEvents,
		BatchSize:         cfg.BatchSize,
		BatchDelay:        cfg.BatchDelay,
		SegmentBlockLimit: cfg.SegmentBlocks,
		LookbackDays:      cfg.LookbackDays,
		BlockTime:         cfg.BlockTime,
		AdaptiveBatch:     cfg.AdaptiveBatch,
		MinBatchSize:      cfg.MinBatchSize,
		ActivityRetries:   cfg.ActivityRetries,
		StorageRetries:    cfg.StorageRetries,
		Retry:             policy,
		Scope:             scope,
	}, chainClient, pipeline, store, supervisor, logger)

	if cfg.Listen != "" {
		ops := server.New(server.Config{Addr: cfg.Listen, StaleAfter: cfg.StaleAfter}, supervisor, nil, logger)
		go func() {
			if err := ops.Start(); err != nil {
				logger.Error("ops server", zap.Error(err))
			}
		}()
		defer ops.Stop(context.Background())
	}

	logger.Info("collect start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("target", strings.ToLower(target.Hex())),
		zap.String("contract", cfg.Contract),
		zap.String("network", cfg.Network),
		zap.Uint64("target_events", cfg.TargetEvents),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Duration("batch_delay", cfg.BatchDelay),
		zap.String("store", cfg.Store.Backend),
		zap.String("out", cfg.Store.Out),
		zap.String("pg_dsn", redactDSN(cfg.Store.PGDSN)),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint_store", cfg.CheckpointStore),
	)

	progress, err := collector.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("collection aborted", zap.Uint64("current_block", progress.CurrentBlock))
		}
		return err
	}

	logger.Info("collect done",
		zap.String("state", string(progress.State)),
		zap.Bool("complete", progress.IsComplete),
		zap.Uint64("events_collected", progress.EventsCollected),
		zap.Uint64("blocks_processed", progress.BlocksProcessed),
		zap.Uint64("next_block", progress.CurrentBlock),
		zap.Uint64("chain_head", progress.ChainHead),
		zap.Int("segments", progress.Segment+1),
	)
	return nil
}
