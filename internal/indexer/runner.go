package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gasScope/internal/metrics"
	"gasScope/internal/model"
	"gasScope/internal/retry"
	"gasScope/internal/storage"
)

const (
	DefaultTargetEvents      = 10_000
	DefaultBatchSize         = 2000
	DefaultBatchDelay        = 200 * time.Millisecond
	DefaultSegmentBlockLimit = 500_000
	DefaultLookbackDays      = 30
	DefaultBlockTime         = 12 * time.Second
	DefaultMinBatchSize      = 10
	DefaultStorageRetries    = 3
)

// RunConfig holds runtime settings for the collector.
type RunConfig struct {
	TargetEvents uint64
	BatchSize    uint64
	BatchDelay   time.Duration
	// SegmentBlockLimit is the number of blocks after which the run
	// checkpoints and continues as a new segment.
	SegmentBlockLimit uint64
	LookbackDays      uint64
	BlockTime         time.Duration

	// AdaptiveBatch halves the batch size on range-too-large errors instead of
	// failing the run.
	AdaptiveBatch bool
	MinBatchSize  uint64

	// ActivityRetries is how many times a failed run is restarted from the
	// persisted state.
	ActivityRetries int
	StorageRetries  int
	Retry           retry.Policy

	// Scope tags saved checkpoints. A checkpoint with another scope is ignored.
	Scope string
}

// Fetcher returns the enriched events of an inclusive block range.
type Fetcher interface {
	FetchAndEnrich(ctx context.Context, fromBlock, toBlock uint64) ([]model.EnrichedEvent, error)
}

// HeadReader reports the current chain head.
type HeadReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Collector scans block ranges from a resume point up to the chain head,
// persisting the enriched transfer events of every batch.
type Collector struct {
	cfg        RunConfig
	head       HeadReader
	fetcher    Fetcher
	storage    storage.Storage
	supervisor Supervisor
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewCollector builds a Collector with its dependencies. A nil supervisor runs
// without checkpoints or stop signals.
func NewCollector(cfg RunConfig, head HeadReader, fetcher Fetcher, storageSink storage.Storage, supervisor Supervisor, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if supervisor == nil {
		supervisor = NewLocalSupervisor(nil)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SegmentBlockLimit == 0 {
		cfg.SegmentBlockLimit = DefaultSegmentBlockLimit
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = DefaultBlockTime
	}
	if cfg.MinBatchSize == 0 {
		cfg.MinBatchSize = DefaultMinBatchSize
	}
	if cfg.StorageRetries < 0 {
		cfg.StorageRetries = 0
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}
	return &Collector{
		cfg:        cfg,
		head:       head,
		fetcher:    fetcher,
		storage:    storageSink,
		supervisor: supervisor,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Run executes the collection, restarting a failed attempt from the persisted
// state up to ActivityRetries times. It returns the final progress snapshot.
func (c *Collector) Run(ctx context.Context) (model.CollectionProgress, error) {
	if c.head == nil {
		return model.CollectionProgress{}, fmt.Errorf("chain client is nil")
	}
	if c.fetcher == nil {
		return model.CollectionProgress{}, fmt.Errorf("fetcher is nil")
	}
	if c.storage == nil {
		return model.CollectionProgress{}, fmt.Errorf("storage is nil")
	}
	if c.cfg.TargetEvents == 0 {
		return model.CollectionProgress{}, fmt.Errorf("target events must be greater than zero")
	}

	for attempt := 0; ; attempt++ {
		progress, err := c.runOnce(ctx)
		if err == nil {
			return progress, nil
		}

		fields := []zap.Field{zap.Error(err), zap.Int("attempt", attempt+1), zap.Uint64("current_block", progress.CurrentBlock)}
		var batchErr *BatchError
		var storageErr *StorageError
		switch {
		case errors.As(err, &batchErr):
			fields = append(fields, zap.Uint64("from", batchErr.From), zap.Uint64("to", batchErr.To))
		case errors.As(err, &storageErr):
			fields = append(fields, zap.Uint64("from", storageErr.From), zap.Uint64("to", storageErr.To))
		}

		if ctx.Err() != nil || attempt >= c.cfg.ActivityRetries || !activityRetryable(err) {
			c.logger.Error("collection failed", fields...)
			return progress, err
		}

		delay := c.cfg.Retry.Backoff(attempt)
		c.logger.Warn("collection attempt failed, restarting", append(fields, zap.Duration("delay", delay))...)
		if err := c.sleep(ctx, delay); err != nil {
			return progress, err
		}
	}
}

// activityRetryable reports whether a whole attempt may be restarted after err.
func activityRetryable(err error) bool {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return true
	}
	var decodeErr *model.DecodeError
	if errors.As(err, &decodeErr) {
		return false
	}
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		err = batchErr.Err
	}
	return retry.IsRetryable(err)
}

func (c *Collector) runOnce(ctx context.Context) (model.CollectionProgress, error) {
	progress := model.CollectionProgress{
		State:        model.StateResuming,
		TargetEvents: c.cfg.TargetEvents,
		BatchSize:    c.cfg.BatchSize,
	}
	c.supervisor.Heartbeat(progress)

	head, err := retry.Do(ctx, c.cfg.Retry.Named("eth_blockNumber"), c.head.LatestBlockNumber)
	if err != nil {
		return progress, fmt.Errorf("get latest block: %w", err)
	}
	progress.ChainHead = head

	start, err := c.resumePoint(ctx, head)
	if err != nil {
		return progress, err
	}
	collected, err := c.storage.CountEvents(ctx)
	if err != nil {
		return progress, &StorageError{From: start, To: start, Err: fmt.Errorf("count events: %w", err)}
	}

	progress.State = model.StateScanning
	progress.StartBlock = start
	progress.CurrentBlock = start
	progress.EventsCollected = collected
	c.report(&progress)

	c.logger.Info("collection started",
		zap.Uint64("start_block", start),
		zap.Uint64("chain_head", head),
		zap.Uint64("events_collected", collected),
		zap.Uint64("target_events", c.cfg.TargetEvents),
		zap.Uint64("batch_size", progress.BatchSize),
	)

	for {
		next, err := c.scanSegment(ctx, &progress)
		if err != nil {
			return progress, err
		}
		if !next {
			break
		}
		if err := c.supervisor.SaveCheckpoint(ctx, checkpointOf(progress, c.cfg.Scope)); err != nil {
			return progress, fmt.Errorf("save checkpoint: %w", err)
		}
		progress.Segment++
		metrics.Segments.Inc()
		c.logger.Info("continue as new segment", zap.Int("segment", progress.Segment), zap.Uint64("from", progress.CurrentBlock))
	}

	if progress.UpdateComplete() {
		progress.State = model.StateCompleted
	} else {
		progress.State = model.StateStopped
	}
	if err := c.supervisor.SaveCheckpoint(ctx, checkpointOf(progress, c.cfg.Scope)); err != nil {
		return progress, fmt.Errorf("save checkpoint: %w", err)
	}
	c.report(&progress)

	c.logger.Info("collection finished",
		zap.String("state", string(progress.State)),
		zap.Uint64("events_collected", progress.EventsCollected),
		zap.Uint64("blocks_processed", progress.BlocksProcessed),
		zap.Uint64("current_block", progress.CurrentBlock),
	)
	return progress, nil
}

// resumePoint is one past the highest persisted block, or the lookback start
// when nothing is persisted. A checkpoint of the same scope further ahead wins
// so trailing empty ranges are not rescanned.
func (c *Collector) resumePoint(ctx context.Context, head uint64) (uint64, error) {
	_, maxBlock, ok, err := c.storage.BlockRange(ctx)
	if err != nil {
		return 0, &StorageError{Err: fmt.Errorf("query block range: %w", err)}
	}

	var start uint64
	if ok {
		start = maxBlock + 1
	} else {
		start = LookbackStart(head, c.cfg.LookbackDays, c.cfg.BlockTime)
	}

	cp, found, err := c.supervisor.LoadCheckpoint(ctx)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if found && cp.Scope != c.cfg.Scope {
		c.logger.Warn("ignore checkpoint of another collection",
			zap.String("checkpoint_scope", cp.Scope),
			zap.String("scope", c.cfg.Scope),
		)
		found = false
	}
	if found && cp.NextBlock > start {
		c.logger.Info("resume from checkpoint", zap.Uint64("next_block", cp.NextBlock), zap.Uint64("persisted_next", start))
		start = cp.NextBlock
	}
	return start, nil
}

// scanSegment processes batches until the run is done, a stop is requested or
// the segment block limit is reached. It reports whether a new segment should start.
func (c *Collector) scanSegment(ctx context.Context, progress *model.CollectionProgress) (bool, error) {
	var segmentBlocks uint64
	for c.shouldScan(progress) {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		batch := NextBatch(progress.CurrentBlock, progress.BatchSize, progress.ChainHead)
		started := time.Now()
		c.logger.Info("fetch batch", zap.Uint64("from", batch.From), zap.Uint64("to", batch.To))

		events, err := c.fetcher.FetchAndEnrich(ctx, batch.From, batch.To)
		if err != nil {
			if retry.IsRangeTooLarge(err) {
				metrics.RangeTooLarge.Inc()
				if c.cfg.AdaptiveBatch && progress.BatchSize > c.cfg.MinBatchSize {
					progress.BatchSize = max(progress.BatchSize/2, c.cfg.MinBatchSize)
					metrics.BatchSize.Set(float64(progress.BatchSize))
					c.logger.Warn("range too large, shrinking batch",
						zap.Uint64("from", batch.From),
						zap.Uint64("to", batch.To),
						zap.Uint64("batch_size", progress.BatchSize),
					)
					if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
						return false, err
					}
					continue
				}
			}
			return false, &BatchError{From: batch.From, To: batch.To, Err: err}
		}

		if err := c.persist(ctx, batch, events); err != nil {
			return false, err
		}

		progress.EventsCollected += uint64(len(events))
		progress.BlocksProcessed += batch.Len()
		progress.CurrentBlock = batch.To + 1
		segmentBlocks += batch.Len()
		progress.UpdateComplete()
		c.report(progress)

		metrics.BatchesProcessed.Inc()
		metrics.EventsPersisted.Add(float64(len(events)))
		metrics.BatchDuration.Observe(time.Since(started).Seconds())

		c.logger.Info("batch complete",
			zap.Int("events", len(events)),
			zap.Uint64("from", batch.From),
			zap.Uint64("to", batch.To),
			zap.Uint64("events_collected", progress.EventsCollected),
		)

		if err := c.supervisor.SaveCheckpoint(ctx, checkpointOf(*progress, c.cfg.Scope)); err != nil {
			return false, fmt.Errorf("save checkpoint: %w", err)
		}

		if !c.shouldScan(progress) {
			break
		}
		if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
			return false, err
		}
		if segmentBlocks > c.cfg.SegmentBlockLimit {
			return true, nil
		}
	}
	return false, nil
}

func (c *Collector) shouldScan(progress *model.CollectionProgress) bool {
	return progress.EventsCollected < progress.TargetEvents &&
		progress.CurrentBlock < progress.ChainHead &&
		!c.supervisor.StopRequested()
}

// persist upserts the batch, retrying write failures before surfacing a StorageError.
func (c *Collector) persist(ctx context.Context, batch BlockRange, events []model.EnrichedEvent) error {
	if len(events) == 0 {
		return nil
	}
	policy := c.cfg.Retry.Named("storage_upsert")
	policy.MaxRetries = c.cfg.StorageRetries
	policy.IsRetryable = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	err := retry.Run(ctx, policy, func(ctx context.Context) error {
		return c.storage.UpsertEvents(ctx, events)
	})
	if err != nil {
		return &StorageError{From: batch.From, To: batch.To, Err: err}
	}
	return nil
}

func (c *Collector) report(progress *model.CollectionProgress) {
	metrics.CurrentBlock.Set(float64(progress.CurrentBlock))
	metrics.ChainHead.Set(float64(progress.ChainHead))
	metrics.EventsCollected.Set(float64(progress.EventsCollected))
	metrics.BatchSize.Set(float64(progress.BatchSize))
	c.supervisor.Heartbeat(*progress)
}
