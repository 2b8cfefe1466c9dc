package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
)

// CollectConfig holds configuration for the collect command.
type CollectConfig struct {
	RPCURL   string
	Target   string
	Contract string
	Network  string

	TargetEvents   uint64
	BatchSize      uint64
	BatchDelay     time.Duration
	SegmentBlocks  uint64
	LookbackDays   uint64
	BlockTime      time.Duration
	AdaptiveBatch  bool
	MinBatchSize   uint64
	BlockWave      int
	BlockWaveDelay time.Duration

	ReceiptBatch       int
	ReceiptConcurrency int
	ReceiptBatchDelay  time.Duration

	RPCTimeout        time.Duration
	RPCRequestsPerSec float64
	MaxRetries        int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	ActivityRetries   int
	StorageRetries    int

	Store             StoreConfig
	Checkpoint        string
	CheckpointEnabled bool
	CheckpointStore   string

	Listen     string
	StaleAfter time.Duration
	LogLevel   string
}

// LoadCollect merges config file, environment variables, and flags into CollectConfig.
func LoadCollect(cfgFile string, flags *pflag.FlagSet) (CollectConfig, error) {
	v, err := newViper(cfgFile, flags, storeDefaults(map[string]any{
		"network":             "ethereum",
		"target-events":       uint64(10_000),
		"batch-size":          uint64(2000),
		"batch-delay":         200 * time.Millisecond,
		"segment-blocks":      uint64(500_000),
		"lookback-days":       uint64(30),
		"block-time":          12 * time.Second,
		"min-batch-size":      uint64(10),
		"block-wave":          5,
		"block-wave-delay":    100 * time.Millisecond,
		"receipt-batch":       50,
		"receipt-concurrency": 25,
		"receipt-batch-delay": 200 * time.Millisecond,
		"rpc-timeout":         30 * time.Second,
		"max-retries":         5,
		"retry-initial-delay": time.Second,
		"retry-max-delay":     30 * time.Second,
		"activity-retries":    3,
		"storage-retries":     3,
		"checkpoint":          "./data/checkpoint.json",
		"checkpoint-enabled":  true,
		"checkpoint-store":    "file",
		"stale-after":         5 * time.Minute,
	}))
	if err != nil {
		return CollectConfig{}, err
	}

	cfg := CollectConfig{
		RPCURL:             v.GetString("rpc"),
		Target:             v.GetString("target"),
		Contract:           v.GetString("contract"),
		Network:            v.GetString("network"),
		TargetEvents:       v.GetUint64("target-events"),
		BatchSize:          v.GetUint64("batch-size"),
		BatchDelay:         v.GetDuration("batch-delay"),
		SegmentBlocks:      v.GetUint64("segment-blocks"),
		LookbackDays:       v.GetUint64("lookback-days"),
		BlockTime:          v.GetDuration("block-time"),
		AdaptiveBatch:      v.GetBool("adaptive-batch"),
		MinBatchSize:       v.GetUint64("min-batch-size"),
		BlockWave:          v.GetInt("block-wave"),
		BlockWaveDelay:     v.GetDuration("block-wave-delay"),
		ReceiptBatch:       v.GetInt("receipt-batch"),
		ReceiptConcurrency: v.GetInt("receipt-concurrency"),
		ReceiptBatchDelay:  v.GetDuration("receipt-batch-delay"),
		RPCTimeout:         v.GetDuration("rpc-timeout"),
		RPCRequestsPerSec:  v.GetFloat64("rpc-rps"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryInitialDelay:  v.GetDuration("retry-initial-delay"),
		RetryMaxDelay:      v.GetDuration("retry-max-delay"),
		ActivityRetries:    v.GetInt("activity-retries"),
		StorageRetries:     v.GetInt("storage-retries"),
		Store:              loadStore(v),
		Checkpoint:         v.GetString("checkpoint"),
		CheckpointEnabled:  v.GetBool("checkpoint-enabled"),
		CheckpointStore:    v.GetString("checkpoint-store"),
		Listen:             v.GetString("listen"),
		StaleAfter:         v.GetDuration("stale-after"),
		LogLevel:           v.GetString("log-level"),
	}
	return cfg, nil
}

// Validate rejects configurations that cannot start a run.
func (c CollectConfig) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("--rpc is required")
	}
	if !common.IsHexAddress(c.Target) {
		return fmt.Errorf("--target must be a hex address, got %q", c.Target)
	}
	if c.Contract != "" && !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("--contract must be a hex address, got %q", c.Contract)
	}
	if c.TargetEvents == 0 {
		return fmt.Errorf("--target-events must be greater than zero")
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("--batch-size must be greater than zero")
	}
	if c.AdaptiveBatch && c.MinBatchSize > c.BatchSize {
		return fmt.Errorf("--min-batch-size %d exceeds --batch-size %d", c.MinBatchSize, c.BatchSize)
	}
	if c.BlockTime < time.Second {
		return fmt.Errorf("--block-time must be at least 1s")
	}
	if c.RetryMaxDelay < c.RetryInitialDelay {
		return fmt.Errorf("--retry-max-delay must not be below --retry-initial-delay")
	}
	switch c.CheckpointStore {
	case "file":
	case "db":
		if c.Store.Backend != "postgres" {
			return fmt.Errorf("--checkpoint-store=db requires --store=postgres")
		}
	default:
		return fmt.Errorf("unknown checkpoint store %q (file|db)", c.CheckpointStore)
	}
	return c.Store.Validate()
}
