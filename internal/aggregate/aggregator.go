package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"gasScope/internal/model"
	"gasScope/internal/storage"
)

// Summary describes the persisted event set.
type Summary struct {
	EventCount      uint64   `json:"event_count"`
	BlockRange      []uint64 `json:"block_range"`
	DateRange       []string `json:"date_range"`
	TotalGasCostWei string   `json:"total_gas_cost_wei"`
	TotalGasCostEth float64  `json:"total_gas_cost_eth"`
}

// Report is the gas metrics document written by the report command.
type Report struct {
	TargetAddress string  `json:"target_address"`
	Network       string  `json:"network"`
	TokenSymbol   string  `json:"token_symbol"`
	GeneratedAt   string  `json:"generated_at"`
	Summary       Summary `json:"summary"`
	Series
}

// Config identifies the report subject.
type Config struct {
	TargetAddress string
	Network       string
	TokenSymbol   string
}

// Aggregator derives gas metrics from the events in a store.
type Aggregator struct {
	cfg    Config
	store  storage.Storage
	logger *zap.Logger
	now    func() time.Time
}

func NewAggregator(cfg Config, store storage.Storage, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cfg: cfg, store: store, logger: logger, now: time.Now}
}

// Run reads the persisted events and builds the report.
func (a *Aggregator) Run(ctx context.Context) (Report, error) {
	if a.store == nil {
		return Report{}, fmt.Errorf("store is nil")
	}

	count, err := a.store.CountEvents(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("count events: %w", err)
	}
	summary := Summary{EventCount: count, BlockRange: []uint64{}, DateRange: []string{}}

	minBlock, maxBlock, ok, err := a.store.BlockRange(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("query block range: %w", err)
	}
	if ok {
		summary.BlockRange = []uint64{minBlock, maxBlock}
	}

	start, end, ok, err := a.store.DateRange(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("query date range: %w", err)
	}
	if ok {
		summary.DateRange = []string{start.Format(model.DateLayout), end.Format(model.DateLayout)}
	}

	events, err := a.store.Events(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load events: %w", err)
	}
	series := Derive(events)

	total := big.NewInt(0)
	if n := len(series.Cumulative); n > 0 {
		total.SetString(series.Cumulative[n-1].CumulativeWei, 10)
	}
	summary.TotalGasCostWei = total.String()
	summary.TotalGasCostEth = weiToEther(total)

	a.logger.Info("aggregate complete",
		zap.Uint64("events", count),
		zap.Int("days", len(series.DailyGasCost)),
		zap.String("total_gas_cost_eth", formatUnits(total, weiDecimals)),
	)

	return Report{
		TargetAddress: strings.ToLower(a.cfg.TargetAddress),
		Network:       a.cfg.Network,
		TokenSymbol:   a.cfg.TokenSymbol,
		GeneratedAt:   a.now().UTC().Format(time.RFC3339),
		Summary:       summary,
		Series:        series,
	}, nil
}

// WriteReport writes the report as indented JSON, replacing path atomically.
func WriteReport(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write report tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}
