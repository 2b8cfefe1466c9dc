package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gasScope/internal/aggregate"
	"gasScope/internal/chain"
	"gasScope/internal/config"
	"gasScope/internal/erc20"
	"gasScope/internal/indexer"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Derive daily gas metrics from stored events and write the report",
		RunE:  runReport,
	}
	addReportFlags(cmd)
	cmd.Flags().String("report-out", "./data/report.json", "report JSON path, - for stdout")
	return cmd
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "JSON-RPC URL, used to look up the token symbol")
	cmd.Flags().String("target", "", "target address")
	cmd.Flags().String("contract", "", "token contract address")
	cmd.Flags().String("network", "ethereum", "network name")
	cmd.Flags().String("token-symbol", "", "token symbol, looked up on chain when empty")
	cmd.Flags().Duration("rpc-timeout", chain.DefaultTimeout, "timeout of a single RPC call")
	addStoreFlags(cmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReport(cfgFile, cmd.Flags())
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg, closeFn, err := newAggregator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := agg.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.ReportOut == "-" {
		return writeStdout(report)
	}
	if err := aggregate.WriteReport(cfg.ReportOut, report); err != nil {
		return err
	}
	logger.Info("report written",
		zap.String("path", cfg.ReportOut),
		zap.Uint64("events", report.Summary.EventCount),
		zap.Int("days", len(report.DailyGasCost)),
	)
	return nil
}

// newAggregator opens the store and resolves the token symbol.
func newAggregator(ctx context.Context, cfg config.ReportConfig, logger *zap.Logger) (*aggregate.Aggregator, func(), error) {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	symbol, err := resolveSymbol(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		TargetAddress: cfg.Target,
		Network:       cfg.Network,
		TokenSymbol:   symbol,
	}, store, logger)
	return agg, func() { store.Close() }, nil
}

func resolveSymbol(ctx context.Context, cfg config.ReportConfig, logger *zap.Logger) (string, error) {
	if cfg.TokenSymbol != "" || cfg.RPCURL == "" || cfg.Contract == "" {
		return cfg.TokenSymbol, nil
	}
	contract, err := indexer.ParseAddress(cfg.Contract)
	if err != nil {
		return "", err
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{Timeout: cfg.RPCTimeout})
	if err != nil {
		return "", fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	meta, err := erc20.FetchTokenMeta(ctx, chainClient, contract, erc20.NewTokenMetaCache(), logger)
	if err != nil {
		logger.Warn("token metadata lookup failed", zap.Error(err), zap.String("contract", cfg.Contract))
		return "", nil
	}
	return meta.Symbol, nil
}

func writeStdout(report aggregate.Report) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
