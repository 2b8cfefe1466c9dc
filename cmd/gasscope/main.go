package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gasScope/internal/config"
	"gasScope/internal/storage"
	"gasScope/internal/storage/clickhouse"
)

func main() {
	root := &cobra.Command{
		Use:          "gasscope",
		Short:        "ERC-20 transfer gas cost collector",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(newCollectCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "jsonl", "event store (memory, jsonl, postgres, clickhouse)")
	cmd.Flags().String("out", "./data/events.jsonl", "JSONL event store path")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("clickhouse-host", "", "ClickHouse host")
	cmd.Flags().Int("clickhouse-port", 9000, "ClickHouse native port")
	cmd.Flags().String("clickhouse-database", "default", "ClickHouse database")
	cmd.Flags().String("clickhouse-username", "", "ClickHouse username")
	cmd.Flags().String("clickhouse-password", "", "ClickHouse password")
	cmd.Flags().Bool("clickhouse-tls", false, "enable TLS for ClickHouse")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Storage, error) {
	return storage.Open(ctx, storage.Options{
		Backend:     cfg.Backend,
		Path:        cfg.Out,
		PostgresDSN: cfg.PGDSN,
		ClickHouse: clickhouse.Options{
			Host:      cfg.ClickHouseHost,
			Port:      cfg.ClickHousePort,
			Username:  cfg.ClickHouseUsername,
			Password:  cfg.ClickHousePassword,
			Database:  cfg.ClickHouseDatabase,
			EnableTLS: cfg.ClickHouseTLS,
		},
	})
}

// notifyStop calls onFirst on the first SIGINT/SIGTERM and cancel on the second.
func notifyStop(ctx context.Context, cancel context.CancelFunc, onFirst func(), logger *zap.Logger) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("signal received, stopping after current batch", zap.String("signal", sig.String()))
			onFirst()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigCh:
			logger.Warn("second signal received, aborting", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() { signal.Stop(sigCh) }
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
