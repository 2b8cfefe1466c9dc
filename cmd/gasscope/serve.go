package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gasScope/internal/aggregate"
	"gasScope/internal/config"
	"gasScope/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and the current report over HTTP",
		RunE:  runServe,
	}
	addReportFlags(cmd)
	cmd.Flags().String("listen", ":8080", "listen address")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
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

	srv := server.New(server.Config{Addr: cfg.Listen}, nil, func(ctx context.Context) (aggregate.Report, error) {
		return agg.Run(ctx)
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.String("address", cfg.Listen))
	return srv.Stop(context.Background())
}
