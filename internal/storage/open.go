package storage

import (
	"context"
	"fmt"
	"strings"

	"gasScope/internal/storage/clickhouse"
	"gasScope/internal/storage/postgres"
)

const (
	BackendMemory     = "memory"
	BackendJSONL      = "jsonl"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

// Options selects and configures a storage backend.
type Options struct {
	Backend     string
	Path        string
	PostgresDSN string
	ClickHouse  clickhouse.Options
	// SkipSchema disables table creation on open.
	SkipSchema bool
}

// Open returns the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendMemory:
		return NewMemoryStorage(), nil
	case "", BackendJSONL:
		if opts.Path == "" {
			return nil, fmt.Errorf("jsonl storage requires a path")
		}
		return OpenJsonlStorage(opts.Path)
	case BackendPostgres:
		store, err := postgres.NewStore(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if !opts.SkipSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, fmt.Errorf("ensure postgres schema: %w", err)
			}
		}
		return store, nil
	case BackendClickHouse:
		store, err := clickhouse.NewStore(ctx, opts.ClickHouse)
		if err != nil {
			return nil, err
		}
		if !opts.SkipSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, fmt.Errorf("ensure clickhouse schema: %w", err)
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*JsonlStorage)(nil)
	_ Storage = (*postgres.Store)(nil)
	_ Storage = (*clickhouse.Store)(nil)
)
