package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gasScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS transfer_events (
	tx_hash             TEXT        NOT NULL,
	log_index           BIGINT      NOT NULL,
	block_number        BIGINT      NOT NULL,
	block_timestamp     BIGINT      NOT NULL,
	event_date          DATE        NOT NULL,
	contract            TEXT        NOT NULL,
	from_address        TEXT        NOT NULL,
	to_address          TEXT        NOT NULL,
	value               NUMERIC(78,0) NOT NULL,
	gas_used            BIGINT      NOT NULL,
	effective_gas_price NUMERIC(78,0) NOT NULL,
	gas_cost            NUMERIC(78,0) NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS transfer_events_block_idx ON transfer_events (block_number, log_index);
CREATE INDEX IF NOT EXISTS transfer_events_date_idx ON transfer_events (event_date);
CREATE TABLE IF NOT EXISTS indexer_state (
	name             TEXT PRIMARY KEY,
	next_block       BIGINT      NOT NULL,
	chain_head       BIGINT      NOT NULL,
	events_collected BIGINT      NOT NULL,
	segment          INTEGER     NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE indexer_state ADD COLUMN IF NOT EXISTS scope TEXT NOT NULL DEFAULT '';
`

// Store provides Postgres persistence for transfer events and run checkpoints.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// UpsertEvents inserts events, replacing rows that share (tx_hash, log_index).
func (s *Store) UpsertEvents(ctx context.Context, events []model.EnrichedEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO transfer_events (
				tx_hash, log_index, block_number, block_timestamp, event_date, contract,
				from_address, to_address, value, gas_used, effective_gas_price, gas_cost,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::numeric,$10,$11::numeric,$12::numeric,now(),now())
			ON CONFLICT (tx_hash, log_index)
			DO UPDATE SET
				block_number = EXCLUDED.block_number,
				block_timestamp = EXCLUDED.block_timestamp,
				event_date = EXCLUDED.event_date,
				contract = EXCLUDED.contract,
				from_address = EXCLUDED.from_address,
				to_address = EXCLUDED.to_address,
				value = EXCLUDED.value,
				gas_used = EXCLUDED.gas_used,
				effective_gas_price = EXCLUDED.effective_gas_price,
				gas_cost = EXCLUDED.gas_cost,
				updated_at = now()
		`,
			e.Key().TxHash,
			int64(e.LogIndex),
			int64(e.BlockNumber),
			int64(e.BlockTimestamp),
			e.EventDate(),
			e.Contract,
			e.From,
			e.To,
			model.DecString(e.Value),
			int64(e.GasUsed),
			model.DecString(e.EffectiveGasPrice),
			model.DecString(e.GasCost),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CountEvents(ctx context.Context) (uint64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM transfer_events`).Scan(&count); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (s *Store) BlockRange(ctx context.Context) (uint64, uint64, bool, error) {
	var min, max *int64
	row := s.pool.QueryRow(ctx, `SELECT min(block_number), max(block_number) FROM transfer_events`)
	if err := row.Scan(&min, &max); err != nil {
		return 0, 0, false, err
	}
	if min == nil || max == nil {
		return 0, 0, false, nil
	}
	return uint64(*min), uint64(*max), true, nil
}

func (s *Store) DateRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	var start, end *time.Time
	row := s.pool.QueryRow(ctx, `SELECT min(event_date), max(event_date) FROM transfer_events`)
	if err := row.Scan(&start, &end); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if start == nil || end == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	return start.UTC(), end.UTC(), true, nil
}

func (s *Store) Events(ctx context.Context) ([]model.EnrichedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tx_hash, log_index, block_number, block_timestamp, contract,
			from_address, to_address, value::text, gas_used, effective_gas_price::text, gas_cost::text
		FROM transfer_events
		ORDER BY block_number, log_index, tx_hash
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EnrichedEvent
	for rows.Next() {
		var (
			e                                 model.EnrichedEvent
			logIndex, block, ts, gasUsed      int64
			value, effectiveGasPrice, gasCost string
		)
		if err := rows.Scan(&e.TxHash, &logIndex, &block, &ts, &e.Contract, &e.From, &e.To,
			&value, &gasUsed, &effectiveGasPrice, &gasCost); err != nil {
			return nil, err
		}
		e.LogIndex = uint64(logIndex)
		e.BlockNumber = uint64(block)
		e.BlockTimestamp = uint64(ts)
		e.GasUsed = uint64(gasUsed)
		if e.Value, err = model.ParseDec(value); err != nil {
			return nil, fmt.Errorf("parse value of %s: %w", e.Key(), err)
		}
		if e.EffectiveGasPrice, err = model.ParseDec(effectiveGasPrice); err != nil {
			return nil, fmt.Errorf("parse effective gas price of %s: %w", e.Key(), err)
		}
		if e.GasCost, err = model.ParseDec(gasCost); err != nil {
			return nil, fmt.Errorf("parse gas cost of %s: %w", e.Key(), err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadCheckpoint returns the checkpoint stored under name.
func (s *Store) LoadCheckpoint(ctx context.Context, name string) (model.Checkpoint, bool, error) {
	if name == "" {
		return model.Checkpoint{}, false, fmt.Errorf("state name required")
	}
	var (
		cp                            model.Checkpoint
		nextBlock, chainHead, counted int64
		updatedAt                     time.Time
	)
	row := s.pool.QueryRow(ctx, `
		SELECT scope, next_block, chain_head, events_collected, segment, updated_at
		FROM indexer_state WHERE name=$1
	`, name)
	if err := row.Scan(&cp.Scope, &nextBlock, &chainHead, &counted, &cp.Segment, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}
	cp.NextBlock = uint64(nextBlock)
	cp.ChainHead = uint64(chainHead)
	cp.EventsCollected = uint64(counted)
	cp.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return cp, true, nil
}

// SaveCheckpoint upserts the checkpoint stored under name.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, cp model.Checkpoint) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, scope, next_block, chain_head, events_collected, segment, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (name) DO UPDATE
		SET scope = EXCLUDED.scope,
			next_block = EXCLUDED.next_block,
			chain_head = EXCLUDED.chain_head,
			events_collected = EXCLUDED.events_collected,
			segment = EXCLUDED.segment,
			updated_at = now()
	`, name, cp.Scope, int64(cp.NextBlock), int64(cp.ChainHead), int64(cp.EventsCollected), cp.Segment)
	return err
}
