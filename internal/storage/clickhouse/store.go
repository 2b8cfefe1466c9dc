package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/big"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/holiman/uint256"

	"gasScope/internal/model"
)

// Options configures the ClickHouse connection.
type Options struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Database  string
	EnableTLS bool
}

const createTable = `
CREATE TABLE IF NOT EXISTS %s.transfer_events (
	tx_hash             String,
	log_index           UInt64,
	block_number        UInt64,
	block_timestamp     UInt64,
	event_date          Date,
	contract            String,
	from_address        String,
	to_address          String,
	value               UInt256,
	gas_used            UInt64,
	effective_gas_price UInt256,
	gas_cost            UInt256,
	insert_timestamp    DateTime64(3) DEFAULT now64(3)
) ENGINE = ReplacingMergeTree(insert_timestamp)
PARTITION BY toYYYYMM(event_date)
ORDER BY (tx_hash, log_index)
`

// Store persists transfer events in a ReplacingMergeTree table. Reads use
// FINAL so rows re-inserted under the same key collapse to the latest one.
type Store struct {
	conn     driver.Conn
	database string
}

func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("clickhouse host is required")
	}
	if opts.Port == 0 {
		opts.Port = 9000
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:     []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Protocol: clickhouse.Native,
		TLS: func() *tls.Config {
			if opts.EnableTLS {
				return &tls.Config{}
			}
			return nil
		}(),
		Auth: clickhouse.Auth{
			Username: opts.Username,
			Password: opts.Password,
			Database: opts.Database,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Store{conn: conn, database: opts.Database}, nil
}

// EnsureSchema creates the events table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(createTable, s.database))
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) UpsertEvents(ctx context.Context, events []model.EnrichedEvent) error {
	if len(events) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s.transfer_events (
		tx_hash, log_index, block_number, block_timestamp, event_date, contract,
		from_address, to_address, value, gas_used, effective_gas_price, gas_cost
	)`, s.database)

	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer batch.Abort()

	for _, e := range events {
		if err := batch.Append(
			e.Key().TxHash,
			e.LogIndex,
			e.BlockNumber,
			e.BlockTimestamp,
			e.EventDate(),
			e.Contract,
			e.From,
			e.To,
			toBig(e.Value),
			e.GasUsed,
			toBig(e.EffectiveGasPrice),
			toBig(e.GasCost),
		); err != nil {
			return fmt.Errorf("append %s: %w", e.Key(), err)
		}
	}
	return batch.Send()
}

func (s *Store) CountEvents(ctx context.Context) (uint64, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT count() FROM %s.transfer_events FINAL", s.database))
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) BlockRange(ctx context.Context) (uint64, uint64, bool, error) {
	var count, min, max uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf(
		"SELECT count(), min(block_number), max(block_number) FROM %s.transfer_events FINAL", s.database))
	if err := row.Scan(&count, &min, &max); err != nil {
		return 0, 0, false, err
	}
	if count == 0 {
		return 0, 0, false, nil
	}
	return min, max, true, nil
}

func (s *Store) DateRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	var (
		count      uint64
		start, end time.Time
	)
	row := s.conn.QueryRow(ctx, fmt.Sprintf(
		"SELECT count(), min(event_date), max(event_date) FROM %s.transfer_events FINAL", s.database))
	if err := row.Scan(&count, &start, &end); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if count == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	return start.UTC(), end.UTC(), true, nil
}

func (s *Store) Events(ctx context.Context) ([]model.EnrichedEvent, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT tx_hash, log_index, block_number, block_timestamp, contract, from_address, to_address,
			toString(value), gas_used, toString(effective_gas_price), toString(gas_cost)
		FROM %s.transfer_events FINAL
		ORDER BY block_number, log_index, tx_hash`, s.database))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EnrichedEvent
	for rows.Next() {
		var (
			e                                 model.EnrichedEvent
			value, effectiveGasPrice, gasCost string
		)
		if err := rows.Scan(&e.TxHash, &e.LogIndex, &e.BlockNumber, &e.BlockTimestamp, &e.Contract,
			&e.From, &e.To, &value, &e.GasUsed, &effectiveGasPrice, &gasCost); err != nil {
			return nil, err
		}
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

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}
