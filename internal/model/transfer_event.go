package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// ErrGasCostOverflow is returned when gasUsed * effectiveGasPrice does not fit in 256 bits.
var ErrGasCostOverflow = errors.New("gas cost overflows uint256")

// EventKey is the deduplication key of a transfer event.
type EventKey struct {
	TxHash   string
	LogIndex uint64
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash, k.LogIndex)
}

// TransferEvent is a decoded ERC-20 Transfer log. Hashes and addresses are lowercase hex.
type TransferEvent struct {
	TxHash         string
	LogIndex       uint64
	BlockNumber    uint64
	BlockTimestamp uint64
	Contract       string
	From           string
	To             string
	Value          *uint256.Int
}

// Key returns the (tx hash, log index) identity of the event.
func (e TransferEvent) Key() EventKey {
	return EventKey{TxHash: strings.ToLower(e.TxHash), LogIndex: e.LogIndex}
}

// EventDate is the UTC calendar date of the block timestamp.
func (e TransferEvent) EventDate() time.Time {
	ts := time.Unix(int64(e.BlockTimestamp), 0).UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// EnrichedEvent is a TransferEvent with the gas paid by its transaction.
type EnrichedEvent struct {
	TransferEvent
	GasUsed           uint64
	EffectiveGasPrice *uint256.Int
	GasCost           *uint256.Int
}

// Enrich attaches receipt gas data and computes gasCost = gasUsed * effectiveGasPrice.
func Enrich(event TransferEvent, gasUsed uint64, effectiveGasPrice *uint256.Int) (EnrichedEvent, error) {
	if effectiveGasPrice == nil {
		effectiveGasPrice = new(uint256.Int)
	}
	cost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(gasUsed), effectiveGasPrice)
	if overflow {
		return EnrichedEvent{}, fmt.Errorf("%w: tx %s", ErrGasCostOverflow, event.TxHash)
	}
	return EnrichedEvent{
		TransferEvent:     event,
		GasUsed:           gasUsed,
		EffectiveGasPrice: new(uint256.Int).Set(effectiveGasPrice),
		GasCost:           cost,
	}, nil
}

// eventRecord is the JSON shape of an EnrichedEvent; 256-bit values are decimal strings.
type eventRecord struct {
	TxHash            string `json:"tx_hash"`
	LogIndex          uint64 `json:"log_index"`
	BlockNumber       uint64 `json:"block_number"`
	BlockTimestamp    uint64 `json:"block_timestamp"`
	EventDate         string `json:"event_date"`
	Contract          string `json:"contract"`
	From              string `json:"from"`
	To                string `json:"to"`
	Value             string `json:"value"`
	GasUsed           uint64 `json:"gas_used"`
	EffectiveGasPrice string `json:"effective_gas_price"`
	GasCost           string `json:"gas_cost"`
}

// MarshalJSON encodes 256-bit fields as decimal strings.
func (e EnrichedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventRecord{
		TxHash:            e.TxHash,
		LogIndex:          e.LogIndex,
		BlockNumber:       e.BlockNumber,
		BlockTimestamp:    e.BlockTimestamp,
		EventDate:         e.EventDate().Format(DateLayout),
		Contract:          e.Contract,
		From:              e.From,
		To:                e.To,
		Value:             DecString(e.Value),
		GasUsed:           e.GasUsed,
		EffectiveGasPrice: DecString(e.EffectiveGasPrice),
		GasCost:           DecString(e.GasCost),
	})
}

// UnmarshalJSON decodes an EnrichedEvent written by MarshalJSON.
func (e *EnrichedEvent) UnmarshalJSON(data []byte) error {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	value, err := ParseDec(rec.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	price, err := ParseDec(rec.EffectiveGasPrice)
	if err != nil {
		return fmt.Errorf("effective_gas_price: %w", err)
	}
	cost, err := ParseDec(rec.GasCost)
	if err != nil {
		return fmt.Errorf("gas_cost: %w", err)
	}
	*e = EnrichedEvent{
		TransferEvent: TransferEvent{
			TxHash:         rec.TxHash,
			LogIndex:       rec.LogIndex,
			BlockNumber:    rec.BlockNumber,
			BlockTimestamp: rec.BlockTimestamp,
			Contract:       rec.Contract,
			From:           rec.From,
			To:             rec.To,
			Value:          value,
		},
		GasUsed:           rec.GasUsed,
		EffectiveGasPrice: price,
		GasCost:           cost,
	}
	return nil
}

// DateLayout is the layout of event dates in storage and reports.
const DateLayout = "2006-01-02"

// DecString renders a 256-bit value as a decimal string; nil renders as "0".
func DecString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// ParseDec parses a decimal string into a 256-bit value; empty means zero.
func ParseDec(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}
