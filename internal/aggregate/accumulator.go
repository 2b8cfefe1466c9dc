package aggregate

import (
	"math/big"
	"time"

	"gasScope/internal/model"
)

// Accumulator holds the aggregate values of one UTC day.
type Accumulator struct {
	Date       time.Time
	EventCount uint64
	GasCost    *big.Int
	PriceSum   *big.Int
	FirstBlock uint64
	LastBlock  uint64
}

func NewAccumulator(date time.Time) *Accumulator {
	return &Accumulator{
		Date:     date,
		GasCost:  big.NewInt(0),
		PriceSum: big.NewInt(0),
	}
}

func (a *Accumulator) AddEvent(event model.EnrichedEvent) {
	if a.EventCount == 0 || event.BlockNumber < a.FirstBlock {
		a.FirstBlock = event.BlockNumber
	}
	if event.BlockNumber > a.LastBlock {
		a.LastBlock = event.BlockNumber
	}
	a.GasCost.Add(a.GasCost, toBig(event.GasCost))
	a.PriceSum.Add(a.PriceSum, toBig(event.EffectiveGasPrice))
	a.EventCount++
}

// MeanGasPrice is the mean effective gas price of the day's events in wei.
func (a *Accumulator) MeanGasPrice() *big.Rat {
	if a.EventCount == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(a.PriceSum, new(big.Int).SetUint64(a.EventCount))
}
