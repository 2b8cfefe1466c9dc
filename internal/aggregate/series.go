package aggregate

import (
	"math/big"
	"sort"
	"time"

	"gasScope/internal/model"
)

// MovingAverageDays is the trailing window of the gas price moving average.
const MovingAverageDays = 7

// DailyGasCost is the total gas paid on one day. GasCostWei is authoritative.
type DailyGasCost struct {
	Date       string  `json:"date"`
	EventCount uint64  `json:"event_count"`
	GasCostWei string  `json:"gas_cost_wei"`
	GasCostEth float64 `json:"gas_cost_eth"`
	FirstBlock uint64  `json:"first_block"`
	LastBlock  uint64  `json:"last_block"`
}

// GasPriceAverage is a day's mean effective gas price with its trailing average.
type GasPriceAverage struct {
	Date               string  `json:"date"`
	AvgGasPriceWei     string  `json:"avg_gas_price_wei"`
	AvgGasPriceGwei    float64 `json:"avg_gas_price_gwei"`
	MovingAvgPriceWei  string  `json:"moving_avg_7d_wei"`
	MovingAvgPriceGwei float64 `json:"moving_avg_7d_gwei"`
	WindowDays         int     `json:"window_days"`
}

// CumulativeGasCost is the running total of daily gas cost up to a day.
type CumulativeGasCost struct {
	Date          string  `json:"date"`
	CumulativeWei string  `json:"cumulative_wei"`
	CumulativeEth float64 `json:"cumulative_eth"`
}

// Series holds the three date-aligned daily series.
type Series struct {
	DailyGasCost  []DailyGasCost      `json:"daily_gas_cost"`
	MovingAverage []GasPriceAverage   `json:"moving_average_gas_price"`
	Cumulative    []CumulativeGasCost `json:"cumulative_gas_cost"`
}

// Days groups events by UTC event date in ascending order.
func Days(events []model.EnrichedEvent) []*Accumulator {
	byDate := make(map[time.Time]*Accumulator)
	for _, event := range events {
		date := event.EventDate()
		acc := byDate[date]
		if acc == nil {
			acc = NewAccumulator(date)
			byDate[date] = acc
		}
		acc.AddEvent(event)
	}

	days := make([]*Accumulator, 0, len(byDate))
	for _, acc := range byDate {
		days = append(days, acc)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days
}

// Derive computes the daily gas cost, the trailing 7-day average of the daily
// mean gas price and the cumulative gas cost. Days without events are absent;
// the moving average covers whichever days of the trailing window exist.
func Derive(events []model.EnrichedEvent) Series {
	days := Days(events)
	series := Series{
		DailyGasCost:  make([]DailyGasCost, 0, len(days)),
		MovingAverage: make([]GasPriceAverage, 0, len(days)),
		Cumulative:    make([]CumulativeGasCost, 0, len(days)),
	}

	means := make([]*big.Rat, len(days))
	cumulative := big.NewInt(0)
	windowStart := 0
	for i, day := range days {
		date := day.Date.Format(model.DateLayout)

		series.DailyGasCost = append(series.DailyGasCost, DailyGasCost{
			Date:       date,
			EventCount: day.EventCount,
			GasCostWei: day.GasCost.String(),
			GasCostEth: weiToEther(day.GasCost),
			FirstBlock: day.FirstBlock,
			LastBlock:  day.LastBlock,
		})

		means[i] = day.MeanGasPrice()
		earliest := day.Date.AddDate(0, 0, -(MovingAverageDays - 1))
		for days[windowStart].Date.Before(earliest) {
			windowStart++
		}
		sum := new(big.Rat)
		for _, mean := range means[windowStart : i+1] {
			sum.Add(sum, mean)
		}
		window := i + 1 - windowStart
		avg := sum.Quo(sum, new(big.Rat).SetInt64(int64(window)))

		series.MovingAverage = append(series.MovingAverage, GasPriceAverage{
			Date:               date,
			AvgGasPriceWei:     ratFloor(means[i]).String(),
			AvgGasPriceGwei:    weiToGwei(means[i]),
			MovingAvgPriceWei:  ratFloor(avg).String(),
			MovingAvgPriceGwei: weiToGwei(avg),
			WindowDays:         window,
		})

		cumulative.Add(cumulative, day.GasCost)
		series.Cumulative = append(series.Cumulative, CumulativeGasCost{
			Date:          date,
			CumulativeWei: cumulative.String(),
			CumulativeEth: weiToEther(cumulative),
		})
	}
	return series
}
