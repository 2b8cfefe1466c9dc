package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasScope/internal/model"
	"gasScope/internal/storage"
)

// march1 is 2024-03-01T00:00:00Z.
const march1 = 1709251200

const gwei = 1_000_000_000

var seq int

func event(t *testing.T, day int, block uint64, gasUsed uint64, priceGwei uint64) model.EnrichedEvent {
	t.Helper()
	seq++
	e, err := model.Enrich(model.TransferEvent{
		TxHash:         fmt.Sprintf("0x%064x", seq),
		BlockNumber:    block,
		BlockTimestamp: uint64(march1 + day*86400 + 3600),
		Value:          uint256.NewInt(1),
	}, gasUsed, uint256.NewInt(priceGwei*gwei))
	require.NoError(t, err)
	return e
}

func TestDeriveMovingAverageWithFewerThanSevenDays(t *testing.T) {
	series := Derive([]model.EnrichedEvent{
		event(t, 0, 100, 21000, 10),
		event(t, 1, 200, 21000, 20),
		event(t, 2, 300, 21000, 30),
	})

	require.Len(t, series.MovingAverage, 3)
	day3 := series.MovingAverage[2]
	assert.Equal(t, "2024-03-03", day3.Date)
	assert.Equal(t, 3, day3.WindowDays)
	assert.InDelta(t, 20.0, day3.MovingAvgPriceGwei, 1e-9)
	assert.Equal(t, "20000000000", day3.MovingAvgPriceWei)
	assert.InDelta(t, 30.0, day3.AvgGasPriceGwei, 1e-9)

	day1 := series.MovingAverage[0]
	assert.Equal(t, 1, day1.WindowDays)
	assert.InDelta(t, 10.0, day1.MovingAvgPriceGwei, 1e-9)
}

func TestDeriveMovingAverageTrailingWindow(t *testing.T) {
	var events []model.EnrichedEvent
	for day := 0; day < 9; day++ {
		events = append(events, event(t, day, uint64(100+day), 21000, uint64(day+1)))
	}
	series := Derive(events)
	require.Len(t, series.MovingAverage, 9)

	// Day 9 (index 8) averages days 3..9 with means 3..9 gwei.
	last := series.MovingAverage[8]
	assert.Equal(t, 7, last.WindowDays)
	assert.InDelta(t, 6.0, last.MovingAvgPriceGwei, 1e-9)
}

func TestDeriveMovingAverageSkipsCalendarGaps(t *testing.T) {
	series := Derive([]model.EnrichedEvent{
		event(t, 0, 100, 21000, 10),
		event(t, 8, 900, 21000, 40),
	})
	require.Len(t, series.MovingAverage, 2)
	assert.Equal(t, 1, series.MovingAverage[1].WindowDays)
	assert.InDelta(t, 40.0, series.MovingAverage[1].MovingAvgPriceGwei, 1e-9)
}

func TestDeriveDailyMeanAndCost(t *testing.T) {
	series := Derive([]model.EnrichedEvent{
		event(t, 0, 100, 21000, 10),
		event(t, 0, 101, 50000, 20),
		event(t, 1, 200, 100000, 5),
	})

	require.Len(t, series.DailyGasCost, 2)
	day1 := series.DailyGasCost[0]
	assert.Equal(t, "2024-03-01", day1.Date)
	assert.Equal(t, uint64(2), day1.EventCount)
	// 21000*10 gwei + 50000*20 gwei = 1,210,000 gwei.
	assert.Equal(t, "1210000000000000", day1.GasCostWei)
	assert.InDelta(t, 0.00121, day1.GasCostEth, 1e-12)
	assert.Equal(t, uint64(100), day1.FirstBlock)
	assert.Equal(t, uint64(101), day1.LastBlock)
	assert.Equal(t, uint64(200), series.DailyGasCost[1].FirstBlock)
	assert.Equal(t, uint64(200), series.DailyGasCost[1].LastBlock)
	assert.InDelta(t, 15.0, series.MovingAverage[0].AvgGasPriceGwei, 1e-9)

	require.Len(t, series.Cumulative, 2)
	assert.Equal(t, "1210000000000000", series.Cumulative[0].CumulativeWei)
	assert.Equal(t, "1710000000000000", series.Cumulative[1].CumulativeWei)
	assert.InDelta(t, 0.00171, series.Cumulative[1].CumulativeEth, 1e-12)
}

func TestDeriveSeriesShareDates(t *testing.T) {
	series := Derive([]model.EnrichedEvent{
		event(t, 4, 500, 21000, 10),
		event(t, 0, 100, 21000, 10),
		event(t, 2, 300, 21000, 10),
	})
	for i := range series.DailyGasCost {
		assert.Equal(t, series.DailyGasCost[i].Date, series.MovingAverage[i].Date)
		assert.Equal(t, series.DailyGasCost[i].Date, series.Cumulative[i].Date)
	}
	assert.Equal(t, "2024-03-01", series.DailyGasCost[0].Date)
	assert.Equal(t, "2024-03-05", series.DailyGasCost[2].Date)
}

func TestAggregatorRunBuildsReport(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.UpsertEvents(ctx, []model.EnrichedEvent{
		event(t, 0, 100, 21000, 10),
		event(t, 2, 300, 21000, 30),
	}))

	agg := NewAggregator(Config{
		TargetAddress: "0x00000000000000000000000000000000000000AA",
		Network:       "ethereum-mainnet",
		TokenSymbol:   "USDC",
	}, store, nil)
	agg.now = func() time.Time { return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC) }

	report, err := agg.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", report.TargetAddress)
	assert.Equal(t, uint64(2), report.Summary.EventCount)
	assert.Equal(t, []uint64{100, 300}, report.Summary.BlockRange)
	assert.Equal(t, []string{"2024-03-01", "2024-03-03"}, report.Summary.DateRange)
	assert.Equal(t, "840000000000000", report.Summary.TotalGasCostWei)
	assert.Equal(t, "2024-03-10T00:00:00Z", report.GeneratedAt)

	path := filepath.Join(t.TempDir(), "out", "report.json")
	require.NoError(t, WriteReport(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "USDC", doc["token_symbol"])
	assert.Equal(t, "ethereum-mainnet", doc["network"])
	daily := doc["daily_gas_cost"].([]any)
	require.Len(t, daily, 2)
	first := daily[0].(map[string]any)
	assert.IsType(t, "", first["gas_cost_wei"])
	assert.IsType(t, float64(0), first["gas_cost_eth"])
	assert.Contains(t, first, "first_block")
	assert.Contains(t, first, "last_block")
	assert.Contains(t, doc, "moving_average_gas_price")
	assert.Contains(t, doc, "cumulative_gas_cost")
}

func TestAggregatorRunEmptyStore(t *testing.T) {
	report, err := NewAggregator(Config{Network: "sepolia"}, storage.NewMemoryStorage(), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Summary.EventCount)
	assert.Equal(t, "0", report.Summary.TotalGasCostWei)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"daily_gas_cost":[]`)
	assert.Contains(t, string(data), `"block_range":[]`)
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "0.001210000000000000", formatUnits(mustBig("1210000000000000"), weiDecimals))
	assert.Equal(t, "42", formatUnits(mustBig("42"), 0))
	assert.Equal(t, "0", formatUnits(nil, weiDecimals))
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}
