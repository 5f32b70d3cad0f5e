package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scalper.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveTrade_RoundTripsThroughTrades(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Truncate(time.Second)
	exitPrice := 112.5
	exitTime := now.Add(10 * time.Minute)

	trade := types.Trade{
		ID: "trade-1", Underlying: "NIFTY24JUL24000CE", OptionType: types.CallOption,
		Strike: 24000, Quantity: 150, EntryPrice: 100, EntryTime: now,
		ExitPrice: &exitPrice, ExitTime: &exitTime, ExitReason: "PROFIT_TARGET",
		PnL: 1875, Status: types.TradeClosed,
	}
	require.NoError(t, s.SaveTrade(trade))

	got, err := s.Trades(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, trade.ID, got[0].ID)
	assert.Equal(t, trade.PnL, got[0].PnL)
	assert.Equal(t, types.TradeClosed, got[0].Status)
}

func TestSaveTrade_UpsertOverwritesOnConflict(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Truncate(time.Second)

	open := types.Trade{ID: "trade-2", Underlying: "NIFTY24JUL24000CE", EntryPrice: 100, EntryTime: now, Status: types.TradeActive}
	require.NoError(t, s.SaveTrade(open))

	exitPrice := 95.0
	exitTime := now.Add(5 * time.Minute)
	closed := open
	closed.ExitPrice = &exitPrice
	closed.ExitTime = &exitTime
	closed.Status = types.TradeClosed
	closed.PnL = -750
	require.NoError(t, s.SaveTrade(closed))

	got, err := s.Trades(10)
	require.NoError(t, err)
	require.Len(t, got, 1, "same trade id should upsert, not duplicate")
	assert.Equal(t, types.TradeClosed, got[0].Status)
	assert.Equal(t, -750.0, got[0].PnL)
}

func TestStrategyConfig_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	type cfgShape struct {
		RiskPercent float64 `json:"risk_percent"`
		Label       string  `json:"label"`
	}
	in := cfgShape{RiskPercent: 2.5, Label: "aggressive"}
	require.NoError(t, s.SaveStrategyConfig("cfg-1", "default", true, in, now))

	var out cfgShape
	require.NoError(t, s.LoadStrategyConfig("cfg-1", &out))
	assert.Equal(t, in, out)
}

func TestBucketPerformance_RoundTripsAndUpserts(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	bp := types.BucketPerformance{Bucket: "OI_STRONG", TotalTrades: 20, Wins: 14, Losses: 6, WinRate: 0.7, TotalPnL: 5000, SampleSizeAdequate: true}
	require.NoError(t, s.SaveBucketPerformance(bp, now))

	bp.TotalTrades = 25
	bp.Wins = 18
	bp.WinRate = 0.72
	require.NoError(t, s.SaveBucketPerformance(bp, now))

	all, err := s.BucketPerformanceAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 25, all[0].TotalTrades)
	assert.Equal(t, 18, all[0].Wins)
}
