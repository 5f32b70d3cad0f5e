package trademgr

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper/broker"
	"scalper/exitengine"
	"scalper/greeks"
	"scalper/orders"
	"scalper/types"
)

type fakeRisk struct {
	calls int
	pnl   float64
	won   bool
}

func (f *fakeRisk) RecordTrade(pnl float64, won bool) {
	f.calls++
	f.pnl = pnl
	f.won = won
}

type fakeAdaptive struct {
	recorded []types.TradeFeatures
}

func (f *fakeAdaptive) RecordOutcome(tf types.TradeFeatures) {
	f.recorded = append(f.recorded, tf)
}

func newTestManager(t *testing.T) (*Manager, *broker.Demo, *fakeRisk, *fakeAdaptive) {
	t.Helper()
	demo := broker.NewDemo()
	gc := greeks.NewCache(demo, "NFO", time.Minute, zerolog.Nop())
	ee := exitengine.NewEngine(exitengine.DefaultConfig())
	om := orders.NewManager(demo, "NFO", broker.MIS)
	risk := &fakeRisk{}
	adaptive := &fakeAdaptive{}
	m := NewManager(gc, ee, om, adaptive, risk, nil, zerolog.Nop())
	return m, demo, risk, adaptive
}

func baseCallTrade(now time.Time) types.Trade {
	return types.Trade{
		Underlying:  "NIFTY24000CE",
		OptionType:  types.CallOption,
		Quantity:    150,
		EntryPrice:  100,
		EntryTime:   now.Add(-10 * time.Minute),
		EntryDelta:  0.5,
		SLPrice:     90,
		TargetPrice: 130,
	}
}

func TestOpen_AssignsIDAndMarksActive(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	now := time.Now()
	trade := baseCallTrade(now)
	m.Open(trade)

	assert.Equal(t, 1, m.ActiveCount())
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.NotEmpty(t, snap[0].ID)
	assert.Equal(t, types.TradeActive, snap[0].Status)
}

func TestTick_SkipsTradeOnStaleSnapshot(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	now := time.Now()
	trade := baseCallTrade(now)
	m.Open(trade)

	results := m.Tick(context.Background(), now, "NFO", func(types.Trade) float64 { return 999 })
	assert.Empty(t, results)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestTick_ClosesTradeOnHardSLAndRecordsOutcome(t *testing.T) {
	m, demo, risk, adaptive := newTestManager(t)
	now := time.Now()
	trade := baseCallTrade(now)
	m.Open(trade)

	demo.SeedQuote("NIFTY24000CE", types.GreeksSnapshot{
		LTP: 85, Delta: 0.45, Gamma: 0.003, Theta: -10, IV: 20,
	})

	results := m.Tick(context.Background(), now, "NFO", func(types.Trade) float64 { return 999 })
	require.Len(t, results, 1)
	assert.True(t, results[0].Closed)
	assert.Equal(t, string(exitengine.HardSL), results[0].Trade.ExitReason)
	assert.Equal(t, types.TradeClosed, results[0].Trade.Status)
	assert.Equal(t, 0, m.ActiveCount())

	assert.Equal(t, 1, risk.calls)
	assert.False(t, risk.won)
	require.Len(t, adaptive.recorded, 1)
	assert.False(t, adaptive.recorded[0].Won)

	hist := m.ClosedHistory(10)
	require.Len(t, hist, 1)
	assert.Equal(t, results[0].Trade.ID, hist[0].ID)
}

func TestTick_ClosesTradeOnExhaustionWhenCoreTriggersDontFire(t *testing.T) {
	demo := broker.NewDemo()
	gc := greeks.NewCache(demo, "NFO", time.Minute, zerolog.Nop())
	ee := exitengine.NewEngine(exitengine.DefaultConfig())
	om := orders.NewManager(demo, "NFO", broker.MIS)
	risk := &fakeRisk{}
	adaptive := &fakeAdaptive{}
	reversalCtx := func(ctx context.Context, trade types.Trade) (exitengine.ReversalInput, exitengine.ExhaustionInput, bool) {
		return exitengine.ReversalInput{}, exitengine.ExhaustionInput{
			GammaPrev: 0.02, Gamma: 0.001,
		}, true
	}
	m := NewManager(gc, ee, om, adaptive, risk, reversalCtx, zerolog.Nop())

	now := time.Now()
	trade := baseCallTrade(now)
	m.Open(trade)

	demo.SeedQuote("NIFTY24000CE", types.GreeksSnapshot{
		LTP: 100.2, Delta: 0.5, Gamma: 0.001, Theta: -10, IV: 20,
	})

	results := m.Tick(context.Background(), now, "NFO", func(types.Trade) float64 { return 999 })
	require.Len(t, results, 1)
	assert.True(t, results[0].Closed)
	assert.Equal(t, string(exitengine.Exhaustion), results[0].Trade.ExitReason)
}

func TestTick_SkipsReversalCheckWhenContextNotAvailable(t *testing.T) {
	demo := broker.NewDemo()
	gc := greeks.NewCache(demo, "NFO", time.Minute, zerolog.Nop())
	ee := exitengine.NewEngine(exitengine.DefaultConfig())
	om := orders.NewManager(demo, "NFO", broker.MIS)
	reversalCtx := func(ctx context.Context, trade types.Trade) (exitengine.ReversalInput, exitengine.ExhaustionInput, bool) {
		return exitengine.ReversalInput{}, exitengine.ExhaustionInput{}, false
	}
	m := NewManager(gc, ee, om, &fakeAdaptive{}, &fakeRisk{}, reversalCtx, zerolog.Nop())

	now := time.Now()
	trade := baseCallTrade(now)
	m.Open(trade)

	demo.SeedQuote("NIFTY24000CE", types.GreeksSnapshot{LTP: 100.2, Delta: 0.5, Gamma: 0.003, Theta: -10, IV: 20})
	results := m.Tick(context.Background(), now, "NFO", func(types.Trade) float64 { return 999 })
	assert.Empty(t, results)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestTick_PartialExitReducesQuantityAndRecordsPartial(t *testing.T) {
	m, demo, _, _ := newTestManager(t)
	now := time.Now()
	trade := baseCallTrade(now)
	m.Open(trade)

	demo.SeedQuote("NIFTY24000CE", types.GreeksSnapshot{
		LTP: 101.5, Delta: 0.5, Gamma: 0.003, Theta: -10, IV: 20,
	})

	results := m.Tick(context.Background(), now, "NFO", func(types.Trade) float64 { return 999 })
	require.Len(t, results, 1)
	assert.True(t, results[0].PartialExit)
	assert.Equal(t, 1, m.ActiveCount())

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Less(t, snap[0].Quantity, 150)
	require.Len(t, snap[0].Partials, 1)
}

func TestCloseAll_ForceClosesEveryActiveTradeAtCurrentPrice(t *testing.T) {
	m, demo, risk, _ := newTestManager(t)
	now := time.Now()

	trade := baseCallTrade(now)
	m.Open(trade)
	demo.SeedQuote("NIFTY24000CE", types.GreeksSnapshot{LTP: 110, Delta: 0.5, Gamma: 0.003, Theta: -10, IV: 20})
	m.Tick(context.Background(), now, "NFO", func(types.Trade) float64 { return 999 })
	require.Equal(t, 1, m.ActiveCount())

	closed := m.CloseAll(context.Background(), "NFO", "KILL_SWITCH", now)
	require.Len(t, closed, 1)
	assert.Equal(t, "KILL_SWITCH", closed[0].ExitReason)
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 1, risk.calls)
}

func TestCloseAll_NoActiveTradesReturnsEmpty(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	closed := m.CloseAll(context.Background(), "NFO", "SHUTDOWN", time.Now())
	assert.Empty(t, closed)
}

func TestPortfolioGreeks_SumsAcrossActiveTrades(t *testing.T) {
	m, demo, _, _ := newTestManager(t)
	now := time.Now()

	call := baseCallTrade(now)
	call.Underlying = "NIFTY24000CE"
	call.Quantity = 100
	m.Open(call)

	put := baseCallTrade(now)
	put.Underlying = "NIFTY24000PE"
	put.OptionType = types.PutOption
	put.Quantity = 50
	// Put-side levels (SL above entry, target below) so no exit fires on Tick.
	put.EntryPrice = 90
	put.EntryDelta = -0.4
	put.SLPrice = 99
	put.TargetPrice = 63
	m.Open(put)

	demo.SeedQuote("NIFTY24000CE", types.GreeksSnapshot{LTP: 100, Delta: 0.5, Gamma: 0.003, Theta: -10, IV: 20, Vega: 5})
	demo.SeedQuote("NIFTY24000PE", types.GreeksSnapshot{LTP: 90, Delta: -0.4, Gamma: 0.002, Theta: -8, IV: 22, Vega: 4})
	m.Tick(context.Background(), now, "NFO", func(types.Trade) float64 { return 999 })

	g := m.PortfolioGreeks(context.Background(), "NFO")
	assert.InDelta(t, 0.5*100+(-0.4)*50, g.NetDelta, 0.001)
	assert.InDelta(t, 5.0*100+4.0*50, g.NetVega, 0.001)
}
