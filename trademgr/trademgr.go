// Package trademgr implements the Trade Manager (spec §4.11): owns the
// active-trade registry (exclusively; the Dashboard Aggregator only reads
// via atomic snapshot) and a bounded closed-trade history. Grounded on
// trader/auto_trader.go's position-tracking map + mutex pattern.
package trademgr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scalper/exitengine"
	"scalper/greeks"
	"scalper/orders"
	"scalper/types"
)

const closedHistoryLimit = 2000

// OutcomeRecorder is implemented by the Adaptive Controller; Trade Manager
// records every closed trade's outcome through this narrow interface
// instead of depending on the whole adaptive package.
type OutcomeRecorder interface {
	RecordOutcome(types.TradeFeatures)
}

// RiskRecorder is implemented by the Risk Manager.
type RiskRecorder interface {
	RecordTrade(pnl float64, won bool)
}

// ReversalContextFunc resolves the per-trade opposite-leg OI and exhaustion
// inputs the Smart Exit Engine's reversal/exhaustion family needs (spec §1).
// It reports ok=false when that data isn't available this tick (e.g. the
// opposite leg hasn't been quoted yet), in which case the tick's reversal/
// exhaustion check is skipped for that trade, same as a stale Greeks Cache
// snapshot skips the core nine triggers.
type ReversalContextFunc func(ctx context.Context, t types.Trade) (exitengine.ReversalInput, exitengine.ExhaustionInput, bool)

// Manager is the Trade Manager.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*types.Trade
	closed []types.Trade

	greeksCache *greeks.Cache
	exitEngine  *exitengine.Engine
	orderMgr    *orders.Manager
	adaptive    OutcomeRecorder
	riskMgr     RiskRecorder
	reversalCtx ReversalContextFunc
	log         zerolog.Logger
}

// NewManager builds a Manager wired to its collaborators. reversalCtx may be
// nil, in which case the reversal/exhaustion exit family is never checked.
func NewManager(gc *greeks.Cache, ee *exitengine.Engine, om *orders.Manager, adaptive OutcomeRecorder, risk RiskRecorder, reversalCtx ReversalContextFunc, log zerolog.Logger) *Manager {
	return &Manager{
		active:      make(map[string]*types.Trade),
		greeksCache: gc,
		exitEngine:  ee,
		orderMgr:    om,
		adaptive:    adaptive,
		riskMgr:     risk,
		reversalCtx: reversalCtx,
		log:         log,
	}
}

// Open registers a newly-placed Trade.
func (m *Manager) Open(t types.Trade) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = types.TradeActive
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[t.ID] = &t
}

// ActiveCount returns the number of open trades.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Snapshot returns a copy-on-read list of active trades, safe for the
// Dashboard Aggregator to read without touching the live map.
func (m *Manager) Snapshot() []types.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Trade, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, *t)
	}
	return out
}

// ClosedHistory returns up to limit most-recent closed trades.
func (m *Manager) ClosedHistory(limit int) []types.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.closed) {
		limit = len(m.closed)
	}
	out := make([]types.Trade, limit)
	copy(out, m.closed[len(m.closed)-limit:])
	return out
}

// UpdateResult is what Tick returns for one trade, including whether it
// closed this tick (fully or partially). Trade is only populated when
// Closed is true, so the caller can journal/persist it without a second
// lookup.
type UpdateResult struct {
	TradeID     string
	Closed      bool
	PartialExit bool
	Snapshot    exitengine.Snapshot
	Trade       types.Trade
}

// Tick updates every active trade's current_* fields from the Greeks
// Cache, asks the Smart Exit Engine whether to exit, and executes exits
// through the Order Manager. Stale snapshots skip the update for that
// trade this tick (spec §4.11 step 1).
func (m *Manager) Tick(ctx context.Context, now time.Time, exchange string, minutesToExpiry func(types.Trade) float64) []UpdateResult {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var results []UpdateResult
	for _, id := range ids {
		m.mu.RLock()
		t, ok := m.active[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		symbol := t.Underlying // symbology resolution happens at the broker seam
		snap, ok := m.greeksCache.Get(ctx, symbol, exchange, false)
		if !ok || snap == nil {
			continue // stale/failed: skip this trade this tick, never retried in-line
		}

		m.mu.Lock()
		t.CurrentPrice = snap.LTP
		t.CurrentDelta = snap.Delta
		t.CurrentGamma = snap.Gamma
		t.CurrentTheta = snap.Theta
		t.CurrentIV = snap.IV
		m.mu.Unlock()

		exitSnap := m.exitEngine.Check(t, now, minutesToExpiry(*t))
		if exitSnap.Trigger == exitengine.NoExit && m.reversalCtx != nil {
			if rev, exh, ok := m.reversalCtx(ctx, *t); ok {
				exitSnap = m.exitEngine.CheckReversalExhaustion(rev, exh, t.CurrentPrice, now)
			}
		}
		if exitSnap.Trigger == exitengine.NoExit {
			continue
		}

		if exitSnap.PartialExit {
			m.applyPartialExit(ctx, t, exitSnap, exchange)
			results = append(results, UpdateResult{TradeID: id, PartialExit: true, Snapshot: exitSnap})
			continue
		}

		closed, ok := m.closeTrade(ctx, t, exitSnap, exchange)
		if !ok {
			continue
		}
		results = append(results, UpdateResult{TradeID: id, Closed: true, Snapshot: exitSnap, Trade: closed})
	}
	return results
}

func (m *Manager) applyPartialExit(ctx context.Context, t *types.Trade, snap exitengine.Snapshot, exchange string) {
	res := m.orderMgr.SubmitExit(ctx, t.Underlying, snap.ExitPrice, snap.QtyExited)
	if !res.OK {
		m.log.Error().Err(res.Err).Str("trade_id", t.ID).Msg("partial exit order failed")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t.Quantity = snap.QtyRemaining
	t.Partials = append(t.Partials, types.PartialExit{Time: snap.ExitTime, Qty: snap.QtyExited, Price: snap.ExitPrice})
}

func (m *Manager) closeTrade(ctx context.Context, t *types.Trade, snap exitengine.Snapshot, exchange string) (types.Trade, bool) {
	res := m.orderMgr.SubmitExit(ctx, t.Underlying, snap.ExitPrice, t.Quantity)
	if !res.OK {
		m.log.Error().Err(res.Err).Str("trade_id", t.ID).Msg("exit order failed")
		return types.Trade{}, false
	}

	m.mu.Lock()
	exitPrice := snap.ExitPrice
	exitTime := snap.ExitTime
	t.ExitPrice = &exitPrice
	t.ExitTime = &exitTime
	t.ExitReason = string(snap.Trigger)
	t.ExitReasonTags = append(t.ExitReasonTags, string(snap.Trigger))
	t.Status = types.TradeClosed
	t.PnL = pnl(t)

	delete(m.active, t.ID)
	closed := *t
	m.closed = append(m.closed, closed)
	if len(m.closed) > closedHistoryLimit {
		m.closed = m.closed[len(m.closed)-closedHistoryLimit:]
	}
	m.mu.Unlock()

	m.exitEngine.Cleanup(t.ID)

	won := t.PnL > 0
	if m.riskMgr != nil {
		m.riskMgr.RecordTrade(t.PnL, won)
	}
	if m.adaptive != nil {
		m.adaptive.RecordOutcome(toFeatures(closed, won))
	}
	return closed, true
}

// pnl computes the closed-form PnL: (exit-entry) x signed_qty - fees. Fees
// are zero in this implementation (broker seam is out of scope, spec §1).
func pnl(t *types.Trade) float64 {
	if t.ExitPrice == nil {
		return 0
	}
	signed := float64(t.Quantity)
	if t.OptionType == types.PutOption {
		signed = -signed
	}
	return (*t.ExitPrice - t.EntryPrice) * signed
}

func toFeatures(t types.Trade, won bool) types.TradeFeatures {
	holding := 0.0
	if t.ExitTime != nil {
		holding = t.ExitTime.Sub(t.EntryTime).Minutes()
	}
	return types.TradeFeatures{
		Tuple:          t.Tuple,
		EntryDelta:     t.EntryDelta,
		EntryTheta:     t.EntryTheta,
		EntryGamma:     t.EntryGamma,
		ExitReason:     t.ExitReason,
		HoldingMinutes: holding,
		Won:            won,
		PnL:            t.PnL,
		Timestamp:      t.EntryTime,
	}
}

// CloseAll force-closes every active trade at its last known current_price
// with the given exit reason, used for shutdown and kill-switch exits
// where the Smart Exit Engine's triggers are bypassed.
func (m *Manager) CloseAll(ctx context.Context, exchange, reason string, now time.Time) []types.Trade {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var closedTrades []types.Trade
	for _, id := range ids {
		m.mu.RLock()
		t, ok := m.active[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		snap := exitengine.Snapshot{
			Trigger:   exitengine.Trigger(reason),
			ExitPrice: t.CurrentPrice,
			ExitTime:  now,
		}
		closed, ok := m.closeTrade(ctx, t, snap, exchange)
		if ok {
			closedTrades = append(closedTrades, closed)
		}
	}
	return closedTrades
}

// PortfolioGreeks aggregates Greeks across every active trade. Unlike the
// source's known-wrong entry_iv*quantity vega proxy (spec §9 open question
// 4), this sums current_vega (from the Greeks Cache) x quantity.
func (m *Manager) PortfolioGreeks(ctx context.Context, exchange string) types.PortfolioGreeks {
	m.mu.RLock()
	trades := make([]types.Trade, 0, len(m.active))
	for _, t := range m.active {
		trades = append(trades, *t)
	}
	m.mu.RUnlock()

	var g types.PortfolioGreeks
	for _, t := range trades {
		qty := float64(t.Quantity)
		delta := t.CurrentDelta
		g.NetDelta += delta * qty
		g.NetGamma += t.CurrentGamma * qty
		g.NetTheta += t.CurrentTheta * qty
		g.GrossDelta += absf(delta) * qty

		if snap, ok := m.greeksCache.Get(ctx, t.Underlying, exchange, false); ok && snap != nil {
			g.NetVega += snap.Vega * qty
		}
	}
	return g
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
