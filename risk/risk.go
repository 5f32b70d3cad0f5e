// Package risk implements the Risk Manager (spec §4.9): gates every order
// on daily P&L, trade count, portfolio-Greeks caps, the kill switch and
// cooldown. It never cancels in-flight orders itself; on kill-switch
// activation it only broadcasts an emergency-exit signal for the Trade
// Manager to act on (spec §5 point 5).
package risk

import (
	"sync"
	"time"

	"scalper/types"
)

// Caps holds the portfolio Greeks limits and daily thresholds, grounded
// on config.Risk / store/strategy.go's RiskControlConfig field naming.
type Caps struct {
	MaxDailyLossAmount float64
	MaxTradesPerDay    int
	MaxNetDelta        float64
	MaxNetGamma        float64
	MaxNetTheta        float64
	MaxNetVega         float64
	MaxGrossDelta      float64
}

// Manager owns the RiskState and the emergency-exit broadcast channel.
type Manager struct {
	mu    sync.Mutex
	caps  Caps
	state types.RiskState

	emergencyExit chan string
}

// NewManager returns a Manager with fresh per-session state.
func NewManager(caps Caps) *Manager {
	return &Manager{
		caps:          caps,
		emergencyExit: make(chan string, 1),
	}
}

// State returns a copy of the current RiskState.
func (m *Manager) State() types.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EmergencyExit is the broadcast channel the tick loop observes; a
// non-blocking send means at most one pending emergency reason queues.
func (m *Manager) EmergencyExit() <-chan string {
	return m.emergencyExit
}

// CanTakeTrade evaluates every §4.9 gate against the portfolio Greeks a
// proposed trade would produce, and returns (allowed, reason).
func (m *Manager) CanTakeTrade(proposed types.PortfolioGreeks, now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.KillSwitchActive {
		return false, "Kill switch active"
	}
	if m.state.CooldownUntil != nil && now.Before(*m.state.CooldownUntil) {
		return false, "Cooldown in force"
	}
	if m.state.DailyPnL <= -m.caps.MaxDailyLossAmount {
		return false, "Daily loss limit reached"
	}
	if m.state.TradesToday >= m.caps.MaxTradesPerDay {
		return false, "Max trades per day reached"
	}
	if m.caps.MaxNetDelta > 0 && absf(proposed.NetDelta) > m.caps.MaxNetDelta {
		return false, "Net delta cap exceeded"
	}
	if m.caps.MaxNetGamma > 0 && absf(proposed.NetGamma) > m.caps.MaxNetGamma {
		return false, "Net gamma cap exceeded"
	}
	if m.caps.MaxNetTheta > 0 && absf(proposed.NetTheta) > m.caps.MaxNetTheta {
		return false, "Net theta cap exceeded"
	}
	if m.caps.MaxNetVega > 0 && absf(proposed.NetVega) > m.caps.MaxNetVega {
		return false, "Net vega cap exceeded"
	}
	if m.caps.MaxGrossDelta > 0 && proposed.GrossDelta > m.caps.MaxGrossDelta {
		return false, "Gross delta cap exceeded"
	}
	return true, ""
}

// RecordTrade updates the monotonic per-session counters after a trade
// closes.
func (m *Manager) RecordTrade(pnl float64, won bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.TradesToday++
	m.state.DailyPnL += pnl
	if won {
		m.state.ConsecutiveLosses = 0
	} else {
		m.state.ConsecutiveLosses++
	}

	if m.state.DailyPnL <= -m.caps.MaxDailyLossAmount && !m.state.KillSwitchActive {
		m.activateKillSwitchLocked("Daily loss limit reached")
	}
}

// ActivateKillSwitch trips the kill switch for a given reason and
// broadcasts an emergency-exit signal. Idempotent.
func (m *Manager) ActivateKillSwitch(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activateKillSwitchLocked(reason)
}

func (m *Manager) activateKillSwitchLocked(reason string) {
	if m.state.KillSwitchActive {
		return
	}
	m.state.KillSwitchActive = true
	select {
	case m.emergencyExit <- reason:
	default:
	}
}

// ResetSession clears the per-day counters at session start.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = types.RiskState{}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
