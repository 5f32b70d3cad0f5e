package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"scalper/types"
)

func testCaps() Caps {
	return Caps{
		MaxDailyLossAmount: 5000,
		MaxTradesPerDay:    6,
		MaxNetDelta:        500,
		MaxNetGamma:        50,
		MaxNetTheta:        200,
		MaxNetVega:         300,
		MaxGrossDelta:      800,
	}
}

func TestCanTakeTrade_AllowsWithinCaps(t *testing.T) {
	m := NewManager(testCaps())
	allowed, reason := m.CanTakeTrade(types.PortfolioGreeks{NetDelta: 100, NetGamma: 10, NetTheta: 20, NetVega: 50, GrossDelta: 100}, time.Now())
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestCanTakeTrade_RejectsWhenKillSwitchActive(t *testing.T) {
	m := NewManager(testCaps())
	m.ActivateKillSwitch("test trip")
	allowed, reason := m.CanTakeTrade(types.PortfolioGreeks{}, time.Now())
	assert.False(t, allowed)
	assert.Equal(t, "Kill switch active", reason)
}

func TestCanTakeTrade_RejectsDuringCooldown(t *testing.T) {
	m := NewManager(testCaps())
	until := time.Now().Add(10 * time.Minute)
	m.mu.Lock()
	m.state.CooldownUntil = &until
	m.mu.Unlock()

	allowed, reason := m.CanTakeTrade(types.PortfolioGreeks{}, time.Now())
	assert.False(t, allowed)
	assert.Equal(t, "Cooldown in force", reason)
}

func TestCanTakeTrade_RejectsWhenDailyLossLimitReached(t *testing.T) {
	m := NewManager(testCaps())
	m.mu.Lock()
	m.state.DailyPnL = -5000
	m.mu.Unlock()

	allowed, reason := m.CanTakeTrade(types.PortfolioGreeks{}, time.Now())
	assert.False(t, allowed)
	assert.Equal(t, "Daily loss limit reached", reason)
}

func TestCanTakeTrade_RejectsWhenMaxTradesReached(t *testing.T) {
	m := NewManager(testCaps())
	m.mu.Lock()
	m.state.TradesToday = 6
	m.mu.Unlock()

	allowed, reason := m.CanTakeTrade(types.PortfolioGreeks{}, time.Now())
	assert.False(t, allowed)
	assert.Equal(t, "Max trades per day reached", reason)
}

func TestCanTakeTrade_RejectsEachGreekCapIndependently(t *testing.T) {
	cases := []struct {
		name     string
		proposed types.PortfolioGreeks
		reason   string
	}{
		{"net delta", types.PortfolioGreeks{NetDelta: 600}, "Net delta cap exceeded"},
		{"net gamma", types.PortfolioGreeks{NetGamma: 60}, "Net gamma cap exceeded"},
		{"net theta", types.PortfolioGreeks{NetTheta: 250}, "Net theta cap exceeded"},
		{"net vega", types.PortfolioGreeks{NetVega: 400}, "Net vega cap exceeded"},
		{"gross delta", types.PortfolioGreeks{GrossDelta: 900}, "Gross delta cap exceeded"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := NewManager(testCaps())
			allowed, reason := m.CanTakeTrade(c.proposed, time.Now())
			assert.False(t, allowed)
			assert.Equal(t, c.reason, reason)
		})
	}
}

func TestRecordTrade_UpdatesCountersAndStreak(t *testing.T) {
	m := NewManager(testCaps())
	m.RecordTrade(500, true)
	m.RecordTrade(-200, false)
	m.RecordTrade(-100, false)

	st := m.State()
	assert.Equal(t, 3, st.TradesToday)
	assert.Equal(t, 200.0, st.DailyPnL)
	assert.Equal(t, 2, st.ConsecutiveLosses)
}

func TestRecordTrade_TripsKillSwitchOnDailyLossBreach(t *testing.T) {
	m := NewManager(testCaps())
	m.RecordTrade(-5000, false)

	st := m.State()
	assert.True(t, st.KillSwitchActive)
	select {
	case reason := <-m.EmergencyExit():
		assert.Equal(t, "Daily loss limit reached", reason)
	default:
		t.Fatal("expected an emergency exit signal")
	}
}

func TestActivateKillSwitch_IsIdempotent(t *testing.T) {
	m := NewManager(testCaps())
	m.ActivateKillSwitch("first")
	m.ActivateKillSwitch("second")

	select {
	case reason := <-m.EmergencyExit():
		assert.Equal(t, "first", reason)
	default:
		t.Fatal("expected an emergency exit signal")
	}
	select {
	case reason := <-m.EmergencyExit():
		t.Fatalf("expected no second signal, got %q", reason)
	default:
	}
}

func TestResetSession_ClearsState(t *testing.T) {
	m := NewManager(testCaps())
	m.RecordTrade(-5000, false)
	m.ResetSession()

	st := m.State()
	assert.False(t, st.KillSwitchActive)
	assert.Equal(t, 0, st.TradesToday)
	assert.Equal(t, 0.0, st.DailyPnL)
}
