package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper/broker"
	"scalper/types"
)

func TestSubmitEntry_ReturnsOKOnSuccessfulPlacement(t *testing.T) {
	demo := broker.NewDemo()
	m := NewManager(demo, "NFO", broker.MIS)

	res := m.SubmitEntry(context.Background(), "NIFTY24000CE", 100, 150)
	require.True(t, res.OK)
	assert.NotEmpty(t, res.Order.OrderID)
	assert.NoError(t, res.Err)
}

func TestSubmitExit_ReturnsOKOnSuccessfulPlacement(t *testing.T) {
	demo := broker.NewDemo()
	m := NewManager(demo, "NFO", broker.MIS)

	res := m.SubmitExit(context.Background(), "NIFTY24000CE", 110, 150)
	require.True(t, res.OK)
	assert.NotEmpty(t, res.Order.OrderID)
}

func TestSmartLimitPrice_NudgesTowardAskWithinSpread(t *testing.T) {
	price := SmartLimitPrice(types.CallOption, 99, 101)
	assert.InDelta(t, 100.5, price, 0.001)
}

func TestSmartLimitPrice_FallsBackToMidOnZeroSpread(t *testing.T) {
	price := SmartLimitPrice(types.CallOption, 100, 100)
	assert.Equal(t, 100.0, price)
}

func TestBuildOrderContext_DelegatesToGateway(t *testing.T) {
	demo := broker.NewDemo()
	expiry := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	symbol := BuildOrderContext(demo, "NIFTY", expiry, 24000, types.CallOption)
	assert.Contains(t, symbol, "NIFTY")
}
