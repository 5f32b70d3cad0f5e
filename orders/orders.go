// Package orders implements the Order Manager (spec §4.10): a thin,
// idempotent wrapper around the broker seam. It never resubmits on
// failure — retries are the caller's decision — and it creates no Trade
// when the broker's response is not validated.
package orders

import (
	"context"
	"fmt"
	"time"

	"scalper/broker"
	"scalper/types"
)

// Manager submits entry (BUY) and exit (SELL) orders through the broker
// seam. It places no separate stop-loss order: a trade's hard stop is the
// Smart Exit Engine's HARD_SL trigger, closed through SubmitExit. Grounded
// on trader/alpaca_trader.go's order-submission methods and
// trader/auto_trader.go's smart limit-pricing-with-market-fallback idea
// (adapted here from equities VWAP+/-ATR to options LTP+/-spread).
type Manager struct {
	gw         broker.Gateway
	exchange   string
	product    broker.Product
}

// NewManager builds an order Manager bound to one Gateway.
func NewManager(gw broker.Gateway, exchange string, product broker.Product) *Manager {
	return &Manager{gw: gw, exchange: exchange, product: product}
}

// PlacedOrder is a validated order acknowledgement.
type PlacedOrder struct {
	OrderID string
}

// Result is orders.Manager's typed outcome, replacing exception-driven
// control flow (spec §9): every call site inspects OK before using Order.
type Result struct {
	OK    bool
	Order PlacedOrder
	Err   error
}

// SubmitEntry places a BUY order for the option symbol at the given price
// and quantity. The response is validated against a non-empty order id and
// status=="success"; any other shape is a failed placement, and no Trade
// may be created from it.
func (m *Manager) SubmitEntry(ctx context.Context, symbol string, price float64, quantity int) Result {
	resp, err := m.gw.PlaceOrder(ctx, m.exchange, symbol, broker.Buy, broker.Limit, price, quantity, m.product)
	if err != nil {
		return Result{OK: false, Err: fmt.Errorf("place entry order: %w", err)}
	}
	if resp.OrderID == "" || resp.Status != "success" {
		return Result{OK: false, Err: fmt.Errorf("broker rejected entry: status=%q message=%q", resp.Status, resp.Message)}
	}
	return Result{OK: true, Order: PlacedOrder{OrderID: resp.OrderID}}
}

// SubmitExit places a SELL order to close (or partially close) a Trade.
func (m *Manager) SubmitExit(ctx context.Context, symbol string, price float64, quantity int) Result {
	resp, err := m.gw.PlaceOrder(ctx, m.exchange, symbol, broker.Sell, broker.Limit, price, quantity, m.product)
	if err != nil {
		return Result{OK: false, Err: fmt.Errorf("place exit order: %w", err)}
	}
	if resp.OrderID == "" || resp.Status != "success" {
		return Result{OK: false, Err: fmt.Errorf("broker rejected exit: status=%q message=%q", resp.Status, resp.Message)}
	}
	return Result{OK: true, Order: PlacedOrder{OrderID: resp.OrderID}}
}

// SmartLimitPrice nudges the limit price a quarter of the spread above mid
// so the order is likely to fill quickly without crossing the full spread.
// On a zero or negative spread it returns the mid; wide spreads get no
// separate handling.
func SmartLimitPrice(optionType types.OptionType, bid, ask float64) float64 {
	mid := (bid + ask) / 2
	spread := ask - bid
	if spread <= 0 {
		return mid
	}
	switch optionType {
	case types.CallOption:
		return mid + spread*0.25 // bias toward ask for a BUY
	default:
		return mid + spread*0.25
	}
}

// BuildOrderContext derives the broker symbol for one leg, thin pass-through
// kept here so callers don't reach into broker directly.
func BuildOrderContext(gw broker.Gateway, underlying string, expiry time.Time, strike float64, optionType types.OptionType) string {
	return gw.BuildOptionSymbol(underlying, expiry, strike, optionType)
}
