// Package broker is the Market Data Gateway + broker seam (spec §4.1,
// §6.1): an external collaborator boundary. The production implementation
// is an HTTP/websocket client grounded on trader/alpaca_trader.go's
// doRequest/header-auth/bounded-timeout pattern (5s per call here); Demo
// backs DEMO_MODE.
package broker

import (
	"context"
	"time"

	"scalper/types"
)

// Action is an order side.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// OrderType distinguishes market vs limit orders.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// Product distinguishes intraday vs carry-forward margin products.
type Product string

const (
	MIS  Product = "MIS"
	NRML Product = "NRML"
)

// OrderResponse is the broker's reply to place_order.
type OrderResponse struct {
	Status  string
	OrderID string
	Message string
}

// OrderStatus is the broker's reply to get_order_status.
type OrderStatus struct {
	Status string
}

// LTP is a timestamped underlying price.
type LTP struct {
	Price     float64
	Timestamp time.Time
}

// Gateway is the broker seam every consumer depends on (spec §4.1, §6.1).
// The freshness policy itself lives in the tick-consuming components, not
// here — Gateway only ever returns what the broker actually reported.
type Gateway interface {
	Login(ctx context.Context) (bool, error)
	IsAuthenticated() bool
	StartAutoRefresh(ctx context.Context)
	StopAutoRefresh()

	Connect(ctx context.Context) error
	SubscribeLTP(ctx context.Context, instruments []string) (<-chan types.Tick, error)
	GetLTPWithTimestamp(ctx context.Context, underlying string) (LTP, error)
	GetOptionQuote(ctx context.Context, symbol, exchange string) (types.GreeksSnapshot, error)

	PlaceOrder(ctx context.Context, exchange, symbol string, action Action, orderType OrderType, price float64, quantity int, product Product) (OrderResponse, error)
	CancelOrder(ctx context.Context, id string) (OrderStatus, error)
	GetOrderStatus(ctx context.Context, id string) (OrderStatus, error)

	BuildOptionSymbol(underlying string, expiry time.Time, strike float64, optionType types.OptionType) string
	GetNearestWeeklyExpiry(ctx context.Context, underlying string) (time.Time, error)
}
