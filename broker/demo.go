package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"scalper/types"
)

// Demo is an in-memory Gateway used when DEMO_MODE is set, so the
// orchestrator and dashboard can run end to end without a brokerage
// account. It accepts pre-seeded quotes and always reports fills.
type Demo struct {
	mu      sync.RWMutex
	quotes  map[string]types.GreeksSnapshot
	ltp     LTP
	orderID int64
}

// NewDemo returns an empty Demo gateway; Seed populates quotes.
func NewDemo() *Demo {
	return &Demo{quotes: make(map[string]types.GreeksSnapshot)}
}

// SeedQuote installs a GreeksSnapshot the Demo gateway will serve back.
func (d *Demo) SeedQuote(symbol string, snap types.GreeksSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quotes[symbol] = snap
}

// SeedLTP installs the underlying price the Demo gateway will serve back.
func (d *Demo) SeedLTP(ltp LTP) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ltp = ltp
}

func (d *Demo) Login(ctx context.Context) (bool, error)    { return true, nil }
func (d *Demo) IsAuthenticated() bool                       { return true }
func (d *Demo) StartAutoRefresh(ctx context.Context)         {}
func (d *Demo) StopAutoRefresh()                             {}
func (d *Demo) Connect(ctx context.Context) error            { return nil }

func (d *Demo) SubscribeLTP(ctx context.Context, instruments []string) (<-chan types.Tick, error) {
	out := make(chan types.Tick)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func (d *Demo) GetLTPWithTimestamp(ctx context.Context, underlying string) (LTP, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ltp, nil
}

func (d *Demo) GetOptionQuote(ctx context.Context, symbol, exchange string) (types.GreeksSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap, ok := d.quotes[symbol]
	if !ok {
		return types.GreeksSnapshot{}, fmt.Errorf("demo: no seeded quote for %s", symbol)
	}
	return snap, nil
}

func (d *Demo) PlaceOrder(ctx context.Context, exchange, symbol string, action Action, orderType OrderType, price float64, quantity int, product Product) (OrderResponse, error) {
	id := atomic.AddInt64(&d.orderID, 1)
	return OrderResponse{Status: "success", OrderID: fmt.Sprintf("DEMO-%d", id)}, nil
}

func (d *Demo) CancelOrder(ctx context.Context, id string) (OrderStatus, error) {
	return OrderStatus{Status: "cancelled"}, nil
}

func (d *Demo) GetOrderStatus(ctx context.Context, id string) (OrderStatus, error) {
	return OrderStatus{Status: "success"}, nil
}

func (d *Demo) BuildOptionSymbol(underlying string, expiry time.Time, strike float64, optionType types.OptionType) string {
	return fmt.Sprintf("%s-%s-%.0f-%s-%s", underlying, expiry.Format("020106"), strike, optionType, uuid.NewString()[:4])
}

func (d *Demo) GetNearestWeeklyExpiry(ctx context.Context, underlying string) (time.Time, error) {
	now := time.Now()
	daysUntilThu := (int(time.Thursday) - int(now.Weekday()) + 7) % 7
	return now.AddDate(0, 0, daysUntilThu), nil
}
