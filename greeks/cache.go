// Package greeks implements the Greeks Cache (spec §4.2): at-most-one
// in-flight refresh per symbol, current+previous snapshots, bounded
// rolling history, and a background refresh worker that never blocks the
// main tick loop. Grounded on trader/vwap_collector.go's per-struct
// sync.RWMutex + rolling-slice pattern.
package greeks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scalper/broker"
	"scalper/types"
)

const rollingHistoryLimit = 100

// entry is the per-symbol cache slot.
type entry struct {
	mu          sync.Mutex // at-most-one in-flight refresh per symbol
	current     *types.GreeksSnapshot
	previous    *types.GreeksSnapshot
	history     []types.GreeksSnapshot
	lastRefresh time.Time
	apiErrors   int
	tracked     bool
}

// Cache is the Greeks Cache.
type Cache struct {
	gw              broker.Gateway
	exchange        string
	refreshInterval time.Duration
	log             zerolog.Logger

	mu      sync.RWMutex // guards the symbol map itself, not per-symbol state
	entries map[string]*entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCache builds a Cache bound to one Gateway.
func NewCache(gw broker.Gateway, exchange string, refreshInterval time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		gw:              gw,
		exchange:        exchange,
		refreshInterval: refreshInterval,
		log:             log,
		entries:         make(map[string]*entry),
		stopCh:          make(chan struct{}),
	}
}

func (c *Cache) entryFor(symbol string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		e = &entry{}
		c.entries[symbol] = e
	}
	return e
}

// Track adds symbol to the background-refresh set.
func (c *Cache) Track(symbol string) {
	e := c.entryFor(symbol)
	e.mu.Lock()
	e.tracked = true
	e.mu.Unlock()
}

// Untrack removes symbol from the background-refresh set.
func (c *Cache) Untrack(symbol string) {
	c.mu.Lock()
	e, ok := c.entries[symbol]
	c.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.tracked = false
	e.mu.Unlock()
}

// Get returns the cached snapshot if newer than the refresh interval,
// unless forceRefresh is set; on a failed refresh it keeps the previous
// snapshot, increments api_errors, and returns (nil, false) — the caller
// must treat the trade as skippable this tick, not retryable in-line.
func (c *Cache) Get(ctx context.Context, symbol, exchange string, forceRefresh bool) (*types.GreeksSnapshot, bool) {
	e := c.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !forceRefresh && e.current != nil && time.Since(e.lastRefresh) < c.refreshInterval {
		snap := *e.current
		return &snap, true
	}

	snap, err := c.gw.GetOptionQuote(ctx, symbol, exchange)
	if err != nil {
		e.apiErrors++
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("greeks refresh failed, keeping previous snapshot")
		return nil, false
	}

	c.storeLocked(e, snap)
	snap2 := *e.current
	return &snap2, true
}

// storeLocked rotates current->previous and appends a copy to history.
// Caller must hold e.mu.
func (c *Cache) storeLocked(e *entry, snap types.GreeksSnapshot) {
	if e.current != nil {
		prevCopy := *e.current
		e.previous = &prevCopy
	}
	curCopy := snap
	e.current = &curCopy
	e.lastRefresh = time.Now()

	e.history = append(e.history, snap)
	if len(e.history) > rollingHistoryLimit {
		e.history = e.history[len(e.history)-rollingHistoryLimit:]
	}
}

// Rolling returns (current, previous); called twice in succession without
// an intervening refresh it returns identical pairs by value.
func (c *Cache) Rolling(symbol string) (current, previous *types.GreeksSnapshot) {
	e := c.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		cur := *e.current
		current = &cur
	}
	if e.previous != nil {
		prev := *e.previous
		previous = &prev
	}
	return
}

// APIErrors reports the refresh-failure count for a symbol.
func (c *Cache) APIErrors(symbol string) int {
	e := c.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apiErrors
}

// StartBackgroundRefresh launches the single worker that iterates tracked
// symbols at refreshInterval cadence. A refresh never blocks the main tick
// loop because it runs entirely on this goroutine.
func (c *Cache) StartBackgroundRefresh(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("greeks refresh worker recovered")
			}
		}()
		ticker := time.NewTicker(c.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.refreshTrackedOnce(ctx)
			}
		}
	}()
}

func (c *Cache) refreshTrackedOnce(ctx context.Context) {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.entries))
	for sym, e := range c.entries {
		e.mu.Lock()
		if e.tracked {
			symbols = append(symbols, sym)
		}
		e.mu.Unlock()
	}
	c.mu.RUnlock()

	for _, sym := range symbols {
		c.Get(ctx, sym, c.exchange, true)
	}
}

// StopBackgroundRefresh stops the worker and waits for it to exit.
func (c *Cache) StopBackgroundRefresh() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
}
