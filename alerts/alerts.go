// Package alerts implements the Alert Bus (spec §4.13): asynchronous,
// multi-sink delivery with history + stats. Duck-typed handlers become a
// capability interface (spec §9); busy-wait polling becomes a blocking
// channel the dispatcher wakes on.
package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"scalper/types"
)

// Handler is the capability every alert sink implements.
type Handler interface {
	Handle(a types.Alert) bool
	Name() string
}

const defaultHistoryLimit = 1000

// Bus is the Alert Bus: one dispatcher goroutine draining a buffered queue
// of 4096 alerts, fanning out to every registered Handler. The queue is
// bounded: an alert sent while it is full is written to history only and
// is not delivered to any handler.
type Bus struct {
	mu           sync.Mutex
	handlers     []Handler
	history      []types.Alert
	historyLimit int
	alertsSent   int
	alertsFailed int

	queue  chan types.Alert
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBus builds a Bus with the default 1000-entry history ring.
func NewBus() *Bus {
	return &Bus{
		historyLimit: defaultHistoryLimit,
		queue:        make(chan types.Alert, 4096),
		stopCh:       make(chan struct{}),
	}
}

// Register adds a Handler. Not safe to call after Start.
func (b *Bus) Register(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Start launches the single dispatcher goroutine.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.dispatchLoop()
}

// Stop signals the dispatcher to drain and exit, then waits for it.
func (b *Bus) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

// SendAlert enqueues an alert (sync=false, the default) or delivers it
// synchronously (sync=true) before returning, and always returns the
// assigned id.
func (b *Bus) SendAlert(severity types.AlertSeverity, kind, title, message string, details map[string]interface{}, sync bool) string {
	a := types.Alert{
		ID:       uuid.NewString(),
		Ts:       time.Now(),
		Severity: severity,
		Kind:     kind,
		Title:    title,
		Message:  message,
		Details:  details,
	}
	if sync {
		b.deliver(a)
		return a.ID
	}
	select {
	case b.queue <- a:
	default:
		// A full buffered channel means producers are badly outrunning the
		// dispatcher. Record the alert into history directly so it is never
		// silently lost; the configured handlers never see it.
		b.mu.Lock()
		b.appendHistoryLocked(a)
		b.mu.Unlock()
	}
	return a.ID
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			// Never let the dispatcher die silently (spec §9).
		}
	}()
	for {
		select {
		case a := <-b.queue:
			b.deliver(a)
		case <-b.stopCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case a := <-b.queue:
					b.deliver(a)
				default:
					return
				}
			}
		}
	}
}

// deliver fans an alert out to every handler; a failing handler increments
// alerts_failed but never drops the alert from history, and never stops
// the pipeline for its siblings.
func (b *Bus) deliver(a types.Alert) {
	anyFailed := false
	for _, h := range b.handlers {
		ok := func() (ok bool) {
			defer func() {
				if r := recover(); r != nil {
					ok = false
				}
			}()
			return h.Handle(a)
		}()
		if !ok {
			anyFailed = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.alertsSent++
	if anyFailed {
		b.alertsFailed++
	}
	b.appendHistoryLocked(a)
}

func (b *Bus) appendHistoryLocked(a types.Alert) {
	b.history = append(b.history, a)
	if len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
}

// Stats is the Alert Bus's reportable counters.
type Stats struct {
	AlertsSent   int
	AlertsFailed int
	QueueSize    int
	HistorySize  int
}

// Stats returns a copy of the current counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		AlertsSent:   b.alertsSent,
		AlertsFailed: b.alertsFailed,
		QueueSize:    len(b.queue),
		HistorySize:  len(b.history),
	}
}

// History returns up to limit most-recent alerts, newest last.
func (b *Bus) History(limit int) []types.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]types.Alert, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}
