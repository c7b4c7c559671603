package execution

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrOrderInFlight is returned when a submission is already outstanding.
var ErrOrderInFlight = errors.New("order submission already in flight")

// Guard allows one submission at a time and remembers an order whose outcome
// is unknown so it is looked up before anything new is sent.
type Guard struct {
	inFlight atomic.Bool

	mu      sync.Mutex
	pending *OrderRequest
}

// Acquire claims the submission slot.
func (g *Guard) Acquire() error {
	if !g.inFlight.CompareAndSwap(false, true) {
		return ErrOrderInFlight
	}
	return nil
}

// Release frees the submission slot.
func (g *Guard) Release() { g.inFlight.Store(false) }

// Pending returns the unresolved order, if any.
func (g *Guard) Pending() (OrderRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return OrderRequest{}, false
	}
	return *g.pending, true
}

// MarkPending records an order whose submission outcome is unknown.
func (g *Guard) MarkPending(req OrderRequest) {
	g.mu.Lock()
	g.pending = &req
	g.mu.Unlock()
}

// ClearPending forgets the unresolved order.
func (g *Guard) ClearPending() {
	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()
}
