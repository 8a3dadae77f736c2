// Package execution implements C6: the order-execution state machine,
// position sizing, trailing-stop advance, and the automatic-pause safety
// net of §4.6. Grounded on the teacher's trading-loop package for the
// transaction-scoped writes and zerolog conventions, generalized from its
// single-strategy dispatch to this spec's propose/confirm/execute_paper
// operation split.
package execution

import "sync"

// Gate is the Design Note "Global mutable state" narrow interface: the only
// process-wide mutable counters the system needs (real-mode slot
// consumption and the real-trading pause flag), wrapped so nothing outside
// this package can read or mutate them except through try_acquire/release.
type Gate struct {
	mu          sync.Mutex
	totalSlots  int
	usedSlots   int
	paused      bool
	pauseReason string
}

// NewGate builds a gate with the given total real-mode slot budget.
func NewGate(totalSlots int) *Gate {
	return &Gate{totalSlots: totalSlots}
}

// RemainingRealSlots reports how many real-mode slots are free. Read-only;
// satisfies opportunities.RealSlotGate.
func (g *Gate) RemainingRealSlots() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalSlots - g.usedSlots
}

// TryAcquireRealSlot claims one real-mode slot, returning false if none are
// free or trading is paused. Must be called inside the same transaction
// that creates the real Trade, per §4.6's confirm step, so a failed
// downstream write can be rolled back without leaking the slot.
func (g *Gate) TryAcquireRealSlot() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused || g.usedSlots >= g.totalSlots {
		return false
	}
	g.usedSlots++
	return true
}

// ReleaseRealSlot returns a slot to the pool, called when a real Trade
// reaches a terminal position_status or when confirm's transaction rolls back.
func (g *Gate) ReleaseRealSlot() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.usedSlots > 0 {
		g.usedSlots--
	}
}

// Pause stops new real-mode confirmations; existing positions continue to
// be tracked and can still be closed. §4.6's automatic-pause triggers and
// §7's Internal-error safe-mode both funnel through this one call.
func (g *Gate) Pause(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
	g.pauseReason = reason
}

// Resume clears a pause. Pauses do not expire and no scheduler job calls
// Resume; nothing in this package calls it either: resuming after a
// loss-triggered pause is a deliberate operator act.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
	g.pauseReason = ""
}

// IsPaused reports the current pause state and its reason, if any.
func (g *Gate) IsPaused() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused, g.pauseReason
}
