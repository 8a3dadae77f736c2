package marketdata

import (
	"fmt"
	"sync"
	"time"
)

// dedupWindow drops repeated (event_id, symbol, event_time) tuples within a
// sliding window, §4.3's duplicate-event guarantee.
type dedupWindow struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newDedupWindow(window time.Duration) *dedupWindow {
	return &dedupWindow{window: window, seen: make(map[string]time.Time)}
}

// SeenBefore reports whether this tuple was already observed within the
// window, and records it either way. Expired entries are pruned lazily on
// each call rather than on a separate ticker.
func (d *dedupWindow) SeenBefore(eventID, symbol string, eventTime int64) bool {
	if eventID == "" {
		return false // nothing to dedup on; let it through
	}
	key := fmt.Sprintf("%s|%s|%d", eventID, symbol, eventTime)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, t := range d.seen {
		if now.Sub(t) > d.window {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
