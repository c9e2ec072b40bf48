package detect

import (
	"fmt"
	"time"

	"github.com/1sec-project/casewatch/internal/core"
)

// window is a time-bounded FIFO of events for a single key.
type window struct {
	events []core.Event
}

// push appends e and evicts every event older than span relative to e.
// An event exactly span old is retained.
func (w *window) push(e core.Event, span time.Duration) {
	w.events = append(w.events, e)
	cutoff := e.Time.Add(-span)
	for len(w.events) > 0 && w.events[0].Time.Before(cutoff) {
		w.events = w.events[1:]
	}
}

func (w *window) len() int { return len(w.events) }

func (w *window) start() time.Time { return w.events[0].Time }

// snapshot copies the window so alerts never alias detector state.
func (w *window) snapshot() []core.Event {
	out := make([]core.Event, len(w.events))
	copy(out, w.events)
	return out
}

// windowSet lazily creates one window per key.
type windowSet map[string]*window

func (s windowSet) get(key string) *window {
	w, ok := s[key]
	if !ok {
		w = &window{}
		s[key] = w
	}
	return w
}

type cooldownKey struct {
	entity string
	signal core.Signal
}

// Cooldown remembers when each (entity, signal) pair last fired.
type Cooldown struct {
	period time.Duration
	last   map[cooldownKey]time.Time
}

// NewCooldown returns a tracker that allows a pair to fire again only after
// strictly more than period has passed.
func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{period: period, last: make(map[cooldownKey]time.Time)}
}

// Ready reports whether sig may fire for entity at t.
func (c *Cooldown) Ready(entity string, sig core.Signal, t time.Time) bool {
	last, ok := c.last[cooldownKey{entity, sig}]
	return !ok || t.Sub(last) > c.period
}

// Fire records that sig fired for entity at t.
func (c *Cooldown) Fire(entity string, sig core.Signal, t time.Time) {
	c.last[cooldownKey{entity, sig}] = t
}

// orderGuard rejects events whose timestamp goes backwards.
type orderGuard struct {
	last time.Time
	seen bool
}

func (g *orderGuard) check(e core.Event) error {
	if g.seen && e.Time.Before(g.last) {
		return fmt.Errorf("%w: %s after %s", core.ErrOutOfOrder,
			e.Time.Format(time.RFC3339Nano), g.last.Format(time.RFC3339Nano))
	}
	g.last = e.Time
	g.seen = true
	return nil
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
