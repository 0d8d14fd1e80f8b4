// Package governor enforces the brokerage's multi-window rate limits.
package governor

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Window is one of the three concurrent rate-limit windows.
type Window struct {
	Name string
	Span time.Duration
	Cap  int
}

// Config is the set of windows the Governor enforces. Callers supply the
// windows; the spec's own defaults (1s/5, 1m/~80-100, 1h/~1200-1500) live
// in internal/config, not here, so either regime from the Open Question
// in the design notes can be selected without code changes.
type Config struct {
	Windows []Window
}

type ticket struct {
	ready chan struct{}
}

// Governor is a process-wide singleton: construct once at service init,
// pass by reference to every caller, never reconstruct mid-process.
type Governor struct {
	mu      sync.Mutex
	windows []windowState
	waiters *list.List // FIFO of *ticket
	log     zerolog.Logger
}

type windowState struct {
	name string
	span time.Duration
	cap  int
	hits *list.List // timestamps, oldest first
}

// New constructs a Governor from cfg. Call once; share the pointer.
func New(cfg Config, log zerolog.Logger) *Governor {
	g := &Governor{
		waiters: list.New(),
		log:     log.With().Str("component", "governor").Logger(),
	}
	for _, w := range cfg.Windows {
		g.windows = append(g.windows, windowState{
			name: w.Name,
			span: w.Span,
			cap:  w.Cap,
			hits: list.New(),
		})
	}
	return g
}

// Acquire blocks until a slot is available in every configured window,
// then records the acquisition. FIFO fairness is enforced among waiters:
// a caller never jumps ahead of one that started waiting earlier.
func (g *Governor) Acquire(ctx context.Context) error {
	t := &ticket{ready: make(chan struct{})}

	g.mu.Lock()
	elem := g.waiters.PushBack(t)
	g.tryAdmitLocked()
	g.mu.Unlock()

	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		// Remove the ticket if it never got admitted.
		for e := g.waiters.Front(); e != nil; e = e.Next() {
			if e.Value.(*ticket) == t {
				g.waiters.Remove(e)
				break
			}
		}
		g.mu.Unlock()
		_ = elem
		return ctx.Err()
	}
}

// tryAdmitLocked admits the front waiter if slack exists in every window.
// Must be called with g.mu held. Re-invoked on a timer because slack opens
// up as old hits age out of their windows even with no new Acquire calls.
func (g *Governor) tryAdmitLocked() {
	now := time.Now()
	for g.waiters.Len() > 0 {
		if !g.hasSlackLocked(now) {
			g.scheduleWakeLocked(now)
			return
		}
		front := g.waiters.Front()
		g.waiters.Remove(front)
		g.recordHitLocked(now)
		close(front.Value.(*ticket).ready)
	}
}

func (g *Governor) hasSlackLocked(now time.Time) bool {
	for i := range g.windows {
		w := &g.windows[i]
		pruneLocked(w, now)
		if w.hits.Len() >= w.cap {
			return false
		}
	}
	return true
}

func (g *Governor) recordHitLocked(now time.Time) {
	for i := range g.windows {
		g.windows[i].hits.PushBack(now)
	}
}

func pruneLocked(w *windowState, now time.Time) {
	cutoff := now.Add(-w.span)
	for e := w.hits.Front(); e != nil; {
		next := e.Next()
		if e.Value.(time.Time).Before(cutoff) {
			w.hits.Remove(e)
		} else {
			break
		}
		e = next
	}
}

// scheduleWakeLocked arranges a re-check once the tightest window's oldest
// hit will age out, so waiters are not stuck until the next Acquire call.
func (g *Governor) scheduleWakeLocked(now time.Time) {
	var soonest time.Duration = time.Hour
	found := false
	for i := range g.windows {
		w := &g.windows[i]
		if w.hits.Len() == 0 {
			continue
		}
		oldest := w.hits.Front().Value.(time.Time)
		wait := w.span - now.Sub(oldest)
		if wait < 0 {
			wait = 0
		}
		if !found || wait < soonest {
			soonest = wait
			found = true
		}
	}
	if !found {
		return
	}
	time.AfterFunc(soonest+time.Millisecond, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.tryAdmitLocked()
	})
}

// Stats reports the current hit count per window, for telemetry.
func (g *Governor) Stats() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	out := make(map[string]int, len(g.windows))
	for i := range g.windows {
		pruneLocked(&g.windows[i], now)
		out[g.windows[i].name] = g.windows[i].hits.Len()
	}
	return out
}
