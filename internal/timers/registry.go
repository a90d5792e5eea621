// Package timers owns delayed and recurring actions on behalf of a single owner.
//
// Handles never leave the registry's bookkeeping: callers schedule work and
// later cancel everything at once. CancelAll is total. A callback the clock
// already dequeued but has not run yet turns into a no-op, because every
// callback re-checks its generation under the registry lock before running.
package timers

import (
	"errors"
	"sort"
	"sync"
	"time"

	"isswatch/internal/clock"
	logx "isswatch/pkg/logx"
)

var (
	ErrRecurringActive = errors.New("timers: recurring action already active")
	ErrInvalidInterval = errors.New("timers: interval must be > 0")
)

// Handle identifies a scheduled action inside one Registry.
type Handle uint64

type entry struct {
	h     Handle
	delay time.Duration
	t     clock.Timer
}

// Registry holds the pending one-shot actions and at most one recurring action.
// It is safe for concurrent use.
type Registry struct {
	clk clock.Clock
	log logx.Logger

	mu        sync.Mutex
	gen       uint64
	seq       uint64
	oneShots  map[Handle]*entry
	recurring *entry
}

func New(clk clock.Clock, log logx.Logger) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{clk: clk, log: log, oneShots: map[Handle]*entry{}}
}

// Schedule runs action once after delay. Negative delays are clamped to zero.
func (r *Registry) Schedule(delay time.Duration, action func()) Handle {
	if delay < 0 {
		delay = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	h := Handle(r.seq)
	gen := r.gen
	e := &entry{h: h, delay: delay}
	r.oneShots[h] = e
	e.t = r.clk.AfterFunc(delay, func() { r.fireOnce(h, gen, action) })

	r.log.Debug("one-shot scheduled", logx.Uint64("handle", uint64(h)), logx.Duration("delay", delay))
	return h
}

func (r *Registry) fireOnce(h Handle, gen uint64, action func()) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	if _, ok := r.oneShots[h]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.oneShots, h)
	r.mu.Unlock()

	action()
}

// ScheduleRecurring runs action every interval until CancelAll.
// Only one recurring action may be active at a time.
func (r *Registry) ScheduleRecurring(interval time.Duration, action func()) (Handle, error) {
	if interval <= 0 {
		return 0, ErrInvalidInterval
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recurring != nil {
		return 0, ErrRecurringActive
	}

	r.seq++
	h := Handle(r.seq)
	e := &entry{h: h, delay: interval}
	r.recurring = e
	r.armRecurringLocked(e, r.gen, action)

	r.log.Debug("recurring scheduled", logx.Uint64("handle", uint64(h)), logx.Duration("interval", interval))
	return h, nil
}

func (r *Registry) armRecurringLocked(e *entry, gen uint64, action func()) {
	e.t = r.clk.AfterFunc(e.delay, func() {
		r.mu.Lock()
		if gen != r.gen || r.recurring != e {
			r.mu.Unlock()
			return
		}
		// Re-arm before running so a slow action doesn't shift the cadence.
		r.armRecurringLocked(e, gen, action)
		r.mu.Unlock()

		action()
	})
}

// CancelAll stops every one-shot and the recurring action. Idempotent.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	n := len(r.oneShots)
	for h, e := range r.oneShots {
		if e.t != nil {
			e.t.Stop()
		}
		delete(r.oneShots, h)
	}
	hadRecurring := r.recurring != nil
	if r.recurring != nil {
		if r.recurring.t != nil {
			r.recurring.t.Stop()
		}
		r.recurring = nil
	}
	if n > 0 || hadRecurring {
		r.log.Debug("timers cancelled", logx.Int("one_shots", n), logx.Bool("recurring", hadRecurring))
	}
}

// Pending returns the number of one-shot actions that have not fired yet.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.oneShots)
}

// Recurring reports whether a recurring action is active.
func (r *Registry) Recurring() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recurring != nil
}

// Delays returns the delays of pending one-shots in ascending order.
func (r *Registry) Delays() []time.Duration {
	r.mu.Lock()
	out := make([]time.Duration, 0, len(r.oneShots))
	for _, e := range r.oneShots {
		out = append(out, e.delay)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
