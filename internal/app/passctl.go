package app

import (
	"context"
	"sync"
	"time"

	"isswatch/internal/pass"
)

// passControl fronts the pass scheduler so scheduler options can change on
// reload. A new scheduler is only swapped in while the current one is idle
// and no Arm is running; otherwise the options wait in next.
type passControl struct {
	mu  sync.RWMutex
	cur *pass.Scheduler

	nextMu sync.Mutex
	next   *pass.Options

	build func(pass.Options) *pass.Scheduler
}

func newPassControl(opts pass.Options, build func(pass.Options) *pass.Scheduler) *passControl {
	return &passControl{cur: build(opts), build: build}
}

func (p *passControl) scheduler() *pass.Scheduler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur
}

func (p *passControl) Arm(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur.Arm(ctx)
}

func (p *passControl) Cancel()                        { p.scheduler().Cancel() }
func (p *passControl) State() pass.State              { return p.scheduler().State() }
func (p *passControl) PendingDelays() []time.Duration { return p.scheduler().PendingDelays() }

func (p *passControl) Refresh(ctx context.Context) (float64, error) {
	return p.scheduler().Refresh(ctx)
}

// stage records options for the next swap and tries it right away.
func (p *passControl) stage(opts pass.Options) bool {
	p.nextMu.Lock()
	p.next = &opts
	p.nextMu.Unlock()
	return p.trySwap()
}

// trySwap installs staged options when the scheduler is idle. It reports
// whether a swap happened.
func (p *passControl) trySwap() bool {
	if !p.mu.TryLock() {
		return false
	}
	defer p.mu.Unlock()
	p.nextMu.Lock()
	defer p.nextMu.Unlock()
	if p.next == nil || p.cur.State().Phase != pass.PhaseIdle {
		return false
	}
	p.cur = p.build(*p.next)
	p.next = nil
	return true
}

func (p *passControl) staged() bool {
	p.nextMu.Lock()
	defer p.nextMu.Unlock()
	return p.next != nil
}
