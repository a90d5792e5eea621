package pass

import (
	"context"
	"errors"
	"fmt"
	"math"

	"isswatch/internal/timers"
	logx "isswatch/pkg/logx"
)

// startWatch begins polling for the end of the pass. At most one watcher runs
// per arm cycle.
func (s *Scheduler) startWatch(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.reg.Recurring() {
		s.mu.Unlock()
		return
	}
	_, err := s.reg.ScheduleRecurring(s.opts.WatchInterval, func() { s.onWatchTick(gen) })
	if err != nil && !errors.Is(err, timers.ErrRecurringActive) {
		s.stopLocked()
		s.mu.Unlock()
		s.report(err)
		return
	}
	s.phase = PhaseWatching
	s.watchTicks = 0
	s.inFlight = false
	s.mu.Unlock()

	s.log.Info("watching for end of pass",
		logx.Duration("interval", s.opts.WatchInterval),
		logx.Int("max_ticks", s.opts.MaxWatchTicks))
}

func (s *Scheduler) onWatchTick(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.phase != PhaseWatching {
		s.mu.Unlock()
		return
	}
	if s.inFlight {
		ticks := s.watchTicks
		s.mu.Unlock()
		s.log.Debug("watch poll still in flight; skipping tick")
		s.publish(EventWatchSkip, EventData{Tick: ticks})
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	s.spawn(func() { s.poll(gen) })
}

func (s *Scheduler) poll(gen uint64) {
	ctx := context.Background()
	if s.opts.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.PollTimeout)
		defer cancel()
	}
	minutes, err := s.src.Estimate(ctx)

	s.mu.Lock()
	if s.gen != gen || s.phase != PhaseWatching {
		// Cancelled or re-armed while polling; stopLocked already cleared inFlight.
		s.mu.Unlock()
		s.log.Debug("discarding stale watch poll")
		return
	}
	s.inFlight = false

	finite := err == nil && !math.IsNaN(minutes) && !math.IsInf(minutes, 0)
	if finite {
		s.last = minutes
		s.hasLast = true
		s.estimatedAt = s.opts.Clock.Now()
	}
	if finite && minutes > 0 {
		s.stopLocked()
		s.mu.Unlock()

		s.send(s.opts.Messages.OutOfRange)
		s.log.Info("pass ended", logx.Float64("next_minutes", minutes))
		s.publish(EventOutOfRange, EventData{Minutes: minutes})
		return
	}

	s.watchTicks++
	ticks := s.watchTicks
	expired := ticks >= s.opts.MaxWatchTicks
	if expired {
		s.stopLocked()
	}
	s.mu.Unlock()

	if err != nil {
		s.report(fmt.Errorf("watch poll: %w: %w", ErrEstimateUnavailable, err))
	}
	s.publish(EventWatchTick, EventData{Tick: ticks, Minutes: minutes})
	if expired {
		s.log.Info("watch bound reached", logx.Int("ticks", ticks))
		s.publish(EventWatchExpired, EventData{Tick: ticks})
	}
}
