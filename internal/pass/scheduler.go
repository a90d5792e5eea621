package pass

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"isswatch/internal/eventbus"
	"isswatch/internal/timers"
	logx "isswatch/pkg/logx"
)

// Scheduler owns the schedule state of one observer session.
//
// All state lives behind mu. Calls into the estimate source and the sink are
// made without holding mu; gen is bumped by every Arm, Cancel and watch exit,
// so work started under an older generation becomes a no-op.
type Scheduler struct {
	src  EstimateSource
	sink NotificationSink
	reg  *timers.Registry
	opts Options
	log  logx.Logger
	bus  eventbus.Bus

	stages []float64
	// spawn runs a watcher poll off the timer callback.
	spawn func(func())

	mu          sync.Mutex
	gen         uint64
	phase       Phase
	watchTicks  int
	inFlight    bool
	armedAt     time.Time
	last        float64
	hasLast     bool
	estimatedAt time.Time
	lastErr     string
}

func New(src EstimateSource, sink NotificationSink, opts Options) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		src:    src,
		sink:   sink,
		reg:    timers.New(opts.Clock, opts.Logger.With(logx.String("comp", "pass.timers"))),
		opts:   opts,
		log:    opts.Logger,
		bus:    opts.Bus,
		stages: stageThresholds(opts.Thresholds),
		spawn:  func(f func()) { go f() },
	}
}

// Options returns the effective options.
func (s *Scheduler) Options() Options { return s.opts }

// Arm discards any previous schedule, reads a fresh estimate and schedules the
// staged notifications. On any error the scheduler is left Idle with nothing pending.
func (s *Scheduler) Arm(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.stopLocked()
	gen := s.gen
	s.mu.Unlock()

	if err := s.ensurePermission(ctx); err != nil {
		return s.armFailed(gen, err)
	}

	minutes, err := s.read(ctx)
	if err != nil {
		return s.armFailed(gen, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.log.Debug("arm superseded", logx.Float64("minutes", minutes))
		return ErrSuperseded
	}

	if minutes <= 0 {
		s.mu.Unlock()
		s.log.Info("already in range", logx.Float64("minutes", minutes))
		s.fireInRange(gen, minutes)
		return nil
	}

	for _, t := range s.stages {
		if minutes >= t {
			s.reg.Schedule(minutesToDuration(minutes-t), s.stageAction(gen, t))
		}
	}
	s.reg.Schedule(minutesToDuration(math.Max(0, minutes)), func() { s.fireInRange(gen, minutes) })
	s.phase = PhaseArmed
	s.armedAt = s.opts.Clock.Now()
	pending := s.reg.Pending()
	s.mu.Unlock()

	s.log.Info("pass armed", logx.Float64("minutes", minutes), logx.Int("pending", pending))
	s.publish(EventArmed, EventData{Minutes: minutes, Pending: pending})
	return nil
}

func (s *Scheduler) armFailed(gen uint64, err error) error {
	s.mu.Lock()
	if s.gen == gen {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
	s.log.Warn("arm failed", logx.Err(err))
	s.publish(EventError, EventData{Error: err.Error()})
	return err
}

func (s *Scheduler) ensurePermission(ctx context.Context) error {
	if s.sink == nil {
		return fmt.Errorf("%w: no notification sink", ErrPermissionDenied)
	}
	granted, err := s.sink.PermissionGranted(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if granted {
		return nil
	}
	p, err := s.sink.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if p != PermissionGranted {
		return ErrPermissionDenied
	}
	return nil
}

// read fetches one estimate and classifies failures.
func (s *Scheduler) read(ctx context.Context) (float64, error) {
	minutes, err := s.src.Estimate(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEstimateUnavailable, err)
	}
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEstimate, minutes)
	}
	s.mu.Lock()
	s.last = minutes
	s.hasLast = true
	s.estimatedAt = s.opts.Clock.Now()
	s.mu.Unlock()
	return minutes, nil
}

// Refresh reads the current estimate without touching the schedule.
func (s *Scheduler) Refresh(ctx context.Context) (float64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.read(ctx)
}

func (s *Scheduler) stageAction(gen uint64, t float64) func() {
	return func() {
		if !s.current(gen) {
			return
		}
		s.send(s.opts.Messages.Stage(t))
		s.publish(EventStage, EventData{Threshold: t})
	}
}

// fireInRange sends the in-range alert and hands off to the watcher.
func (s *Scheduler) fireInRange(gen uint64, minutes float64) {
	if !s.current(gen) {
		return
	}
	s.send(s.opts.Messages.InRange)
	s.publish(EventInRange, EventData{Minutes: minutes})
	s.startWatch(gen)
}

// Cancel drops every pending action and the watcher. Always safe.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	was := s.phase
	s.stopLocked()
	s.mu.Unlock()

	if was != PhaseIdle {
		s.log.Info("pass cancelled", logx.String("from", was.String()))
	}
	s.publish(EventCancelled, EventData{})
}

// stopLocked returns to Idle and invalidates in-flight work. Callers hold mu.
func (s *Scheduler) stopLocked() {
	s.reg.CancelAll()
	s.gen++
	s.phase = PhaseIdle
	s.watchTicks = 0
	s.inFlight = false
	s.armedAt = time.Time{}
}

func (s *Scheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// State returns a snapshot of the schedule.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Phase:        s.phase,
		Pending:      s.reg.Pending(),
		Watching:     s.reg.Recurring(),
		WatchTicks:   s.watchTicks,
		InFlightPoll: s.inFlight,
		ArmedAt:      s.armedAt,
		LastEstimate: s.last,
		HasEstimate:  s.hasLast,
		EstimatedAt:  s.estimatedAt,
		LastError:    s.lastErr,
	}
}

// PendingDelays lists the delays of the pending one-shot alerts.
func (s *Scheduler) PendingDelays() []time.Duration { return s.reg.Delays() }

func (s *Scheduler) send(m Message) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Send(context.Background(), m.Title, m.Body); err != nil {
		s.report(fmt.Errorf("send %q: %w", m.Title, err))
		return
	}
	s.log.Debug("notification sent", logx.String("title", m.Title))
}

// report is the side channel for errors that do not stop anything.
func (s *Scheduler) report(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()

	s.log.Warn("pass error", logx.Err(err))
	s.publish(EventError, EventData{Error: err.Error()})
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func (s *Scheduler) publish(typ string, data EventData) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.opts.Clock.Now(), Data: data})
}

func minutesToDuration(m float64) time.Duration {
	if m <= 0 {
		return 0
	}
	return time.Duration(math.Round(m * float64(time.Minute)))
}
