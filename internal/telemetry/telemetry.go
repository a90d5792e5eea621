// Package telemetry keeps a fresh view of the ISS and of the current estimate
// for status output. Refreshes run as cron jobs; a job that is still running
// when its next slot comes up is skipped.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"isswatch/internal/estimate"
	"isswatch/internal/eventbus"
	logx "isswatch/pkg/logx"
)

const (
	EventLocation = "telemetry.location"
	EventEstimate = "telemetry.estimate"
	EventTLE      = "telemetry.tle"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec accepts 5 or 6 field cron expressions and descriptors such as
// "@every 30s" or "@hourly".
func ParseSpec(spec string) (cron.Schedule, error) { return parser.Parse(spec) }

// EstimateRefresher reads the estimate without scheduling anything.
type EstimateRefresher interface {
	Refresh(ctx context.Context) (float64, error)
}

type Config struct {
	Enabled       bool
	LocationEvery string
	EstimateEvery string
	// TLERefresh is used only when a TLE store is attached.
	TLERefresh string
	// JobTimeout bounds a single refresh. Zero means 30s.
	JobTimeout time.Duration
}

// Snapshot is the latest telemetry. Zero times mean "never succeeded".
type Snapshot struct {
	Location    estimate.Location
	LocationAt  time.Time
	LocationErr string

	Minutes     float64
	EstimateAt  time.Time
	EstimateErr string

	TLE          estimate.TLE
	TLEFetchedAt time.Time
	TLEErr       string
}

type Service struct {
	locations estimate.LocationProvider
	estimates EstimateRefresher
	tles      *estimate.TLEStore
	bus       eventbus.Bus
	log       logx.Logger

	mu   sync.Mutex
	cfg  Config
	cron *cron.Cron
	base context.Context
	snap Snapshot
}

// New wires the sources. Any of them may be nil; the matching job is then
// never scheduled.
func New(cfg Config, locations estimate.LocationProvider, estimates EstimateRefresher, tles *estimate.TLEStore, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		locations: locations,
		estimates: estimates,
		tles:      tles,
		bus:       bus,
		log:       log.With(logx.String("comp", "telemetry")),
	}
}

// Start schedules the jobs. Calling it again restarts them with the current
// config.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
	return s.restartLocked()
}

// Apply swaps the config and reschedules when running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.base == nil {
		return nil
	}
	return s.restartLocked()
}

func (s *Service) restartLocked() error {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	cfg := s.cfg
	cl := cronLogger{s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	type job struct {
		name, spec string
		run        func(context.Context) error
	}
	var jobs []job
	if cfg.Enabled && s.locations != nil {
		jobs = append(jobs, job{"location", cfg.LocationEvery, func(ctx context.Context) error {
			_, err := s.RefreshLocation(ctx)
			return err
		}})
	}
	if cfg.Enabled && s.estimates != nil {
		jobs = append(jobs, job{"estimate", cfg.EstimateEvery, func(ctx context.Context) error {
			_, err := s.RefreshEstimate(ctx)
			return err
		}})
	}
	if s.tles != nil && cfg.TLERefresh != "" {
		jobs = append(jobs, job{"tle", cfg.TLERefresh, func(ctx context.Context) error {
			_, err := s.RefreshTLE(ctx)
			return err
		}})
	}

	base := s.base
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	for _, j := range jobs {
		_, err := c.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(base, timeout)
			defer cancel()
			if err := j.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("refresh failed", logx.String("job", j.name), logx.Err(err))
			}
		})
		if err != nil {
			return err
		}
		s.log.Debug("job scheduled", logx.String("job", j.name), logx.String("spec", j.spec))
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts scheduling and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.base = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("telemetry stop timed out")
	}
}

// NextRuns reports the next run time of every scheduled job, for /status.
func (s *Service) NextRuns() []time.Time {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	var out []time.Time
	for _, e := range c.Entries() {
		out = append(out, e.Next)
	}
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Service) RefreshLocation(ctx context.Context) (estimate.Location, error) {
	if s.locations == nil {
		return estimate.Location{}, errors.New("no location provider")
	}
	loc, err := s.locations.Location(ctx)
	s.mu.Lock()
	if err != nil {
		s.snap.LocationErr = err.Error()
	} else {
		s.snap.Location, s.snap.LocationAt, s.snap.LocationErr = loc, time.Now(), ""
	}
	s.mu.Unlock()
	if err != nil {
		return loc, err
	}
	s.publish(EventLocation, loc)
	return loc, nil
}

func (s *Service) RefreshEstimate(ctx context.Context) (float64, error) {
	if s.estimates == nil {
		return 0, errors.New("no estimate source")
	}
	m, err := s.estimates.Refresh(ctx)
	s.mu.Lock()
	if err != nil {
		s.snap.EstimateErr = err.Error()
	} else {
		s.snap.Minutes, s.snap.EstimateAt, s.snap.EstimateErr = m, time.Now(), ""
	}
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	s.publish(EventEstimate, m)
	return m, nil
}

func (s *Service) RefreshTLE(ctx context.Context) (estimate.TLE, error) {
	if s.tles == nil {
		return estimate.TLE{}, errors.New("no tle store")
	}
	t, err := s.tles.Refresh(ctx)
	s.mu.Lock()
	if err != nil {
		s.snap.TLEErr = err.Error()
	} else {
		s.snap.TLE, s.snap.TLEFetchedAt, s.snap.TLEErr = t, s.tles.FetchedAt(), ""
	}
	s.mu.Unlock()
	if err != nil {
		return t, err
	}
	s.publish(EventTLE, t.Epoch)
	return t, nil
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// cronLogger routes cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
