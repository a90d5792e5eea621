package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"isswatch/internal/estimate"
	"isswatch/internal/notifier"
	"isswatch/internal/pass"
	"isswatch/internal/storage"
	"isswatch/internal/telemetry"
	kit "isswatch/internal/transport"
	logx "isswatch/pkg/logx"
)

// Runtime is a validated Config with defaults applied and every duration
// parsed.
type Runtime struct {
	Observer        estimate.Observer
	HasObserver     bool
	Geolocate       bool
	MinElevationDeg float64

	Estimate  EstimateSettings
	Scheduler SchedulerSettings
	Telemetry TelemetrySettings
	Telegram  TelegramSettings
	Notifier  notifier.Config
	Storage   storage.Config
	Logging   logx.Config
	Systemd   SystemdConfig
}

type EstimateSettings struct {
	Mode         string
	LocationURL  string
	TLEURL       string
	SampleGap    time.Duration
	Timeout      time.Duration
	RatePerSec   float64
	TLERefresh   string
	TLECachePath string
}

type SchedulerSettings struct {
	Thresholds    []float64
	WatchInterval time.Duration
	MaxWatchTicks int
	ArmOnStart    bool
	AutoRearm     bool
	RearmDelay    time.Duration
}

type TelemetrySettings struct {
	Enabled       bool
	LocationEvery string
	EstimateEvery string
}

type TelegramSettings struct {
	Enabled     bool
	Token       string
	Target      kit.ChatTarget
	Owners      []int64
	PollTimeout time.Duration
}

// Resolve validates cfg and applies defaults. All problems are reported
// together.
func Resolve(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	fail := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		fail(err)
		return d
	}
	spec := func(path, raw, def string) string {
		s := strings.TrimSpace(raw)
		if s == "" {
			s = def
		}
		if _, err := telemetry.ParseSpec(s); err != nil {
			fail(fmt.Errorf("%s: invalid schedule %q: %w", path, s, err))
		}
		return s
	}

	rt := &Runtime{}

	// observer
	o := cfg.Observer
	rt.Geolocate = o.Geolocate
	switch {
	case o.Latitude != nil && o.Longitude != nil:
		rt.Observer = estimate.Observer{Latitude: *o.Latitude, Longitude: *o.Longitude, AltitudeKm: o.AltitudeKm}
		rt.HasObserver = true
		if err := rt.Observer.Validate(); err != nil {
			fail(fmt.Errorf("observer: %w", err))
		}
	case o.Latitude != nil || o.Longitude != nil:
		fail(errors.New("observer: latitude and longitude must be set together"))
	case !o.Geolocate:
		fail(errors.New("observer: set latitude/longitude or enable geolocate"))
	}
	rt.MinElevationDeg = o.MinElevationDeg
	if rt.MinElevationDeg == 0 {
		rt.MinElevationDeg = estimate.DefaultMinElevationDeg
	}
	if math.IsNaN(rt.MinElevationDeg) || rt.MinElevationDeg < 0 || rt.MinElevationDeg >= 90 {
		fail(fmt.Errorf("observer.min_elevation_deg: must be within [0, 90), got %v", o.MinElevationDeg))
	}

	// estimate
	e := cfg.Estimate
	rt.Estimate = EstimateSettings{
		Mode:         strings.ToLower(strings.TrimSpace(e.Mode)),
		LocationURL:  strings.TrimSpace(e.LocationURL),
		TLEURL:       strings.TrimSpace(e.TLEURL),
		SampleGap:    dur("estimate.sample_gap", e.SampleGap, estimate.DefaultSampleGap),
		Timeout:      dur("estimate.timeout", e.Timeout, 20*time.Second),
		RatePerSec:   e.RatePerSec,
		TLERefresh:   spec("estimate.tle_refresh", e.TLERefresh, "@every 6h"),
		TLECachePath: strings.TrimSpace(e.TLECachePath),
	}
	if rt.Estimate.Mode == "" {
		rt.Estimate.Mode = ModeRange
	}
	if rt.Estimate.Mode != ModeRange && rt.Estimate.Mode != ModeOrbit {
		fail(fmt.Errorf("estimate.mode: want %q or %q, got %q", ModeRange, ModeOrbit, e.Mode))
	}
	if rt.Estimate.LocationURL == "" {
		rt.Estimate.LocationURL = estimate.DefaultLocationURL
	}
	if rt.Estimate.TLEURL == "" {
		rt.Estimate.TLEURL = estimate.DefaultTLEURL
	}
	if rt.Estimate.RatePerSec < 0 {
		fail(errors.New("estimate.rate_per_sec: must be >= 0"))
	}
	if rt.Estimate.Timeout > 0 && rt.Estimate.Mode == ModeRange && rt.Estimate.Timeout <= rt.Estimate.SampleGap {
		fail(fmt.Errorf("estimate.timeout (%s) must exceed estimate.sample_gap (%s)", rt.Estimate.Timeout, rt.Estimate.SampleGap))
	}

	// scheduler
	s := cfg.Scheduler
	rt.Scheduler = SchedulerSettings{
		Thresholds:    append([]float64(nil), s.Thresholds...),
		WatchInterval: dur("scheduler.watch_interval", s.WatchInterval, pass.DefaultWatchInterval),
		MaxWatchTicks: s.MaxWatchTicks,
		ArmOnStart:    s.ArmOnStart,
		AutoRearm:     s.AutoRearm,
		RearmDelay:    dur("scheduler.rearm_delay", s.RearmDelay, 5*time.Minute),
	}
	if len(rt.Scheduler.Thresholds) == 0 {
		rt.Scheduler.Thresholds = pass.DefaultThresholds()
	}
	if err := pass.ValidateThresholds(rt.Scheduler.Thresholds); err != nil {
		fail(fmt.Errorf("scheduler.%w", err))
	}
	if rt.Scheduler.MaxWatchTicks < 0 {
		fail(errors.New("scheduler.max_watch_ticks: must be >= 0"))
	}
	if rt.Scheduler.MaxWatchTicks == 0 {
		rt.Scheduler.MaxWatchTicks = pass.DefaultMaxWatchTicks
	}

	// telemetry
	rt.Telemetry = TelemetrySettings{
		Enabled:       cfg.Telemetry.Enabled,
		LocationEvery: spec("telemetry.location_every", cfg.Telemetry.LocationEvery, "@every 30s"),
		EstimateEvery: spec("telemetry.estimate_every", cfg.Telemetry.EstimateEvery, "@every 1m"),
	}

	// telegram
	t := cfg.Telegram
	rt.Telegram = TelegramSettings{
		Enabled:     t.Enabled,
		Token:       strings.TrimSpace(t.Token),
		Target:      kit.ChatTarget{ChatID: t.ChatID, ThreadID: t.ThreadID},
		Owners:      append([]int64(nil), t.OwnerUserIDs...),
		PollTimeout: dur("telegram.poll_timeout", t.PollTimeout, 10*time.Second),
	}
	if t.Enabled && rt.Telegram.Token == "" {
		fail(errors.New("telegram.token: required when telegram.enabled"))
	}
	if t.ThreadID < 0 {
		fail(errors.New("telegram.thread_id: must be >= 0"))
	}

	// notifier
	rt.Notifier = notifier.Config{Enabled: true, DedupWindow: 2 * time.Minute}
	if n := cfg.Notifier; n != nil {
		rt.Notifier = notifier.Config{
			Enabled:         n.Enabled,
			Workers:         n.Workers,
			QueueSize:       n.QueueSize,
			RatePerSec:      n.RatePerSec,
			RetryMax:        n.RetryMax,
			RetryBase:       dur("notifier.retry_base", n.RetryBase, 0),
			RetryMaxDelay:   dur("notifier.retry_max_delay", n.RetryMaxDelay, 0),
			DedupWindow:     dur("notifier.dedup_window", n.DedupWindow, 0),
			DedupMaxEntries: n.DedupMaxEntries,
			PersistDedup:    n.PersistDedup,
			AutoGrant:       n.AutoGrant,
		}
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			fail(errors.New("notifier: counts must be >= 0"))
		}
	}

	// storage
	rt.Storage = storage.Config{Driver: "none"}
	if st := cfg.Storage; st != nil {
		rt.Storage = storage.Config{
			Driver:      strings.ToLower(strings.TrimSpace(st.Driver)),
			Path:        strings.TrimSpace(st.Path),
			BusyTimeout: dur("storage.busy_timeout", st.BusyTimeout, 0),
		}
		switch rt.Storage.Driver {
		case "", "none", "memory":
		case "file", "sqlite", "sqlite3":
			if rt.Storage.Path == "" {
				fail(fmt.Errorf("storage.path: required for driver %q", rt.Storage.Driver))
			}
		default:
			fail(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
	}

	rt.Logging = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	}
	rt.Systemd = cfg.Systemd

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rt, nil
}
