package app

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"isswatch/internal/config"
	"isswatch/internal/estimate"
	"isswatch/internal/pass"
	logx "isswatch/pkg/logx"
)

// sources is one generation of estimate plumbing built from a Runtime. The
// location client and TLE store outlive reloads; changing their URLs needs a
// restart.
type sources struct {
	observer  estimate.ObserverSource
	orbit     *estimate.OrbitEstimator
	estimator pass.EstimateSource
}

func buildSources(rt *config.Runtime, locations estimate.LocationProvider, tles *estimate.TLEStore, hc *http.Client, log logx.Logger) *sources {
	est := rt.Estimate
	s := &sources{}

	var static estimate.ObserverSource
	if rt.HasObserver {
		static = estimate.StaticObserver(rt.Observer)
	}
	if rt.Geolocate {
		geo := estimate.NewIPGeolocator(nil, hc, rt.Observer.AltitudeKm, log.With(logx.String("comp", "geolocate")))
		s.observer = fallbackObserver{primary: geo, fallback: static, log: log}
	} else {
		s.observer = static
	}

	s.orbit = &estimate.OrbitEstimator{
		Observer:        s.observer,
		TLEs:            tles,
		MinElevationDeg: rt.MinElevationDeg,
		Logger:          log.With(logx.String("comp", "estimate.orbit")),
	}

	switch est.Mode {
	case config.ModeOrbit:
		s.estimator = s.orbit
	default:
		s.estimator = &estimate.RangeEstimator{
			Observer:        s.observer,
			Locations:       locations,
			SampleGap:       est.SampleGap,
			MinElevationDeg: rt.MinElevationDeg,
			Logger:          log.With(logx.String("comp", "estimate.range")),
		}
	}
	return s
}

// fallbackObserver prefers the geolocated position and falls back to the
// configured one when every lookup fails.
type fallbackObserver struct {
	primary  estimate.ObserverSource
	fallback estimate.ObserverSource
	log      logx.Logger
}

func (f fallbackObserver) Observer(ctx context.Context) (estimate.Observer, error) {
	o, err := f.primary.Observer(ctx)
	if err == nil || f.fallback == nil {
		return o, err
	}
	f.log.Warn("geolocation failed; using configured observer", logx.Err(err))
	return f.fallback.Observer(ctx)
}

// switchSource lets a config reload swap the estimate plumbing under a
// running scheduler. Readers always see one complete generation.
type switchSource struct {
	cur atomic.Pointer[sources]
}

func (s *switchSource) set(src *sources) { s.cur.Store(src) }
func (s *switchSource) get() *sources    { return s.cur.Load() }

func (s *switchSource) Estimate(ctx context.Context) (float64, error) {
	src := s.get()
	if src == nil || src.estimator == nil {
		return 0, errors.New("no estimate source")
	}
	return src.estimator.Estimate(ctx)
}

func (s *switchSource) Observer(ctx context.Context) (estimate.Observer, error) {
	src := s.get()
	if src == nil || src.observer == nil {
		return estimate.Observer{}, estimate.ErrNoObserver
	}
	return src.observer.Observer(ctx)
}

func (s *switchSource) Path(ctx context.Context, span, step time.Duration) ([]estimate.Location, error) {
	src := s.get()
	if src == nil || src.orbit == nil {
		return nil, errors.New("no orbit source")
	}
	return src.orbit.Path(ctx, span, step)
}
