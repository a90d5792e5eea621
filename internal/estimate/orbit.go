package estimate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"isswatch/internal/clock"
	logx "isswatch/pkg/logx"
)

var ErrNoPass = errors.New("estimate: no pass within search horizon")

const (
	DefaultSearchHorizon = 24 * time.Hour
	coarseStep           = 30 * time.Second
)

// Propagator wraps SGP4 for one element set.
type Propagator struct {
	sat satellite.Satellite
	tle TLE
}

func NewPropagator(t TLE) (*Propagator, error) {
	if err := ValidateTLE(t.Line1, t.Line2); err != nil {
		return nil, fmt.Errorf("invalid TLE: %w", err)
	}
	sat := satellite.TLEToSat(t.Line1, t.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr)
	}
	return &Propagator{sat: sat, tle: t}, nil
}

func (p *Propagator) TLE() TLE { return p.tle }

func (p *Propagator) eci(t time.Time) (satellite.Vector3, satellite.Vector3, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	for _, v := range []float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return pos, vel, fmt.Errorf("sgp4 propagation failed at %s: output is NaN/Inf", t.Format(time.RFC3339))
		}
	}
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200 || mag > 50000 {
		return pos, vel, fmt.Errorf("sgp4 propagation failed at %s: unreasonable position magnitude %.1f km", t.Format(time.RFC3339), mag)
	}
	return pos, vel, nil
}

// At returns the sub-satellite point at t.
func (p *Propagator) At(t time.Time) (Location, error) {
	pos, vel, err := p.eci(t)
	if err != nil {
		return Location{}, err
	}
	u := t.UTC()
	gmst := satellite.GSTimeFromDate(u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute(), u.Second())
	alt, _, ll := satellite.ECIToLLA(pos, gmst)
	deg := satellite.LatLongDeg(ll)
	speed := math.Sqrt(vel.X*vel.X+vel.Y*vel.Y+vel.Z*vel.Z) * 3600
	return Location{
		Latitude:    deg.Latitude,
		Longitude:   deg.Longitude,
		AltitudeKm:  alt,
		VelocityKmh: speed,
		Time:        u,
	}, nil
}

// Elevation returns the elevation in degrees of the satellite seen from obs at t.
func (p *Propagator) Elevation(obs Observer, t time.Time) (float64, error) {
	pos, _, err := p.eci(t)
	if err != nil {
		return 0, err
	}
	u := t.UTC()
	jday := satellite.JDay(u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute(), u.Second())
	look := satellite.ECIToLookAngles(pos,
		satellite.LatLong{Latitude: deg2rad(obs.Latitude), Longitude: deg2rad(obs.Longitude)},
		obs.AltitudeKm, jday)
	return rad2deg(look.El), nil
}

// NextRise scans forward from start for the first time the elevation reaches
// minElev. It returns start itself when the satellite is already up.
func (p *Propagator) NextRise(ctx context.Context, obs Observer, start time.Time, minElev float64, horizon time.Duration) (time.Time, error) {
	el, err := p.Elevation(obs, start)
	if err == nil && el >= minElev {
		return start, nil
	}
	end := start.Add(horizon)
	prev := start
	for t := start.Add(coarseStep); !t.After(end); t = t.Add(coarseStep) {
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		el, err := p.Elevation(obs, t)
		if err != nil {
			prev = t
			continue
		}
		if el >= minElev {
			return p.refineRise(obs, prev, t, minElev), nil
		}
		prev = t
	}
	return time.Time{}, ErrNoPass
}

// refineRise narrows [lo, hi] to one second around the crossing.
func (p *Propagator) refineRise(obs Observer, lo, hi time.Time, minElev float64) time.Time {
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2)
		el, err := p.Elevation(obs, mid)
		if err == nil && el >= minElev {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}

// Path samples the ground track from now-span to now+span.
func (p *Propagator) Path(now time.Time, span, step time.Duration) ([]Location, error) {
	if span < time.Minute {
		span = time.Minute
	}
	if step < time.Minute {
		step = time.Minute
	}
	var out []Location
	for off := -span; off <= span; off += step {
		loc, err := p.At(now.Add(off))
		if err != nil {
			continue
		}
		out = append(out, loc)
	}
	if len(out) == 0 {
		return nil, errors.New("no orbit points computed")
	}
	return out, nil
}

// OrbitEstimator predicts the next rise above MinElevationDeg with SGP4.
type OrbitEstimator struct {
	Observer        ObserverSource
	TLEs            *TLEStore
	Clock           clock.Clock
	MinElevationDeg float64
	Horizon         time.Duration
	Logger          logx.Logger

	mu   sync.Mutex
	prop *Propagator
}

// Propagator returns a propagator for the current element set, rebuilding it
// when the set changes.
func (e *OrbitEstimator) Propagator(ctx context.Context) (*Propagator, error) {
	t, err := e.TLEs.Current(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prop != nil && e.prop.tle.Line1 == t.Line1 && e.prop.tle.Line2 == t.Line2 {
		return e.prop, nil
	}
	p, err := NewPropagator(t)
	if err != nil {
		return nil, err
	}
	e.prop = p
	return p, nil
}

func (e *OrbitEstimator) Estimate(ctx context.Context) (float64, error) {
	obs, err := e.Observer.Observer(ctx)
	if err != nil {
		return 0, err
	}
	p, err := e.Propagator(ctx)
	if err != nil {
		return 0, err
	}
	clk := e.Clock
	if clk == nil {
		clk = clock.Real()
	}
	horizon := e.Horizon
	if horizon <= 0 {
		horizon = DefaultSearchHorizon
	}
	minElev := e.MinElevationDeg
	if minElev <= 0 {
		minElev = DefaultMinElevationDeg
	}

	now := clk.Now()
	rise, err := p.NextRise(ctx, obs, now, minElev, horizon)
	if err != nil {
		return 0, err
	}
	minutes := math.Round(rise.Sub(now).Minutes()*10) / 10
	e.Logger.Debug("orbit estimate", logx.Time("rise", rise), logx.Float64("minutes", minutes))
	return minutes, nil
}

// Path samples the ground track span either side of now.
func (e *OrbitEstimator) Path(ctx context.Context, span, step time.Duration) ([]Location, error) {
	p, err := e.Propagator(ctx)
	if err != nil {
		return nil, err
	}
	clk := e.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return p.Path(clk.Now(), span, step)
}
