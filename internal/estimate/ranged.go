package estimate

import (
	"context"
	"fmt"
	"math"
	"time"

	"isswatch/internal/clock"
	logx "isswatch/pkg/logx"
)

const (
	// OrbitalPeriodMinutes is the nominal ISS orbital period.
	OrbitalPeriodMinutes = 92.6

	DefaultMinElevationDeg = 10.0
	DefaultSampleGap       = 10 * time.Second
)

// RangeEstimator turns two position fixes taken SampleGap apart into a
// "minutes until in range" figure. It assumes the ISS moves straight at the
// observer when closing in and otherwise waits roughly one orbit.
type RangeEstimator struct {
	Observer        ObserverSource
	Locations       LocationProvider
	Clock           clock.Clock
	SampleGap       time.Duration
	MinElevationDeg float64
	Logger          logx.Logger
}

func (e *RangeEstimator) Estimate(ctx context.Context) (float64, error) {
	obs, err := e.Observer.Observer(ctx)
	if err != nil {
		return 0, err
	}
	first, err := e.Locations.Location(ctx)
	if err != nil {
		return 0, err
	}

	d0 := HaversineKm(obs.Latitude, obs.Longitude, first.Latitude, first.Longitude)
	dmax := MaxGroundDistanceKm(first.AltitudeKm, e.minElevation())
	if d0 <= dmax {
		e.Logger.Debug("iss within range", logx.Float64("distance_km", d0), logx.Float64("max_km", dmax))
		return 0, nil
	}

	clk := e.Clock
	if clk == nil {
		clk = clock.Real()
	}
	if err := clock.Sleep(ctx, clk, e.SampleGap); err != nil {
		return 0, fmt.Errorf("waiting for second fix: %w", err)
	}
	second, err := e.Locations.Location(ctx)
	if err != nil {
		return 0, err
	}
	d1 := HaversineKm(obs.Latitude, obs.Longitude, second.Latitude, second.Longitude)

	minutes := MinutesUntilRange(d0, d1, dmax, second.VelocityKmh)
	e.Logger.Debug("range estimate",
		logx.Float64("d0_km", d0), logx.Float64("d1_km", d1), logx.Float64("max_km", dmax),
		logx.Float64("velocity_kmh", second.VelocityKmh), logx.Float64("minutes", minutes))
	return minutes, nil
}

func (e *RangeEstimator) minElevation() float64 {
	if e.MinElevationDeg > 0 {
		return e.MinElevationDeg
	}
	return DefaultMinElevationDeg
}

// MinutesUntilRange applies the straight-line approach model to two distances.
// The result is rounded to a tenth of a minute.
func MinutesUntilRange(d0, d1, dmax, velocityKmh float64) float64 {
	if d0 <= dmax {
		return 0
	}
	speed := math.Max(velocityKmh/3600, 0.001) // km/s
	seconds := (d0 - dmax) / speed
	if d1 >= d0 {
		// Moving away: wait for the next orbit to come around.
		seconds = math.Max(OrbitalPeriodMinutes*60-seconds, 0)
	}
	return math.Round(seconds/60*10) / 10
}
