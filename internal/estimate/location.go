package estimate

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Location is one ISS position fix.
type Location struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	AltitudeKm  float64   `json:"altitude_km"`
	VelocityKmh float64   `json:"velocity_kmh"`
	Time        time.Time `json:"time"`
}

// LocationProvider returns the current ISS position.
type LocationProvider interface {
	Location(ctx context.Context) (Location, error)
}

// LocationClient reads the public "where is the ISS" API.
type LocationClient struct {
	url string
	f   *fetcher
}

func NewLocationClient(url string, hc *http.Client, ratePerSec float64) *LocationClient {
	if url == "" {
		url = DefaultLocationURL
	}
	return &LocationClient{url: url, f: newFetcher(hc, ratePerSec)}
}

type locationWire struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Velocity  float64 `json:"velocity"`
	Timestamp int64   `json:"timestamp"`
}

func (c *LocationClient) Location(ctx context.Context) (Location, error) {
	var w locationWire
	if err := c.f.getJSON(ctx, c.url, &w); err != nil {
		return Location{}, fmt.Errorf("iss location: %w", err)
	}
	loc := Location{
		Latitude:    w.Latitude,
		Longitude:   w.Longitude,
		AltitudeKm:  w.Altitude,
		VelocityKmh: w.Velocity,
	}
	if w.Timestamp > 0 {
		loc.Time = time.Unix(w.Timestamp, 0).UTC()
	}
	for _, v := range []float64{loc.Latitude, loc.Longitude, loc.AltitudeKm, loc.VelocityKmh} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Location{}, fmt.Errorf("iss location: non-finite field in %+v", w)
		}
	}
	return loc, nil
}
