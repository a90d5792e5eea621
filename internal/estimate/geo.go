package estimate

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by every ground-distance helper.
const EarthRadiusKm = 6371.0

// Observer is where the user stands.
type Observer struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	AltitudeKm float64 `json:"altitude_km"`
}

func (o Observer) Validate() error {
	if math.IsNaN(o.Latitude) || o.Latitude < -90 || o.Latitude > 90 {
		return fmt.Errorf("latitude must be within -90..90, got %v", o.Latitude)
	}
	if math.IsNaN(o.Longitude) || o.Longitude < -180 || o.Longitude > 180 {
		return fmt.Errorf("longitude must be within -180..180, got %v", o.Longitude)
	}
	return nil
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

// HaversineKm returns the great-circle distance between two points given in degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1, p2 := deg2rad(lat1), deg2rad(lat2)
	dlat := p2 - p1
	dlon := deg2rad(lon2 - lon1)

	sLat := math.Sin(dlat / 2)
	sLon := math.Sin(dlon / 2)
	a := sLat*sLat + math.Cos(p1)*math.Cos(p2)*sLon*sLon
	a = math.Min(1, math.Max(0, a))
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// MaxGroundDistanceKm is the largest ground distance from the sub-satellite
// point at which a satellite at altKm still appears at least minElevDeg above
// the horizon.
func MaxGroundDistanceKm(altKm, minElevDeg float64) float64 {
	r := EarthRadiusKm + altKm
	horizon := math.Acos(EarthRadiusKm / r)
	if minElevDeg <= 0 {
		return EarthRadiusKm * horizon
	}
	minElev := deg2rad(minElevDeg)

	// Elevation falls monotonically with central angle; bisect.
	lo, hi := 0.0, horizon
	for i := 0; i < 60; i++ {
		mid := (lo + hi) / 2
		elev := math.Atan2(math.Cos(mid)-EarthRadiusKm/r, math.Sin(mid))
		if elev >= minElev {
			lo = mid
		} else {
			hi = mid
		}
	}
	return EarthRadiusKm * lo
}
