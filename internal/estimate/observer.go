package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	logx "isswatch/pkg/logx"
)

var ErrNoObserver = errors.New("estimate: observer location unavailable")

// ObserverSource resolves the observer position.
type ObserverSource interface {
	Observer(ctx context.Context) (Observer, error)
}

// StaticObserver is a fixed, configured position.
type StaticObserver Observer

func (s StaticObserver) Observer(context.Context) (Observer, error) { return Observer(s), nil }

// GeoProvider is one IP geolocation backend.
type GeoProvider struct {
	Name string
	URL  string
	// Decode extracts latitude and longitude from the response body.
	Decode func(body []byte) (lat, lon float64, err error)
}

// DefaultGeoProviders is the fallback chain tried in order.
func DefaultGeoProviders() []GeoProvider {
	return []GeoProvider{
		{Name: "ipapi.co", URL: "https://ipapi.co/json/", Decode: decodeLatLon("latitude", "longitude")},
		{Name: "ipinfo.io", URL: "https://ipinfo.io/json", Decode: decodeIPInfo},
		{Name: "ip-api.com", URL: "http://ip-api.com/json", Decode: decodeLatLon("lat", "lon")},
	}
}

// IPGeolocator resolves the observer from the public IP once and caches the
// answer for the life of the process.
type IPGeolocator struct {
	providers []GeoProvider
	f         *fetcher
	log       logx.Logger
	altKm     float64

	mu     sync.Mutex
	cached *Observer
}

func NewIPGeolocator(providers []GeoProvider, hc *http.Client, altKm float64, log logx.Logger) *IPGeolocator {
	if len(providers) == 0 {
		providers = DefaultGeoProviders()
	}
	return &IPGeolocator{providers: providers, f: newFetcher(hc, 0), log: log, altKm: altKm}
}

func (g *IPGeolocator) Observer(ctx context.Context) (Observer, error) {
	g.mu.Lock()
	if g.cached != nil {
		o := *g.cached
		g.mu.Unlock()
		return o, nil
	}
	g.mu.Unlock()

	var errs []error
	for _, p := range g.providers {
		body, err := g.f.get(ctx, p.URL)
		if err == nil {
			var lat, lon float64
			lat, lon, err = p.Decode(body)
			if err == nil {
				o := Observer{Latitude: lat, Longitude: lon, AltitudeKm: g.altKm}
				if err = o.Validate(); err == nil {
					g.mu.Lock()
					g.cached = &o
					g.mu.Unlock()
					g.log.Info("observer geolocated", logx.String("provider", p.Name),
						logx.Float64("lat", lat), logx.Float64("lon", lon))
					return o, nil
				}
			}
		}
		g.log.Debug("geolocation provider failed", logx.String("provider", p.Name), logx.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return Observer{}, fmt.Errorf("%w: all IP geolocation providers failed: %w", ErrNoObserver, errors.Join(errs...))
}

func decodeLatLon(latKey, lonKey string) func([]byte) (float64, float64, error) {
	return func(body []byte) (float64, float64, error) {
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			return 0, 0, err
		}
		lat, ok1 := m[latKey].(float64)
		lon, ok2 := m[lonKey].(float64)
		if !ok1 || !ok2 {
			return 0, 0, fmt.Errorf("missing %s/%s", latKey, lonKey)
		}
		return lat, lon, nil
	}
}

func decodeIPInfo(body []byte) (float64, float64, error) {
	var w struct {
		Loc string `json:"loc"`
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return 0, 0, err
	}
	latS, lonS, ok := strings.Cut(w.Loc, ",")
	if !ok {
		return 0, 0, fmt.Errorf("unexpected loc %q", w.Loc)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("loc latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("loc longitude: %w", err)
	}
	return lat, lon, nil
}
