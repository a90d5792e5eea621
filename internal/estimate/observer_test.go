package estimate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "isswatch/pkg/logx"
)

func TestIPGeolocatorFallsThrough(t *testing.T) {
	t.Parallel()
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("/first", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "first")
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	mux.HandleFunc("/second", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "second")
		_, _ = w.Write([]byte(`{"ip":"1.2.3.4","loc":"52.5200, 13.4050"}`))
	})
	mux.HandleFunc("/third", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "third")
		_, _ = w.Write([]byte(`{"lat":1,"lon":2}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewIPGeolocator([]GeoProvider{
		{Name: "first", URL: srv.URL + "/first", Decode: decodeLatLon("latitude", "longitude")},
		{Name: "second", URL: srv.URL + "/second", Decode: decodeIPInfo},
		{Name: "third", URL: srv.URL + "/third", Decode: decodeLatLon("lat", "lon")},
	}, srv.Client(), 0.1, logx.Nop())

	o, err := g.Observer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if o.Latitude != 52.52 || o.Longitude != 13.405 || o.AltitudeKm != 0.1 {
		t.Fatalf("observer = %+v", o)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %v", calls)
	}

	// cached
	if _, err := g.Observer(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Fatalf("calls after cache = %v", calls)
	}
}

func TestIPGeolocatorAllFail(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":true}`))
	}))
	defer srv.Close()

	g := NewIPGeolocator([]GeoProvider{
		{Name: "a", URL: srv.URL, Decode: decodeLatLon("latitude", "longitude")},
		{Name: "b", URL: srv.URL, Decode: decodeIPInfo},
	}, srv.Client(), 0, logx.Nop())
	if _, err := g.Observer(context.Background()); !errors.Is(err, ErrNoObserver) {
		t.Fatalf("err = %v", err)
	}
}

func TestLocationClient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"iss","id":25544,"latitude":-12.5,"longitude":101.25,"altitude":418.2,"velocity":27580.1,"timestamp":1760000000}`))
	}))
	defer srv.Close()

	c := NewLocationClient(srv.URL, srv.Client(), 0)
	loc, err := c.Location(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if loc.Latitude != -12.5 || loc.Longitude != 101.25 || loc.AltitudeKm != 418.2 || loc.VelocityKmh != 27580.1 {
		t.Fatalf("loc = %+v", loc)
	}
	if loc.Time.Unix() != 1760000000 {
		t.Fatalf("time = %v", loc.Time)
	}
}
