package estimate

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "isswatch/pkg/logx"
)

const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

var issEpoch = time.Date(2008, 9, 20, 12, 25, 40, 104000000, time.UTC)

func TestParseTLE(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       string
		wantName string
		wantErr  error
	}{
		{name: "three line", in: "ISS (ZARYA)\n" + issLine1 + "\n" + issLine2 + "\n", wantName: "ISS (ZARYA)"},
		{name: "two line", in: issLine1 + "\r\n" + issLine2},
		{name: "title line is not a name", in: "0 ISS\n" + issLine1 + "\n" + issLine2},
		{name: "blank lines and padding", in: "\n\n  ISS  \n\n" + issLine1 + "  \n\n" + issLine2 + "\n", wantName: "ISS"},
		{name: "garbage", in: "hello\nworld", wantErr: ErrNoTLE},
		{name: "line2 missing", in: "ISS\n" + issLine1, wantErr: ErrNoTLE},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTLE(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Name != tt.wantName || got.Line1 != issLine1 || got.Line2 != issLine2 {
				t.Fatalf("got %+v", got)
			}
			if d := got.Epoch.Sub(issEpoch); d < -time.Second || d > time.Second {
				t.Fatalf("epoch = %v, want ~%v", got.Epoch, issEpoch)
			}
		})
	}
}

func TestValidateTLE(t *testing.T) {
	t.Parallel()
	if err := ValidateTLE(issLine1, issLine2); err != nil {
		t.Fatal(err)
	}
	if err := ValidateTLE(issLine1[:60], issLine2); err == nil {
		t.Fatal("short line1 accepted")
	}
	if err := ValidateTLE(issLine2, issLine2); err == nil {
		t.Fatal("swapped lines accepted")
	}
}

func TestPropagatorAtEpoch(t *testing.T) {
	t.Parallel()
	p, err := NewPropagator(TLE{Line1: issLine1, Line2: issLine2})
	if err != nil {
		t.Fatal(err)
	}
	loc, err := p.At(issEpoch)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loc.Latitude) > 52 {
		t.Fatalf("latitude %v exceeds inclination", loc.Latitude)
	}
	if loc.AltitudeKm < 300 || loc.AltitudeKm > 450 {
		t.Fatalf("altitude %v km out of range", loc.AltitudeKm)
	}
	if loc.VelocityKmh < 26000 || loc.VelocityKmh > 29000 {
		t.Fatalf("velocity %v km/h out of range", loc.VelocityKmh)
	}

	// Directly below the satellite it is overhead.
	el, err := p.Elevation(Observer{Latitude: loc.Latitude, Longitude: loc.Longitude}, issEpoch)
	if err != nil {
		t.Fatal(err)
	}
	if el < 80 {
		t.Fatalf("elevation below sub-satellite point = %v, want ~90", el)
	}

	rise, err := p.NextRise(context.Background(), Observer{Latitude: loc.Latitude, Longitude: loc.Longitude}, issEpoch, 10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !rise.Equal(issEpoch) {
		t.Fatalf("rise = %v, want start when already up", rise)
	}

	path, err := p.Path(issEpoch, 90*time.Minute, 2*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 91 {
		t.Fatalf("path has %d points, want 91", len(path))
	}
}

func TestNewPropagatorRejectsBadLines(t *testing.T) {
	t.Parallel()
	if _, err := NewPropagator(TLE{Line1: "1 bad", Line2: issLine2}); err == nil {
		t.Fatal("expected error")
	}
}

func TestTLEStoreRefreshAndCache(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ISS (ZARYA)\n" + issLine1 + "\n" + issLine2 + "\n"))
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "tle", "iss.tle")
	s := NewTLEStore(srv.URL, cache, srv.Client(), logx.Nop())

	got, err := s.Current(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "ISS (ZARYA)" {
		t.Fatalf("name = %q", got.Name)
	}
	if _, err := s.Current(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
	b, err := os.ReadFile(cache)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), issLine1) {
		t.Fatal("cache file missing element set")
	}

	// A fresh store reads the cache without touching the network.
	offline := NewTLEStore("http://127.0.0.1:1/unreachable", cache, nil, logx.Nop())
	got, err = offline.Current(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Line2 != issLine2 {
		t.Fatalf("got %+v", got)
	}
}

func TestTLEStoreRefreshFailureKeepsPrevious(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewTLEStore(srv.URL, "", srv.Client(), logx.Nop())
	s.Set(TLE{Name: "ISS", Line1: issLine1, Line2: issLine2})
	if _, err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	got, err := s.Current(context.Background())
	if err != nil || got.Name != "ISS" {
		t.Fatalf("got %+v, %v", got, err)
	}
}
