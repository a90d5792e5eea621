package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isswatch/internal/estimate"
	"isswatch/internal/eventbus"
	logx "isswatch/pkg/logx"
)

type stubLocations struct {
	calls atomic.Int32
	err   error
}

func (s *stubLocations) Location(context.Context) (estimate.Location, error) {
	s.calls.Add(1)
	if s.err != nil {
		return estimate.Location{}, s.err
	}
	return estimate.Location{Latitude: 10, Longitude: 20, AltitudeKm: 420, VelocityKmh: 27600}, nil
}

type stubRefresher struct{ minutes float64 }

func (s stubRefresher) Refresh(context.Context) (float64, error) { return s.minutes, nil }

func TestParseSpec(t *testing.T) {
	t.Parallel()
	for _, spec := range []string{"@every 30s", "@hourly", "*/5 * * * *", "0 */6 * * * *"} {
		if _, err := ParseSpec(spec); err != nil {
			t.Errorf("ParseSpec(%q): %v", spec, err)
		}
	}
	for _, spec := range []string{"", "every minute", "@every soon"} {
		if _, err := ParseSpec(spec); err == nil {
			t.Errorf("ParseSpec(%q) accepted", spec)
		}
	}
}

func TestRefreshUpdatesSnapshot(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "telemetry.")
	defer unsub()

	locs := &stubLocations{}
	s := New(Config{}, locs, stubRefresher{minutes: 42.5}, nil, bus, logx.Nop())

	loc, err := s.RefreshLocation(context.Background())
	require.NoError(t, err)
	require.Equal(t, 420.0, loc.AltitudeKm)

	m, err := s.RefreshEstimate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42.5, m)

	snap := s.Snapshot()
	require.Equal(t, 10.0, snap.Location.Latitude)
	require.False(t, snap.LocationAt.IsZero())
	require.Equal(t, 42.5, snap.Minutes)
	require.Empty(t, snap.EstimateErr)

	require.Equal(t, EventLocation, (<-events).Type)
	require.Equal(t, EventEstimate, (<-events).Type)

	locs.err = errors.New("offline")
	_, err = s.RefreshLocation(context.Background())
	require.Error(t, err)
	snap = s.Snapshot()
	require.Equal(t, "offline", snap.LocationErr)
	require.Equal(t, 10.0, snap.Location.Latitude, "last good fix is kept")

	_, err = s.RefreshTLE(context.Background())
	require.Error(t, err)
}

func TestRefreshTLE(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ISS (ZARYA)\n" +
			"1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927\n" +
			"2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537\n"))
	}))
	defer srv.Close()

	store := estimate.NewTLEStore(srv.URL, "", srv.Client(), logx.Nop())
	s := New(Config{}, nil, nil, store, nil, logx.Nop())
	tle, err := s.RefreshTLE(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ISS (ZARYA)", tle.Name)
	require.Equal(t, 2008, s.Snapshot().TLE.Epoch.Year())
}

func TestScheduledJobsRun(t *testing.T) {
	t.Parallel()
	locs := &stubLocations{}
	s := New(Config{Enabled: true, LocationEvery: "@every 1s", EstimateEvery: "@every 1h"},
		locs, stubRefresher{minutes: 3}, nil, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	require.Len(t, s.NextRuns(), 2)

	require.Eventually(t, func() bool { return locs.calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	require.Nil(t, s.NextRuns())

	require.NoError(t, s.Apply(Config{Enabled: false}))
	require.Nil(t, s.NextRuns(), "apply while stopped does not start jobs")
}
