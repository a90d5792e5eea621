package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isswatch/internal/estimate"
	"isswatch/internal/pass"
	logx "isswatch/pkg/logx"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func issServer(t *testing.T, lat, lon float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"latitude":%g,"longitude":%g,"altitude":420,"velocity":27600,"timestamp":1772395200}`, lat, lon)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "isswatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppConsoleArm(t *testing.T) {
	srv := issServer(t, 52.5, 13.4)
	path := writeConfig(t, `
observer:
  latitude: 52.52
  longitude: 13.40
estimate:
  mode: range
  location_url: `+srv.URL+`
  sample_gap: 1s
  timeout: 5s
telemetry:
  enabled: false
notifier:
  enabled: true
  auto_grant: false
logging:
  level: error
`)

	in, feed := io.Pipe()
	out := &syncBuffer{}
	a, err := New(path, WithConsole(in, out), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	send := func(line string) {
		_, err := io.WriteString(feed, line+"\n")
		require.NoError(t, err)
	}
	waitFor := func(text string) {
		t.Helper()
		require.Eventually(t, func() bool { return strings.Contains(out.String(), text) },
			5*time.Second, 20*time.Millisecond, "output so far:\n%s", out.String())
	}

	send("/arm")
	waitFor("/subscribe first")
	require.Equal(t, pass.PhaseIdle, a.Pass().State().Phase)

	send("/subscribe")
	waitFor("This chat will get pass alerts")

	send("/arm")
	waitFor("ISS is in range now")
	waitFor("Look up!")
	require.Equal(t, pass.PhaseWatching, a.Pass().State().Phase)

	send("/cancel")
	waitFor("Cancelled (watching")

	_ = feed.Close()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "observer:\n  latitude: 95\n  longitude: 0\n")
	_, err := New(path, WithConsole(strings.NewReader(""), io.Discard))
	require.Error(t, err)
	require.Contains(t, err.Error(), "observer")
}

type stubObserver struct {
	o   estimate.Observer
	err error
}

func (s stubObserver) Observer(context.Context) (estimate.Observer, error) { return s.o, s.err }

func TestFallbackObserver(t *testing.T) {
	t.Parallel()
	fixed := stubObserver{o: estimate.Observer{Latitude: 1, Longitude: 2}}

	f := fallbackObserver{primary: stubObserver{err: errors.New("offline")}, fallback: fixed, log: logx.Nop()}
	o, err := f.Observer(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1.0, o.Latitude)

	f.fallback = nil
	_, err = f.Observer(context.Background())
	require.Error(t, err)
}

type gatedSource struct {
	gate chan struct{}
}

func (g gatedSource) Estimate(context.Context) (float64, error) {
	<-g.gate
	return 20, nil
}

type openSink struct{}

func (openSink) PermissionGranted(context.Context) (bool, error) { return true, nil }
func (openSink) RequestPermission(context.Context) (pass.Permission, error) {
	return pass.PermissionGranted, nil
}
func (openSink) Send(context.Context, string, string) error { return nil }

func TestPassControlSwapsOnlyWhenIdle(t *testing.T) {
	t.Parallel()
	src := gatedSource{gate: make(chan struct{})}
	built := 0
	p := newPassControl(pass.Options{}, func(o pass.Options) *pass.Scheduler {
		built++
		return pass.New(src, openSink{}, o)
	})
	require.Equal(t, 1, built)

	armed := make(chan error, 1)
	go func() { armed <- p.Arm(context.Background()) }()
	require.Eventually(t, func() bool {
		if p.mu.TryLock() {
			p.mu.Unlock()
			return false
		}
		return true
	}, time.Second, time.Millisecond)

	require.False(t, p.stage(pass.Options{MaxWatchTicks: 3}), "swap while Arm runs")
	close(src.gate)
	require.NoError(t, <-armed)

	require.False(t, p.trySwap(), "swap while armed")
	require.True(t, p.staged())

	p.Cancel()
	require.True(t, p.trySwap())
	require.False(t, p.staged())
	require.Equal(t, 2, built)
	require.Equal(t, 3, p.scheduler().Options().MaxWatchTicks)
}
