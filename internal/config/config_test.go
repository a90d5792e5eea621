package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	logx "isswatch/pkg/logx"
)

const sampleYAML = `
observer:
  latitude: 52.52
  longitude: 13.40
  altitude_km: 0.03
estimate:
  mode: orbit
  tle_refresh: "@every 2h"
scheduler:
  thresholds: [15, 5, 0]
  watch_interval: 30s
telegram:
  enabled: true
  token: "123:abc"
  chat_id: -100200
notifier:
  enabled: true
  dedup_window: 1m
  auto_grant: true
storage:
  driver: file
  path: ./data/isswatch
logging:
  level: debug
  console: true
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("isswatch.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	rt, err := Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rt.Observer.Latitude != 52.52 || rt.Observer.Longitude != 13.40 || !rt.HasObserver {
		t.Fatalf("observer = %+v", rt.Observer)
	}
	if rt.Estimate.Mode != ModeOrbit || rt.Estimate.TLERefresh != "@every 2h" {
		t.Fatalf("estimate = %+v", rt.Estimate)
	}
	if !slices.Equal(rt.Scheduler.Thresholds, []float64{15, 5, 0}) || rt.Scheduler.WatchInterval != 30*time.Second {
		t.Fatalf("scheduler = %+v", rt.Scheduler)
	}
	if rt.Telegram.Target.ChatID != -100200 {
		t.Fatalf("telegram target = %+v", rt.Telegram.Target)
	}
	if !rt.Notifier.AutoGrant || rt.Notifier.DedupWindow != time.Minute {
		t.Fatalf("notifier = %+v", rt.Notifier)
	}
	if rt.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", rt.Storage)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body, want string
	}{
		{"unknown json field", "c.json", `{"observer":{"latitude":1,"longitude":2},"bogus":1}`, "bogus"},
		{"unknown yaml field", "c.yml", "observer:\n  lat: 1\n", "lat"},
		{"trailing data", "c.json", `{} {}`, "trailing"},
		{"bad yaml", "c.yaml", "observer: [", "yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.file, []byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.json", []byte(`{"observer":{"geolocate":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	rt, err := Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rt.HasObserver || !rt.Geolocate {
		t.Fatalf("observer flags: has=%v geolocate=%v", rt.HasObserver, rt.Geolocate)
	}
	if rt.Estimate.Mode != ModeRange || rt.Estimate.SampleGap != 10*time.Second {
		t.Fatalf("estimate defaults = %+v", rt.Estimate)
	}
	if !slices.Equal(rt.Scheduler.Thresholds, []float64{30, 5, 0}) ||
		rt.Scheduler.WatchInterval != time.Minute || rt.Scheduler.MaxWatchTicks != 30 {
		t.Fatalf("scheduler defaults = %+v", rt.Scheduler)
	}
	if !rt.Notifier.Enabled || rt.Storage.Driver != "none" || rt.MinElevationDeg != 10 {
		t.Fatalf("defaults: notifier=%+v storage=%+v elev=%v", rt.Notifier, rt.Storage, rt.MinElevationDeg)
	}
}

func TestResolveCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Observer:  ObserverConfig{Latitude: ptr(120)},
		Estimate:  EstimateConfig{Mode: "guess", SampleGap: "soon"},
		Scheduler: SchedulerConfig{Thresholds: []float64{30, -1}},
		Telemetry: TelemetryConfig{LocationEvery: "whenever"},
		Telegram:  TelegramConfig{Enabled: true},
		Storage:   &StorageConfig{Driver: "sqlite"},
	}
	_, err := Resolve(cfg)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{
		"latitude and longitude must be set together",
		"estimate.mode",
		"estimate.sample_gap",
		"scheduler.thresholds[1]",
		"telemetry.location_every",
		"telegram.token",
		"storage.path",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestManagerReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "isswatch.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"observer":{"latitude":1,"longitude":2}}`)

	m := NewManager(path, logx.Nop())
	if _, _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	updates := m.Subscribe(1)

	if changed, err := m.Reload(); err != nil || changed {
		t.Fatalf("unchanged file: changed=%v err=%v", changed, err)
	}

	write(`{"observer":{"latitude":1,"longitude":2},"scheduler":{"max_watch_ticks":5}}`)
	if changed, err := m.Reload(); err != nil || !changed {
		t.Fatalf("edited file: changed=%v err=%v", changed, err)
	}
	select {
	case u := <-updates:
		if u.Runtime.Scheduler.MaxWatchTicks != 5 {
			t.Fatalf("published ticks = %d", u.Runtime.Scheduler.MaxWatchTicks)
		}
	default:
		t.Fatal("no update published")
	}

	write(`{"observer":{"latitude":1,"longitude":2},"scheduler":{"watch_interval":"often"}}`)
	if _, err := m.Reload(); err == nil {
		t.Fatal("invalid file accepted")
	}
	if _, rt := m.Get(); rt.Scheduler.MaxWatchTicks != 5 {
		t.Fatalf("rejected reload replaced config: %+v", rt.Scheduler)
	}
	m.Unsubscribe(updates)
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "secret-1"}}
	b := &Config{Telegram: TelegramConfig{Token: "secret-2"}, Scheduler: SchedulerConfig{AutoRearm: true}}
	changed, _ := SummarizeChange(a, b)
	if !slices.Equal(changed, []string{"scheduler", "telegram"}) {
		t.Fatalf("changed = %v", changed)
	}
	if got := RestartRequired(a, b); !slices.Equal(got, []string{"telegram"}) {
		t.Fatalf("restart = %v", got)
	}
}

func ptr(v float64) *float64 { return &v }
