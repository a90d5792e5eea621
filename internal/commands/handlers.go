package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"isswatch/internal/clock"
	"isswatch/internal/estimate"
	"isswatch/internal/pass"
	rtsup "isswatch/internal/runtime/supervisor"
	"isswatch/internal/telemetry"
	kit "isswatch/internal/transport"
)

type PassControl interface {
	Arm(ctx context.Context) error
	Cancel()
	State() pass.State
	PendingDelays() []time.Duration
}

type Subscriptions interface {
	Subscribe(ctx context.Context, t kit.ChatTarget) error
	Unsubscribe(ctx context.Context, t kit.ChatTarget) error
	Subscribers(ctx context.Context) ([]kit.ChatTarget, error)
}

type TelemetryView interface {
	Snapshot() telemetry.Snapshot
	RefreshLocation(ctx context.Context) (estimate.Location, error)
}

type OrbitPath interface {
	Path(ctx context.Context, span, step time.Duration) ([]estimate.Location, error)
}

// Deps are the services the built-in commands talk to. Orbit and Observer
// may be nil; the commands needing them then say so.
type Deps struct {
	Pass            PassControl
	Subs            Subscriptions
	Telemetry       TelemetryView
	Orbit           OrbitPath
	Observer        estimate.ObserverSource
	MinElevationDeg float64
	Clock           clock.Clock
	// Tasks reports supervised goroutines for /status.
	Tasks func() []rtsup.TaskStats
}

const (
	armTimeout      = 45 * time.Second
	locationMaxAge  = 2 * time.Minute
	defaultOrbitMin = 90
	maxOrbitMin     = 180
)

var passButtons = [][]kit.Button{{{Text: "Status", Data: "status"}, {Text: "Cancel", Data: "cancel"}}}

// Builtin returns the pass commands.
func Builtin(d Deps) []Command {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	return []Command{
		{
			Name:        "arm",
			Description: "schedule alerts for the next pass",
			Access:      AccessOwnerOnly,
			Audited:     true,
			Timeout:     armTimeout,
			Handle:      d.arm,
		},
		{
			Name:        "cancel",
			Aliases:     []string{"stop"},
			Description: "drop all pending alerts",
			Access:      AccessOwnerOnly,
			Audited:     true,
			Handle:      d.cancel,
		},
		{
			Name:        "status",
			Description: "scheduler and telemetry state",
			Handle:      d.status,
		},
		{
			Name:        "where",
			Description: "current ISS position",
			Timeout:     20 * time.Second,
			Handle:      d.where,
		},
		{
			Name:        "orbit",
			Usage:       "/orbit [minutes]",
			Description: "ground track around now",
			Timeout:     20 * time.Second,
			Handle:      d.orbit,
		},
		{
			Name:        "subscribe",
			Description: "send pass alerts to this chat",
			Access:      AccessOwnerOnly,
			Audited:     true,
			Handle:      d.subscribe,
		},
		{
			Name:        "unsubscribe",
			Description: "stop pass alerts in this chat",
			Access:      AccessOwnerOnly,
			Audited:     true,
			Handle:      d.unsubscribe,
		},
	}
}

func (d Deps) arm(ctx context.Context, req *Request) error {
	err := d.Pass.Arm(ctx)
	switch {
	case err == nil:
	case errors.Is(err, pass.ErrPermissionDenied):
		return req.Reply(ctx, "No chat is subscribed to alerts. Use /subscribe first.", nil)
	case errors.Is(err, pass.ErrSuperseded):
		return req.Reply(ctx, "A newer /arm or /cancel took over.", nil)
	case errors.Is(err, pass.ErrEstimateUnavailable), errors.Is(err, pass.ErrInvalidEstimate):
		return req.Reply(ctx, "Could not estimate the next pass: "+err.Error(), nil)
	default:
		return err
	}

	st := d.Pass.State()
	if st.Phase == pass.PhaseWatching {
		return req.Reply(ctx, "ISS is in range now. Watching for the end of the pass.", &kit.SendOptions{Buttons: passButtons})
	}
	now := d.Clock.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "Armed. ISS in range in %s.\n", formatMinutes(st.LastEstimate))
	for _, delay := range d.Pass.PendingDelays() {
		fmt.Fprintf(&b, "  alert at %s\n", now.Add(delay).Format("15:04:05"))
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"), &kit.SendOptions{Buttons: passButtons})
}

func (d Deps) cancel(ctx context.Context, req *Request) error {
	before := d.Pass.State()
	d.Pass.Cancel()
	if before.Phase == pass.PhaseIdle {
		return req.Reply(ctx, "Nothing was scheduled.", nil)
	}
	return req.Reply(ctx, fmt.Sprintf("Cancelled (%s, %d pending).", before.Phase, before.Pending), nil)
}

func (d Deps) status(ctx context.Context, req *Request) error {
	now := d.Clock.Now()
	st := d.Pass.State()
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\n", st.Phase)
	if st.Phase != pass.PhaseIdle {
		fmt.Fprintf(&b, "Armed: %s ago\n", formatAge(now.Sub(st.ArmedAt)))
	}
	if st.Pending > 0 {
		fmt.Fprintf(&b, "Pending alerts: %d\n", st.Pending)
	}
	if st.Watching {
		fmt.Fprintf(&b, "Watch ticks: %d", st.WatchTicks)
		if st.InFlightPoll {
			b.WriteString(" (polling)")
		}
		b.WriteString("\n")
	}
	if st.HasEstimate {
		fmt.Fprintf(&b, "Last estimate: %s (%s ago)\n", formatMinutes(st.LastEstimate), formatAge(now.Sub(st.EstimatedAt)))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", st.LastError)
	}

	if d.Subs != nil {
		if subs, err := d.Subs.Subscribers(ctx); err == nil {
			fmt.Fprintf(&b, "Subscribers: %d\n", len(subs))
		}
	}
	if d.Telemetry != nil {
		snap := d.Telemetry.Snapshot()
		if !snap.LocationAt.IsZero() {
			fmt.Fprintf(&b, "ISS: %s, %s ago\n", formatLatLon(snap.Location.Latitude, snap.Location.Longitude), formatAge(now.Sub(snap.LocationAt)))
		}
		if !snap.EstimateAt.IsZero() {
			fmt.Fprintf(&b, "Telemetry estimate: %s\n", formatMinutes(snap.Minutes))
		}
		if !snap.TLE.Epoch.IsZero() {
			fmt.Fprintf(&b, "TLE epoch: %s\n", snap.TLE.Epoch.UTC().Format("2006-01-02 15:04Z"))
		}
	}
	if d.Tasks != nil {
		restarts, panics := 0, 0
		tasks := d.Tasks()
		for _, t := range tasks {
			restarts += t.Restarts
			panics += t.Panics
		}
		fmt.Fprintf(&b, "Tasks: %d (restarts %d, panics %d)\n", len(tasks), restarts, panics)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"), &kit.SendOptions{Buttons: [][]kit.Button{{{Text: "Refresh", Data: "status"}}}})
}

func (d Deps) where(ctx context.Context, req *Request) error {
	if d.Telemetry == nil {
		return errors.New("telemetry is not available")
	}
	now := d.Clock.Now()
	snap := d.Telemetry.Snapshot()
	loc, at := snap.Location, snap.LocationAt
	if at.IsZero() || now.Sub(at) > locationMaxAge {
		fresh, err := d.Telemetry.RefreshLocation(ctx)
		if err != nil {
			return fmt.Errorf("locate ISS: %w", err)
		}
		loc, at = fresh, now
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ISS at %s\n", formatLatLon(loc.Latitude, loc.Longitude))
	fmt.Fprintf(&b, "Altitude %.0f km, speed %.0f km/h\n", loc.AltitudeKm, loc.VelocityKmh)
	if d.Observer != nil {
		if obs, err := d.Observer.Observer(ctx); err == nil {
			dist := estimate.HaversineKm(obs.Latitude, obs.Longitude, loc.Latitude, loc.Longitude)
			reach := estimate.MaxGroundDistanceKm(loc.AltitudeKm, d.minElevation())
			fmt.Fprintf(&b, "%.0f km from you (in range within %.0f km)\n", dist, reach)
		}
	}
	fmt.Fprintf(&b, "Fix age: %s", formatAge(now.Sub(at)))
	return req.Reply(ctx, b.String(), nil)
}

func (d Deps) minElevation() float64 {
	if d.MinElevationDeg > 0 {
		return d.MinElevationDeg
	}
	return estimate.DefaultMinElevationDeg
}

func (d Deps) orbit(ctx context.Context, req *Request) error {
	if d.Orbit == nil {
		return errors.New("orbit data is not available")
	}
	span := defaultOrbitMin
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			return req.Reply(ctx, "Usage: /orbit [minutes]", nil)
		}
		span = min(n, maxOrbitMin)
	}
	step := max(span/9, 1)
	path, err := d.Orbit.Path(ctx, time.Duration(span)*time.Minute, time.Duration(step)*time.Minute)
	if err != nil {
		return fmt.Errorf("orbit: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ground track, ±%d min:\n", span)
	for _, p := range path {
		fmt.Fprintf(&b, "%s  %s\n", p.Time.Local().Format("15:04"), formatLatLon(p.Latitude, p.Longitude))
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"), nil)
}

func (d Deps) subscribe(ctx context.Context, req *Request) error {
	if err := d.Subs.Subscribe(ctx, req.Chat); err != nil {
		return err
	}
	return req.Reply(ctx, "This chat will get pass alerts. Use /arm to schedule the next pass.", nil)
}

func (d Deps) unsubscribe(ctx context.Context, req *Request) error {
	if err := d.Subs.Unsubscribe(ctx, req.Chat); err != nil {
		return err
	}
	return req.Reply(ctx, "This chat will no longer get pass alerts.", nil)
}
