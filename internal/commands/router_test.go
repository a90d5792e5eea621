package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isswatch/internal/clock"
	"isswatch/internal/estimate"
	"isswatch/internal/pass"
	"isswatch/internal/storage"
	"isswatch/internal/telemetry"
	kit "isswatch/internal/transport"
	logx "isswatch/pkg/logx"
)

type chatAdapter struct {
	mu       sync.Mutex
	replies  []string
	opts     []*kit.SendOptions
	answered []string
	menu     []kit.BotCommand
}

func (a *chatAdapter) Name() string                                   { return "chat" }
func (a *chatAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *chatAdapter) Stop(context.Context) error                     { return nil }

func (a *chatAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	a.opts = append(a.opts, opt)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *chatAdapter) AnswerCallback(_ context.Context, id, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answered = append(a.answered, id+":"+text)
	return nil
}

func (a *chatAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.menu = cmds
	return nil
}

func (a *chatAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		return ""
	}
	return a.replies[len(a.replies)-1]
}

type fakePass struct {
	armErr   error
	state    pass.State
	delays   []time.Duration
	armed    int
	cancels  int
	onArmSet pass.Phase
}

func (p *fakePass) Arm(context.Context) error {
	p.armed++
	if p.armErr != nil {
		return p.armErr
	}
	p.state.Phase = p.onArmSet
	return nil
}
func (p *fakePass) Cancel()                        { p.cancels++; p.state = pass.State{} }
func (p *fakePass) State() pass.State              { return p.state }
func (p *fakePass) PendingDelays() []time.Duration { return p.delays }

type fakeSubs struct{ subs []kit.ChatTarget }

func (s *fakeSubs) Subscribe(_ context.Context, t kit.ChatTarget) error {
	s.subs = append(s.subs, t)
	return nil
}

func (s *fakeSubs) Unsubscribe(_ context.Context, t kit.ChatTarget) error {
	out := s.subs[:0]
	for _, x := range s.subs {
		if x != t {
			out = append(out, x)
		}
	}
	s.subs = out
	return nil
}

func (s *fakeSubs) Subscribers(context.Context) ([]kit.ChatTarget, error) { return s.subs, nil }

type fakeTelemetry struct {
	snap    telemetry.Snapshot
	fresh   estimate.Location
	fetched int
}

func (f *fakeTelemetry) Snapshot() telemetry.Snapshot { return f.snap }
func (f *fakeTelemetry) RefreshLocation(context.Context) (estimate.Location, error) {
	f.fetched++
	return f.fresh, nil
}

type fakeOrbit struct{ span, step time.Duration }

func (o *fakeOrbit) Path(_ context.Context, span, step time.Duration) ([]estimate.Location, error) {
	o.span, o.step = span, step
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	return []estimate.Location{
		{Latitude: -10, Longitude: 100, Time: base},
		{Latitude: 12.5, Longitude: -30.25, Time: base.Add(step)},
	}, nil
}

type env struct {
	ad    *chatAdapter
	pass  *fakePass
	subs  *fakeSubs
	tel   *fakeTelemetry
	orbit *fakeOrbit
	store storage.Store
	clk   *clock.Fake
	r     *Router
}

func newEnv(owners ...int64) *env {
	e := &env{
		ad:    &chatAdapter{},
		pass:  &fakePass{onArmSet: pass.PhaseArmed},
		subs:  &fakeSubs{},
		tel:   &fakeTelemetry{},
		orbit: &fakeOrbit{},
		store: storage.NewMemory(),
		clk:   clock.NewFake(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)),
	}
	e.r = NewRouter(e.ad, e.store, owners, logx.Nop())
	e.r.Register(Builtin(Deps{
		Pass:      e.pass,
		Subs:      e.subs,
		Telemetry: e.tel,
		Orbit:     e.orbit,
		Observer:  estimate.StaticObserver{Latitude: 0, Longitude: 0},
		Clock:     e.clk,
	})...)
	return e
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 100, FromID: from, Text: text}}
}

func TestRouting(t *testing.T) {
	t.Parallel()
	e := newEnv()
	ctx := context.Background()

	e.r.Handle(ctx, msg(1, "hello there"))
	require.Empty(t, e.ad.replies, "plain text is ignored")

	e.r.Handle(ctx, msg(1, "/nope"))
	require.Contains(t, e.ad.last(), "Unknown command")

	e.r.Handle(ctx, msg(1, "/help@isswatch_bot"))
	for _, name := range []string{"/arm", "/cancel", "/status", "/where", "/orbit [minutes]", "/subscribe", "/unsubscribe", "/help"} {
		require.Contains(t, e.ad.last(), name)
	}

	e.r.Handle(ctx, msg(1, "/STOP"))
	require.Equal(t, 1, e.pass.cancels, "aliases are case-insensitive")
}

func TestOwnerOnly(t *testing.T) {
	t.Parallel()
	e := newEnv(7)
	ctx := context.Background()

	e.r.Handle(ctx, msg(8, "/arm"))
	require.Equal(t, "unauthorized", e.ad.last())
	require.Zero(t, e.pass.armed)

	e.r.Handle(ctx, msg(8, "/status"))
	require.Contains(t, e.ad.last(), "Phase: idle")

	e.r.Handle(ctx, msg(7, "/arm"))
	require.Equal(t, 1, e.pass.armed)
}

func TestCallbackRouting(t *testing.T) {
	t.Parallel()
	e := newEnv()
	e.pass.state = pass.State{Phase: pass.PhaseArmed, Pending: 2}
	e.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", ChatID: 100, FromID: 1, Data: "cancel"}})
	require.Equal(t, 1, e.pass.cancels)
	require.Equal(t, []string{"cb1:"}, e.ad.answered)
	require.Equal(t, "Cancelled (armed, 2 pending).", e.ad.last())
}

func TestArmReplies(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"denied", pass.ErrPermissionDenied, "/subscribe"},
		{"superseded", pass.ErrSuperseded, "newer"},
		{"estimate", errors.Join(pass.ErrEstimateUnavailable, errors.New("timeout")), "Could not estimate"},
		{"other", errors.New("disk on fire"), "Error: disk on fire"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv()
			e.pass.armErr = tc.err
			e.r.Handle(context.Background(), msg(1, "/arm"))
			require.Contains(t, e.ad.last(), tc.want)
		})
	}

	t.Run("armed", func(t *testing.T) {
		t.Parallel()
		e := newEnv()
		e.pass.state.LastEstimate = 32.5
		e.pass.delays = []time.Duration{150 * time.Second, 1650 * time.Second}
		e.r.Handle(context.Background(), msg(1, "/arm"))
		got := e.ad.last()
		require.Contains(t, got, "32.5 min")
		require.Contains(t, got, "alert at 20:02:30")
		require.Contains(t, got, "alert at 20:27:30")

		entries, err := e.store.RecentAudit(context.Background(), 5)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "command.arm", entries[0].Action)
		require.True(t, entries[0].OK)
	})

	t.Run("in range", func(t *testing.T) {
		t.Parallel()
		e := newEnv()
		e.pass.onArmSet = pass.PhaseWatching
		e.r.Handle(context.Background(), msg(1, "/arm"))
		require.Contains(t, e.ad.last(), "in range now")
	})
}

func TestSubscribe(t *testing.T) {
	t.Parallel()
	e := newEnv()
	ctx := context.Background()
	e.r.Handle(ctx, msg(1, "/subscribe"))
	require.Equal(t, []kit.ChatTarget{{ChatID: 100}}, e.subs.subs)
	e.r.Handle(ctx, msg(1, "/status"))
	require.Contains(t, e.ad.last(), "Subscribers: 1")
	e.r.Handle(ctx, msg(1, "/unsubscribe"))
	require.Empty(t, e.subs.subs)
}

func TestWhereRefreshesStaleFix(t *testing.T) {
	t.Parallel()
	e := newEnv()
	e.tel.fresh = estimate.Location{Latitude: 0, Longitude: 10, AltitudeKm: 420, VelocityKmh: 27600}
	e.r.Handle(context.Background(), msg(1, "/where"))
	require.Equal(t, 1, e.tel.fetched)
	got := e.ad.last()
	require.Contains(t, got, "0.00°N 10.00°E")
	require.Contains(t, got, "1112 km from you")

	e.tel.snap = telemetry.Snapshot{Location: estimate.Location{Latitude: -5, Longitude: -5}, LocationAt: e.clk.Now().Add(-30 * time.Second)}
	e.r.Handle(context.Background(), msg(1, "/where"))
	require.Equal(t, 1, e.tel.fetched, "fresh snapshot is reused")
	require.Contains(t, e.ad.last(), "5.00°S 5.00°W")
}

func TestOrbit(t *testing.T) {
	t.Parallel()
	e := newEnv()
	e.r.Handle(context.Background(), msg(1, "/orbit 45"))
	require.Equal(t, 45*time.Minute, e.orbit.span)
	require.Equal(t, 5*time.Minute, e.orbit.step)
	require.Contains(t, e.ad.last(), "10.00°S 100.00°E")

	e.r.Handle(context.Background(), msg(1, "/orbit 9999"))
	require.Equal(t, 180*time.Minute, e.orbit.span)

	e.r.Handle(context.Background(), msg(1, "/orbit soon"))
	require.True(t, strings.HasPrefix(e.ad.last(), "Usage"))
}

func TestUpdateMenu(t *testing.T) {
	t.Parallel()
	e := newEnv()
	require.NoError(t, e.r.UpdateMenu(context.Background()))
	require.Len(t, e.ad.menu, 8)
	require.Equal(t, "help", e.ad.menu[0].Command)
}

func TestRunDispatches(t *testing.T) {
	t.Parallel()
	e := newEnv()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- e.r.Run(ctx, updates) }()

	updates <- msg(1, "/status")
	require.Eventually(t, func() bool { return strings.Contains(e.ad.last(), "Phase") }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestFormatters(t *testing.T) {
	t.Parallel()
	require.Equal(t, "now", formatMinutes(-1))
	require.Equal(t, "32.5 min", formatMinutes(32.5))
	require.Equal(t, "2h05m", formatMinutes(125))
	require.Equal(t, "45s", formatAge(45*time.Second))
	require.Equal(t, "3m07s", formatAge(187*time.Second))
}
