// Package app wires the daemon together: config, logging, storage, chat
// transport, notifier, estimate sources, the pass scheduler, telemetry and
// chat commands. It owns hot reload and the ordered shutdown.
package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"isswatch/internal/commands"
	"isswatch/internal/config"
	"isswatch/internal/estimate"
	"isswatch/internal/eventbus"
	"isswatch/internal/notifier"
	"isswatch/internal/pass"
	rtsup "isswatch/internal/runtime/supervisor"
	"isswatch/internal/storage"
	"isswatch/internal/telemetry"
	kit "isswatch/internal/transport"
	"isswatch/internal/transport/console"
	"isswatch/internal/transport/telegram"
	logx "isswatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	notif   *notifier.Service
	sink    *notifier.Sink

	src  *switchSource
	locs *estimate.LocationClient
	tles *estimate.TLEStore
	hc   *http.Client
	pass *passControl
	tel  *telemetry.Service
	cmds *commands.Router

	updates chan kit.Update
}

type options struct {
	in  io.Reader
	out io.Writer
	hc  *http.Client
}

type Option func(*options)

// WithConsole sets the streams used by the console transport.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(o *options) { o.in, o.out = in, out }
}

// WithHTTPClient replaces the client used for every outbound request.
func WithHTTPClient(hc *http.Client) Option { return func(o *options) { o.hc = hc } }

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{in: os.Stdin, out: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath, logx.Nop())
	_, rt, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(rt.Logging)
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	store, err := storage.Open(rt.Storage, log)
	if err != nil {
		return nil, err
	}
	if store != nil {
		appLog.Info("storage enabled", logx.String("driver", rt.Storage.Driver))
	} else {
		store = storage.NewMemory()
	}

	var (
		ad       kit.Adapter
		fallback kit.ChatTarget
		owners   []int64
	)
	if rt.Telegram.Enabled {
		tg, err := telegram.New(telegram.Config{
			Token:       rt.Telegram.Token,
			PollTimeout: rt.Telegram.PollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		ad, fallback, owners = tg, rt.Telegram.Target, rt.Telegram.Owners
	} else {
		ad = console.New(o.in, o.out, log.With(logx.String("comp", "console")))
		fallback = kit.ChatTarget{ChatID: console.ChatID}
	}

	notif := notifier.New(rt.Notifier, ad, log.With(logx.String("comp", "notifier")), bus, store)
	sink := notifier.NewSink(notif, store, fallback, log)

	hc := o.hc
	if hc == nil {
		hc = &http.Client{Timeout: rt.Estimate.Timeout}
	}
	locs := estimate.NewLocationClient(rt.Estimate.LocationURL, hc, rt.Estimate.RatePerSec)
	tles := estimate.NewTLEStore(rt.Estimate.TLEURL, rt.Estimate.TLECachePath, hc, log.With(logx.String("comp", "tle")))
	src := &switchSource{}
	src.set(buildSources(rt, locs, tles, hc, log))

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		sink:    sink,
		src:     src,
		locs:    locs,
		tles:    tles,
		hc:      hc,
		updates: make(chan kit.Update, 256),
	}

	a.pass = newPassControl(a.passOptions(rt), func(po pass.Options) *pass.Scheduler {
		return pass.New(src, sink, po)
	})

	a.tel = telemetry.New(telemetryConfig(rt), locs, a.pass, tles, bus, log)

	a.cmds = commands.NewRouter(ad, store, owners, log)
	a.cmds.Register(commands.Builtin(commands.Deps{
		Pass:            a.pass,
		Subs:            sink,
		Telemetry:       a.tel,
		Orbit:           src,
		Observer:        src,
		MinElevationDeg: rt.MinElevationDeg,
		Tasks:           a.tasks,
	})...)
	return a, nil
}

func (a *App) passOptions(rt *config.Runtime) pass.Options {
	return pass.Options{
		Thresholds:    rt.Scheduler.Thresholds,
		WatchInterval: rt.Scheduler.WatchInterval,
		MaxWatchTicks: rt.Scheduler.MaxWatchTicks,
		PollTimeout:   rt.Estimate.Timeout,
		Logger:        a.logs.Logger().With(logx.String("comp", "pass")),
		Bus:           a.bus,
	}
}

func telemetryConfig(rt *config.Runtime) telemetry.Config {
	return telemetry.Config{
		Enabled:       rt.Telemetry.Enabled,
		LocationEvery: rt.Telemetry.LocationEvery,
		EstimateEvery: rt.Telemetry.EstimateEvery,
		TLERefresh:    rt.Estimate.TLERefresh,
		JobTimeout:    rt.Estimate.Timeout,
	}
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Pass exposes the scheduler controls.
func (a *App) Pass() commands.PassControl { return a.pass }

func (a *App) tasks() []rtsup.TaskStats {
	var out []rtsup.TaskStats
	if a.sup != nil {
		out = append(out, a.sup.Snapshot()...)
	}
	if sup := a.notif.Supervisor(); sup != nil {
		out = append(out, sup.Snapshot()...)
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()
	_, rt := a.cfgm.Get()

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	if err := a.cmds.UpdateMenu(c); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
	if a.notif.Enabled() {
		a.notif.Start(c)
	}
	if err := a.tel.Start(c); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.Run(c, a.updates)
	})
	a.sup.Go0("pass.events", a.passEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.startSystemd(rt.Systemd)

	if rt.Scheduler.ArmOnStart {
		a.sup.Go0("pass.arm_on_start", func(c context.Context) { a.arm(c, "startup") })
	}

	a.log.Info("app started",
		logx.String("transport", a.adapter.Name()),
		logx.String("mode", rt.Estimate.Mode))
	return nil
}

// arm runs one Arm outside a chat command and logs the outcome.
func (a *App) arm(ctx context.Context, why string) {
	_, rt := a.cfgm.Get()
	timeout := 2 * rt.Estimate.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.pass.Arm(actx); err != nil {
		a.log.Warn("arm failed", logx.String("trigger", why), logx.Err(err))
		return
	}
	st := a.pass.State()
	a.log.Info("armed", logx.String("trigger", why),
		logx.String("phase", st.Phase.String()), logx.Float64("minutes", st.LastEstimate))
}
