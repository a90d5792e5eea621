package app

import (
	"context"
	"reflect"
	"strings"
	"time"

	"isswatch/internal/config"
	"isswatch/internal/transport/telegram"
	logx "isswatch/pkg/logx"
	"isswatch/pkg/systemd"
)

// reloadLoop applies committed config updates to the running services.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastCfg, lastRT := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest update matters.
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						break drain
					}
					u = newer
				default:
					break drain
				}
			}
			a.apply(ctx, lastCfg, lastRT, u)
			lastCfg, lastRT = u.Config, u.Runtime
		}
	}
}

func (a *App) apply(ctx context.Context, oldCfg *config.Config, oldRT *config.Runtime, u config.Update) {
	sections, attrs := config.SummarizeChange(oldCfg, u.Config)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rt := u.Runtime
	_, _ = systemd.Status("reloading config")

	if restart := config.RestartRequired(oldCfg, u.Config); len(restart) > 0 {
		a.log.Warn("restart required for some changes", logx.String("sections", strings.Join(restart, ",")))
	}

	// Logging first so the rest of the reload logs at the new level.
	a.logs.Apply(rt.Logging)

	if _, ok := a.adapter.(*telegram.Adapter); ok {
		a.cmds.SetOwners(rt.Telegram.Owners)
		a.sink.SetFallback(rt.Telegram.Target)
	}

	prevNotif := a.notif.Enabled()
	a.notif.Apply(rt.Notifier)
	switch {
	case prevNotif && !rt.Notifier.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prevNotif && rt.Notifier.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	if !reflect.DeepEqual(oldRT.Observer, rt.Observer) || oldRT.HasObserver != rt.HasObserver ||
		oldRT.Geolocate != rt.Geolocate || oldRT.MinElevationDeg != rt.MinElevationDeg ||
		oldRT.Estimate.Mode != rt.Estimate.Mode || oldRT.Estimate.SampleGap != rt.Estimate.SampleGap {
		a.src.set(buildSources(rt, a.locs, a.tles, a.hc, a.logs.Logger()))
		a.log.Info("estimate source rebuilt", logx.String("mode", rt.Estimate.Mode))
	}

	if !reflect.DeepEqual(oldRT.Scheduler, rt.Scheduler) || oldRT.Estimate.Timeout != rt.Estimate.Timeout {
		if a.pass.stage(a.passOptions(rt)) {
			a.log.Info("scheduler options applied")
		} else {
			a.log.Info("scheduler options staged until the current pass ends")
		}
	}

	if err := a.tel.Apply(telemetryConfig(rt)); err != nil {
		a.log.Warn("telemetry reschedule failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	_, _ = systemd.Status("running")
}
