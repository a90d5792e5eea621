package app

import (
	"context"
	"fmt"
	"time"

	"isswatch/internal/config"
	logx "isswatch/pkg/logx"
	"isswatch/pkg/systemd"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

func (a *App) startSystemd(cfg config.SystemdConfig) {
	if cfg.Notify {
		if sent, err := systemd.Ready(); err != nil {
			a.log.Warn("sd_notify READY failed", logx.Err(err))
		} else if sent {
			a.log.Debug("sd_notify READY sent")
		}
	}
	if cfg.Watchdog {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, a.healthy, a.log.With(logx.String("comp", "systemd")))
		})
	}
}

// healthy is false once the supervisor recorded a fatal error.
func (a *App) healthy() bool { return a.sup != nil && a.sup.Err() == nil }

// Stop shuts down in dependency order: pass timers first so no alert is
// queued mid-shutdown, then telemetry, the notifier drain, the transport and
// storage. Every step is bounded so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, rt := a.cfgm.Get(); rt != nil && rt.Systemd.Notify {
		_, _ = systemd.Stopping()
	}

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(stepCtx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			}()
		}
	}

	step("pass", time.Second, func(context.Context) error { a.pass.Cancel(); return nil })
	step("telemetry", 2*time.Second, func(c context.Context) error { a.tel.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
