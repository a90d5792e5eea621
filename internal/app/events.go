package app

import (
	"context"
	"time"

	"isswatch/internal/pass"
	logx "isswatch/pkg/logx"
)

// passEvents follows pass lifecycle events: it logs them, re-arms after a
// finished pass when configured, and installs staged scheduler options once
// the scheduler is idle.
func (a *App) passEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64, "pass.")
	defer unsub()

	var (
		rearm   *time.Timer
		rearmCh <-chan time.Time
	)
	stopRearm := func() {
		if rearm != nil {
			rearm.Stop()
		}
		rearm, rearmCh = nil, nil
	}
	defer stopRearm()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rearmCh:
			rearm, rearmCh = nil, nil
			a.arm(ctx, "auto_rearm")
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))

			switch e.Type {
			case pass.EventArmed, pass.EventCancelled:
				stopRearm()
			case pass.EventOutOfRange, pass.EventWatchExpired:
				_, rt := a.cfgm.Get()
				if rt.Scheduler.AutoRearm {
					stopRearm()
					rearm = time.NewTimer(rt.Scheduler.RearmDelay)
					rearmCh = rearm.C
					a.log.Info("re-arm scheduled", logx.Duration("in", rt.Scheduler.RearmDelay))
				}
			}

			switch e.Type {
			case pass.EventOutOfRange, pass.EventWatchExpired, pass.EventCancelled, pass.EventError:
				if a.pass.trySwap() {
					a.log.Info("scheduler options applied")
				}
			}
		}
	}
}
