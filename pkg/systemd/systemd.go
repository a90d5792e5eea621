// Package systemd reports service state to the systemd manager over
// sd_notify. Outside a systemd unit (no NOTIFY_SOCKET) every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "isswatch/pkg/logx"
)

func notify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func Ready() (bool, error)    { return notify(daemon.SdNotifyReady) }
func Stopping() (bool, error) { return notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(s string) (bool, error) { return notify("STATUS=" + s) }

// WatchdogInterval returns the configured WatchdogSec, or zero when the
// watchdog is off for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

// Watchdog pings the manager at half the watchdog interval until ctx ends.
// healthy is consulted before each ping; a false answer skips the ping so
// systemd restarts a wedged process.
func Watchdog(ctx context.Context, healthy func() bool, log logx.Logger) {
	interval := WatchdogInterval()
	if interval <= 0 {
		log.Debug("systemd watchdog not enabled")
		return
	}
	every := interval / 2
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				log.Warn("unhealthy; skipping watchdog ping")
				continue
			}
			if _, err := notify(daemon.SdNotifyWatchdog); err != nil {
				log.Debug("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
