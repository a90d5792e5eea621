package config

import (
	"reflect"

	logx "isswatch/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ and a few safe
// attributes describing the new values. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, differs bool, fields ...logx.Field) {
		if differs {
			changed = append(changed, name)
			attrs = append(attrs, fields...)
		}
	}

	section("observer", !reflect.DeepEqual(oldCfg.Observer, newCfg.Observer),
		logx.Bool("observer.geolocate", newCfg.Observer.Geolocate),
		logx.Float64("observer.min_elevation_deg", newCfg.Observer.MinElevationDeg))

	section("estimate", oldCfg.Estimate != newCfg.Estimate,
		logx.String("estimate.mode", newCfg.Estimate.Mode),
		logx.String("estimate.tle_refresh", newCfg.Estimate.TLERefresh))

	section("scheduler", !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler),
		logx.Any("scheduler.thresholds", newCfg.Scheduler.Thresholds),
		logx.String("scheduler.watch_interval", newCfg.Scheduler.WatchInterval),
		logx.Int("scheduler.max_watch_ticks", newCfg.Scheduler.MaxWatchTicks),
		logx.Bool("scheduler.auto_rearm", newCfg.Scheduler.AutoRearm))

	section("telemetry", oldCfg.Telemetry != newCfg.Telemetry,
		logx.Bool("telemetry.enabled", newCfg.Telemetry.Enabled))

	tOld, tNew := oldCfg.Telegram, newCfg.Telegram
	section("telegram", tOld.Enabled != tNew.Enabled || tOld.Token != tNew.Token ||
		tOld.ChatID != tNew.ChatID || tOld.ThreadID != tNew.ThreadID ||
		tOld.PollTimeout != tNew.PollTimeout || !reflect.DeepEqual(tOld.OwnerUserIDs, tNew.OwnerUserIDs),
		logx.Bool("telegram.enabled", tNew.Enabled),
		logx.Bool("telegram.token_changed", tOld.Token != tNew.Token),
		logx.Int("telegram.owner_count", len(tNew.OwnerUserIDs)))

	section("notifier", !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier),
		logx.Bool("notifier.set", newCfg.Notifier != nil))

	section("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage),
		logx.Bool("storage.set", newCfg.Storage != nil))

	section("logging", oldCfg.Logging != newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled))

	section("systemd", oldCfg.Systemd != newCfg.Systemd,
		logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog))

	return changed, attrs
}

// RestartRequired reports sections that are only read at startup.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	t0, t1 := oldCfg.Telegram, newCfg.Telegram
	if t0.Enabled != t1.Enabled || t0.Token != t1.Token || t0.PollTimeout != t1.PollTimeout {
		out = append(out, "telegram")
	}
	e0, e1 := oldCfg.Estimate, newCfg.Estimate
	if e0.LocationURL != e1.LocationURL || e0.TLEURL != e1.TLEURL || e0.TLECachePath != e1.TLECachePath ||
		e0.RatePerSec != e1.RatePerSec || e0.Timeout != e1.Timeout {
		out = append(out, "estimate")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		out = append(out, "systemd")
	}
	return out
}
