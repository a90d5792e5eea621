package config

// Config is the on-disk schema. Durations are Go duration strings ("10s",
// "1m") and schedules are cron specs ("@every 30s", "0 */6 * * *").
type Config struct {
	Observer  ObserverConfig  `json:"observer"`
	Estimate  EstimateConfig  `json:"estimate"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Telegram  TelegramConfig  `json:"telegram"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Systemd   SystemdConfig   `json:"systemd"`
}

// ObserverConfig locates the observer. Latitude and longitude are required
// unless geolocate is set, in which case they are the fallback when every
// IP lookup fails.
type ObserverConfig struct {
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	AltitudeKm      float64  `json:"altitude_km,omitempty"`
	Geolocate       bool     `json:"geolocate,omitempty"`
	MinElevationDeg float64  `json:"min_elevation_deg,omitempty"`
}

const (
	ModeRange = "range"
	ModeOrbit = "orbit"
)

// EstimateConfig selects how "minutes until in range" is computed.
//
//   - range: two live ISS fixes sample_gap apart, compared against the horizon
//     distance for min_elevation_deg.
//   - orbit: SGP4 propagation of the latest TLE, searching for the next rise.
type EstimateConfig struct {
	Mode         string  `json:"mode,omitempty"`
	LocationURL  string  `json:"location_url,omitempty"`
	TLEURL       string  `json:"tle_url,omitempty"`
	SampleGap    string  `json:"sample_gap,omitempty"`
	Timeout      string  `json:"timeout,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	TLERefresh   string  `json:"tle_refresh,omitempty"`
	TLECachePath string  `json:"tle_cache_path,omitempty"`
}

// SchedulerConfig drives the pass scheduler.
type SchedulerConfig struct {
	Thresholds    []float64 `json:"thresholds,omitempty"`
	WatchInterval string    `json:"watch_interval,omitempty"`
	MaxWatchTicks int       `json:"max_watch_ticks,omitempty"`
	ArmOnStart    bool      `json:"arm_on_start,omitempty"`
	AutoRearm     bool      `json:"auto_rearm,omitempty"`
	RearmDelay    string    `json:"rearm_delay,omitempty"`
}

type TelemetryConfig struct {
	Enabled       bool   `json:"enabled"`
	LocationEvery string `json:"location_every,omitempty"`
	EstimateEvery string `json:"estimate_every,omitempty"`
}

// TelegramConfig enables the Telegram transport. When disabled, commands are
// read from stdin and replies go to stdout.
type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"`
	ChatID       int64   `json:"chat_id,omitempty"`
	ThreadID     int     `json:"thread_id,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// NotifierConfig controls the async delivery pipeline. Omitting the section
// keeps it enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	AutoGrant       bool   `json:"auto_grant,omitempty"`
}

// StorageConfig selects the persistence driver: none, memory, file or sqlite.
//
//	"storage": { "driver": "sqlite", "path": "./isswatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SystemdConfig controls sd_notify integration. Both are no-ops when not
// running under systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}
