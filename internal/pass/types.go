// Package pass turns a single "minutes until in range" estimate into a staged
// sequence of pass notifications, then watches for the end of the pass.
//
// Lifecycle: Idle -> Armed (stage alerts pending) -> Watching (in range, polling)
// -> Idle. Arm and Cancel are valid from every phase and always discard the
// previous schedule first.
package pass

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied: the sink refused notification permission. No schedule was created.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrInvalidEstimate: the source returned NaN or an infinity.
	ErrInvalidEstimate = errors.New("invalid estimate")
	// ErrEstimateUnavailable wraps any failure of the estimate source.
	ErrEstimateUnavailable = errors.New("estimate unavailable")
	// ErrSuperseded: a newer Arm or a Cancel ran while this Arm was waiting on
	// permission or the estimate. Nothing was scheduled for this call.
	ErrSuperseded = errors.New("arm superseded")
)

// EstimateSource returns the minutes until the tracked object enters range.
// Zero or negative means it is in range now.
type EstimateSource interface {
	Estimate(ctx context.Context) (float64, error)
}

// EstimateFunc adapts a function to EstimateSource.
type EstimateFunc func(ctx context.Context) (float64, error)

func (f EstimateFunc) Estimate(ctx context.Context) (float64, error) { return f(ctx) }

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// NotificationSink delivers notifications. Send is fire-and-forget: an error is
// reported but never changes the schedule.
type NotificationSink interface {
	PermissionGranted(ctx context.Context) (bool, error)
	RequestPermission(ctx context.Context) (Permission, error)
	Send(ctx context.Context, title, body string) error
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArmed
	PhaseWatching
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseWatching:
		return "watching"
	default:
		return "unknown"
	}
}

// State is a point-in-time copy of the scheduler state.
type State struct {
	Phase        Phase
	Pending      int
	Watching     bool
	WatchTicks   int
	InFlightPoll bool
	ArmedAt      time.Time
	LastEstimate float64
	HasEstimate  bool
	EstimatedAt  time.Time
	LastError    string
}

// Event types published on the bus. Data is an EventData value.
const (
	EventArmed        = "pass.armed"
	EventStage        = "pass.stage"
	EventInRange      = "pass.in_range"
	EventWatchTick    = "pass.watch.tick"
	EventWatchSkip    = "pass.watch.skip"
	EventOutOfRange   = "pass.out_of_range"
	EventWatchExpired = "pass.watch.expired"
	EventCancelled    = "pass.cancelled"
	EventError        = "pass.error"
)

type EventData struct {
	Minutes   float64 `json:"minutes,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Tick      int     `json:"tick,omitempty"`
	Pending   int     `json:"pending,omitempty"`
	Error     string  `json:"error,omitempty"`
}
