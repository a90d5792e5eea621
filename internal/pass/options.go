package pass

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"isswatch/internal/clock"
	"isswatch/internal/eventbus"
	logx "isswatch/pkg/logx"
)

const (
	DefaultWatchInterval = 60 * time.Second
	DefaultMaxWatchTicks = 30
)

// DefaultThresholds are the minutes-before-range at which alerts fire. The
// zero entry is the in-range alert itself.
func DefaultThresholds() []float64 { return []float64{30, 5, 0} }

type Message struct {
	Title string
	Body  string
}

// Messages holds notification texts. Stages is keyed by threshold minutes.
type Messages struct {
	Stages     map[float64]Message
	InRange    Message
	OutOfRange Message
}

func DefaultMessages() Messages {
	return Messages{
		Stages: map[float64]Message{
			30: {Title: "ISS in 30 minutes", Body: "Get ready."},
			5:  {Title: "ISS in 5 minutes", Body: "Almost time."},
		},
		InRange:    Message{Title: "ISS is in range", Body: "Look up!"},
		OutOfRange: Message{Title: "Goodbye", Body: "ISS is out of range."},
	}
}

// Stage returns the text for threshold t, synthesizing one when none is configured.
func (m Messages) Stage(t float64) Message {
	if msg, ok := m.Stages[t]; ok && msg.Title != "" {
		return msg
	}
	return Message{
		Title: "ISS in " + strconv.FormatFloat(t, 'f', -1, 64) + " minutes",
		Body:  "Get ready.",
	}
}

type Options struct {
	Thresholds    []float64
	WatchInterval time.Duration
	MaxWatchTicks int
	// PollTimeout bounds one watcher poll. Zero means no deadline.
	PollTimeout time.Duration
	Messages    Messages

	// OnError receives errors that do not abort anything: failed watcher polls
	// and failed sends.
	OnError func(error)

	Clock  clock.Clock
	Logger logx.Logger
	Bus    eventbus.Bus
}

func (o Options) withDefaults() Options {
	if o.Thresholds == nil {
		o.Thresholds = DefaultThresholds()
	}
	if o.WatchInterval <= 0 {
		o.WatchInterval = DefaultWatchInterval
	}
	if o.MaxWatchTicks <= 0 {
		o.MaxWatchTicks = DefaultMaxWatchTicks
	}
	if o.Messages.Stages == nil && o.Messages.InRange.Title == "" && o.Messages.OutOfRange.Title == "" {
		o.Messages = DefaultMessages()
	}
	def := DefaultMessages()
	if o.Messages.InRange.Title == "" {
		o.Messages.InRange = def.InRange
	}
	if o.Messages.OutOfRange.Title == "" {
		o.Messages.OutOfRange = def.OutOfRange
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger.IsZero() {
		o.Logger = logx.Nop()
	}
	return o
}

// stageThresholds returns the positive thresholds, descending and de-duplicated.
func stageThresholds(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	seen := map[float64]bool{}
	for _, t := range in {
		if t > 0 && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

// ValidateThresholds rejects negative or non-finite thresholds.
func ValidateThresholds(in []float64) error {
	for i, t := range in {
		if math.IsNaN(t) || t < 0 || t > 24*60 {
			return fmt.Errorf("thresholds[%d]: must be within 0..1440 minutes, got %v", i, t)
		}
	}
	return nil
}
