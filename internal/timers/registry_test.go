package timers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isswatch/internal/clock"
	logx "isswatch/pkg/logx"
)

func newFake() *clock.Fake {
	return clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestScheduleFiresOnce(t *testing.T) {
	t.Parallel()
	clk := newFake()
	r := New(clk, logx.Nop())

	n := 0
	r.Schedule(time.Minute, func() { n++ })
	require.Equal(t, 1, r.Pending())

	clk.Advance(59 * time.Second)
	require.Equal(t, 0, n)
	clk.Advance(time.Second)
	require.Equal(t, 1, n)
	require.Equal(t, 0, r.Pending())

	clk.Advance(time.Hour)
	require.Equal(t, 1, n)
}

func TestScheduleClampsNegativeDelay(t *testing.T) {
	t.Parallel()
	clk := newFake()
	r := New(clk, logx.Nop())

	fired := false
	r.Schedule(-time.Second, func() { fired = true })
	require.Equal(t, []time.Duration{0}, r.Delays())
	clk.Fire()
	require.True(t, fired)
}

func TestCancelAllIsTotal(t *testing.T) {
	t.Parallel()
	clk := newFake()
	r := New(clk, logx.Nop())

	fired := 0
	r.Schedule(time.Second, func() { fired++ })
	r.Schedule(time.Minute, func() { fired++ })
	_, err := r.ScheduleRecurring(10*time.Second, func() { fired++ })
	require.NoError(t, err)

	r.CancelAll()
	require.Equal(t, 0, r.Pending())
	require.False(t, r.Recurring())
	require.Equal(t, 0, clk.Pending())

	clk.Advance(time.Hour)
	require.Equal(t, 0, fired)

	r.CancelAll()
	require.Equal(t, 0, r.Pending())
}

func TestCancelFromInsideCallback(t *testing.T) {
	t.Parallel()
	clk := newFake()
	r := New(clk, logx.Nop())

	var order []string
	r.Schedule(time.Second, func() {
		order = append(order, "first")
		r.CancelAll()
	})
	r.Schedule(time.Second, func() { order = append(order, "second") })

	clk.Advance(time.Second)
	require.Equal(t, []string{"first"}, order)
}

func TestRecurring(t *testing.T) {
	t.Parallel()
	clk := newFake()
	r := New(clk, logx.Nop())

	ticks := 0
	_, err := r.ScheduleRecurring(time.Minute, func() { ticks++ })
	require.NoError(t, err)

	_, err = r.ScheduleRecurring(time.Minute, func() {})
	require.ErrorIs(t, err, ErrRecurringActive)

	clk.Advance(5 * time.Minute)
	require.Equal(t, 5, ticks)
	require.True(t, r.Recurring())

	r.CancelAll()
	clk.Advance(5 * time.Minute)
	require.Equal(t, 5, ticks)

	_, err = r.ScheduleRecurring(time.Minute, func() {})
	require.NoError(t, err)
}

func TestRecurringStopsItself(t *testing.T) {
	t.Parallel()
	clk := newFake()
	r := New(clk, logx.Nop())

	ticks := 0
	_, err := r.ScheduleRecurring(time.Second, func() {
		ticks++
		if ticks == 3 {
			r.CancelAll()
		}
	})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	require.Equal(t, 3, ticks)
	require.False(t, r.Recurring())
	require.Equal(t, 0, clk.Pending())
}

func TestRecurringRejectsBadInterval(t *testing.T) {
	t.Parallel()
	r := New(newFake(), logx.Nop())
	_, err := r.ScheduleRecurring(0, func() {})
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestDelaysSorted(t *testing.T) {
	t.Parallel()
	r := New(newFake(), logx.Nop())
	r.Schedule(3*time.Minute, func() {})
	r.Schedule(time.Minute, func() {})
	r.Schedule(2*time.Minute, func() {})
	require.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute}, r.Delays())
}
