package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeAdvanceOrdersCallbacks(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var got []string
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	c.AfterFunc(time.Second, func() {
		got = append(got, "a")
		c.AfterFunc(500*time.Millisecond, func() { got = append(got, "a2") })
	})
	c.AfterFunc(2*time.Second, func() { got = append(got, "c") })
	c.AfterFunc(time.Hour, func() { got = append(got, "late") })

	c.Advance(3 * time.Second)

	want := []string{"a", "a2", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if !c.Now().Equal(start.Add(3 * time.Second)) {
		t.Fatalf("now = %v", c.Now())
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}
}

func TestFakeStop(t *testing.T) {
	t.Parallel()
	c := NewFake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("first Stop should report true")
	}
	if tm.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()
	c := NewFake(time.Unix(0, 0))

	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), c, 10*time.Second) }()

	deadline := time.Now().Add(time.Second)
	for c.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sleep never registered its timer")
		}
		time.Sleep(time.Millisecond)
	}
	c.Advance(10 * time.Second)
	if err := <-done; err != nil {
		t.Fatalf("Sleep: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, c, time.Hour); err == nil {
		t.Fatal("expected context error")
	}
}
