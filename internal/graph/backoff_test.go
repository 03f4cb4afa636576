package graph

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

// fakeClock drives a Backoff without real sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBackoff(clock *fakeClock) (*Backoff, *[]time.Duration) {
	b := NewBackoff(DefaultRateLimitPolicy(), log.New(io.Discard, "", 0))
	slept := &[]time.Duration{}
	b.now = clock.Now
	b.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		clock.Advance(d)
		return nil
	}
	return b, slept
}

func TestBackoff_CooldownSelection(t *testing.T) {
	tests := []struct {
		name     string
		gap      time.Duration // time between the end of the first cooldown and the second 429
		expected time.Duration
	}{
		{"isolated", 5 * time.Minute, 60 * time.Second},
		{"exactly threshold", 70 * time.Second, 60 * time.Second},
		{"sustained", 10 * time.Second, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
			b, slept := newTestBackoff(clock)
			ctx := context.Background()

			if _, err := b.Trip(ctx); err != nil {
				t.Fatalf("first Trip failed: %v", err)
			}
			clock.Advance(tt.gap)
			got, err := b.Trip(ctx)
			if err != nil {
				t.Fatalf("second Trip failed: %v", err)
			}

			if (*slept)[0] != 60*time.Second {
				t.Errorf("first cooldown = %v, want 60s", (*slept)[0])
			}
			if got != tt.expected {
				t.Errorf("second cooldown = %v, want %v", got, tt.expected)
			}
			if b.State() != Flowing {
				t.Errorf("state after Trip = %v, want flowing", b.State())
			}
		})
	}
}

func TestBackoff_GateBlocksNewRequests(t *testing.T) {
	b := NewBackoff(DefaultRateLimitPolicy(), log.New(io.Discard, "", 0))
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	b.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	var events []BackoffState
	var mu sync.Mutex
	b.Subscribe(func(ev BackoffEvent) {
		mu.Lock()
		events = append(events, ev.State)
		mu.Unlock()
	})

	ctx := context.Background()
	tripped := make(chan struct{})
	go func() {
		_, _ = b.Trip(ctx)
		close(tripped)
	}()
	<-entered

	if b.State() != Suspended {
		t.Fatalf("state = %v, want suspended", b.State())
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(waitCtx); err == nil {
		t.Fatal("Wait returned while suspended")
	}

	joined := make(chan time.Duration)
	go func() {
		d, _ := b.Trip(ctx)
		joined <- d
	}()
	time.Sleep(20 * time.Millisecond)

	close(release)
	<-tripped

	if d := <-joined; d != 0 {
		t.Errorf("concurrent Trip started its own cooldown of %v", d)
	}
	if err := b.Wait(ctx); err != nil {
		t.Errorf("Wait after resume failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != Suspended || events[1] != Flowing {
		t.Errorf("events = %v, want [suspended flowing]", events)
	}
}

func TestBackoff_WaitHonorsCancel(t *testing.T) {
	b := NewBackoff(DefaultRateLimitPolicy(), log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b.now = time.Now
	// Real sleep with a cancelled context returns immediately.
	if _, err := b.Trip(ctx); err == nil {
		t.Error("Trip with cancelled context should fail")
	}
	if b.State() != Flowing {
		t.Errorf("state = %v, want flowing after aborted cooldown", b.State())
	}
}
