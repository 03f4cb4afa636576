package graph

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// BackoffState is the state of the rate-limit controller.
type BackoffState int

const (
	// Flowing means requests are issued normally.
	Flowing BackoffState = iota
	// Suspended means new requests wait until the cooldown ends.
	Suspended
)

// String returns a human-readable representation of the state.
func (s BackoffState) String() string {
	switch s {
	case Flowing:
		return "flowing"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// RateLimitPolicy decides how long to cool down after a 429.
type RateLimitPolicy struct {
	// Threshold separates isolated throttling from a sustained limit. A 429
	// arriving at least Threshold after the previous one uses ShortCooldown.
	Threshold time.Duration

	// ShortCooldown is the pause after an isolated 429.
	ShortCooldown time.Duration

	// LongCooldown is the pause when 429s keep coming back.
	LongCooldown time.Duration
}

// DefaultRateLimitPolicy returns the cooldowns the OneNote API tolerates.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		Threshold:     70 * time.Second,
		ShortCooldown: 60 * time.Second,
		LongCooldown:  time.Hour,
	}
}

// BackoffEvent is delivered to subscribers on every state change.
type BackoffEvent struct {
	State    BackoffState
	Cooldown time.Duration
	At       time.Time
}

// Backoff suspends request issuance while the remote service throttles.
//
// Every request passes Wait before it is sent. A 429 response calls Trip,
// which moves the controller to Suspended, sleeps the cooldown and moves it
// back to Flowing. Requests already in flight are not affected. A Trip while
// already suspended waits for the running cooldown instead of starting a
// second one.
type Backoff struct {
	policy RateLimitPolicy
	logger *log.Logger

	mu          sync.Mutex
	state       BackoffState
	resume      chan struct{}
	lastTrigger time.Time // zero value is the far past
	subscribers []func(BackoffEvent)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBackoff creates a controller in the Flowing state.
func NewBackoff(policy RateLimitPolicy, logger *log.Logger) *Backoff {
	if logger == nil {
		logger = log.New(os.Stderr, "[graph] ", log.LstdFlags)
	}
	return &Backoff{
		policy: policy,
		logger: logger,
		state:  Flowing,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// State returns the current state.
func (b *Backoff) State() BackoffState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe registers fn for state changes. fn must not block.
func (b *Backoff) Subscribe(fn func(BackoffEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Cooldown returns the pause a 429 arriving at now would cause.
func (b *Backoff) Cooldown(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldownLocked(now)
}

func (b *Backoff) cooldownLocked(now time.Time) time.Duration {
	if b.lastTrigger.IsZero() || now.Sub(b.lastTrigger) >= b.policy.Threshold {
		return b.policy.ShortCooldown
	}
	return b.policy.LongCooldown
}

// Wait blocks while the controller is suspended.
func (b *Backoff) Wait(ctx context.Context) error {
	b.mu.Lock()
	if b.state == Flowing {
		b.mu.Unlock()
		return nil
	}
	resume := b.resume
	b.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trip handles a 429: it suspends issuance, sleeps the cooldown and resumes.
// It returns the cooldown it slept, or zero if it joined a running one.
func (b *Backoff) Trip(ctx context.Context) (time.Duration, error) {
	b.mu.Lock()
	if b.state == Suspended {
		resume := b.resume
		b.mu.Unlock()
		select {
		case <-resume:
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	cooldown := b.cooldownLocked(b.now())
	b.state = Suspended
	b.resume = make(chan struct{})
	b.mu.Unlock()

	b.logger.Printf("Rate limited, pausing requests for %v", cooldown)
	b.notify(BackoffEvent{State: Suspended, Cooldown: cooldown, At: b.now()})

	err := b.sleep(ctx, cooldown)

	b.mu.Lock()
	b.lastTrigger = b.now()
	b.state = Flowing
	close(b.resume)
	b.mu.Unlock()

	b.logger.Printf("Resuming requests")
	b.notify(BackoffEvent{State: Flowing, At: b.now()})

	return cooldown, err
}

func (b *Backoff) notify(ev BackoffEvent) {
	b.mu.Lock()
	subs := make([]func(BackoffEvent), len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
