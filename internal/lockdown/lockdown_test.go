package lockdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	funcs []func()
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, f)
	return &fakeTimer{}
}

func (c *fakeClock) fire() {
	c.mu.Lock()
	funcs := c.funcs
	c.funcs = nil
	c.mu.Unlock()
	for _, f := range funcs {
		f()
	}
}

type fakeChannels struct {
	mu       sync.Mutex
	locks    int
	restores int
	restored Snapshot
	lockErr  error
}

func (c *fakeChannels) LockChannels(ctx context.Context, guildID string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockErr != nil {
		return nil, c.lockErr
	}
	c.locks++
	return Snapshot{{ChannelID: "c1", Allow: 1, Deny: 2, Existed: true}}, nil
}

func (c *fakeChannels) RestoreChannels(ctx context.Context, guildID string, snapshot Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restores++
	c.restored = snapshot
	return nil
}

func TestTriggerAndRelease(t *testing.T) {
	channels := &fakeChannels{}
	manager := New(channels, zap.NewNop(), time.Minute)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	manager.WithClock(clock)

	ctx := context.Background()
	applied, err := manager.Trigger(ctx, "g1", "test")
	if err != nil || !applied {
		t.Fatalf("trigger: applied=%t err=%v", applied, err)
	}
	if _, active := manager.Active("g1"); !active {
		t.Fatalf("lockdown should be active")
	}

	// A second trigger while active is a no-op.
	applied, err = manager.Trigger(ctx, "g1", "test")
	if err != nil || applied {
		t.Fatalf("second trigger should be idempotent: applied=%t err=%v", applied, err)
	}
	if channels.locks != 1 {
		t.Fatalf("expected one lock pass, got %d", channels.locks)
	}

	if err := manager.Release(ctx, "g1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if channels.restores != 1 {
		t.Fatalf("expected one restore pass, got %d", channels.restores)
	}
	if len(channels.restored) != 1 || channels.restored[0].ChannelID != "c1" {
		t.Fatalf("snapshot not round-tripped: %+v", channels.restored)
	}
	if _, active := manager.Active("g1"); active {
		t.Fatalf("lockdown should have ended")
	}
}

func TestScheduledRelease(t *testing.T) {
	channels := &fakeChannels{}
	manager := New(channels, zap.NewNop(), time.Minute)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	manager.WithClock(clock)

	if _, err := manager.Trigger(context.Background(), "g1", "test"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	clock.fire()
	if _, active := manager.Active("g1"); active {
		t.Fatalf("timer should have released the lockdown")
	}
	if channels.restores != 1 {
		t.Fatalf("expected restore from timer, got %d", channels.restores)
	}
}

func TestTriggerFailureClearsState(t *testing.T) {
	channels := &fakeChannels{lockErr: errors.New("api down")}
	manager := New(channels, zap.NewNop(), time.Minute)

	if _, err := manager.Trigger(context.Background(), "g1", "test"); err == nil {
		t.Fatalf("expected lock error")
	}
	if _, active := manager.Active("g1"); active {
		t.Fatalf("failed trigger must not leave the guild marked locked")
	}
}

func TestReleaseWithoutLockdown(t *testing.T) {
	manager := New(&fakeChannels{}, zap.NewNop(), time.Minute)
	if err := manager.Release(context.Background(), "g1"); err != nil {
		t.Fatalf("release without lockdown should be a no-op, got %v", err)
	}
}
