package lockdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

// ChannelState captures one channel's @everyone overwrite before a lockdown
// so Release can put it back exactly as it was.
type ChannelState struct {
	ChannelID string
	Allow     int64
	Deny      int64
	Existed   bool
}

type Snapshot []ChannelState

// Channels applies and reverts guild-wide channel locks.
type Channels interface {
	LockChannels(ctx context.Context, guildID string) (Snapshot, error)
	RestoreChannels(ctx context.Context, guildID string, snapshot Snapshot) error
}

// Manager holds per-guild lockdown state. A lockdown snapshots channel
// permissions, denies sends, and schedules an automatic release; releasing
// restores the snapshot. Trigger is idempotent while a lockdown is active.
type Manager struct {
	channels Channels
	logger   *zap.Logger
	clock    Clock
	duration time.Duration

	mu     sync.Mutex
	active map[string]*guildLock
}

type guildLock struct {
	snapshot Snapshot
	timer    Timer
	since    time.Time
}

func New(channels Channels, logger *zap.Logger, duration time.Duration) *Manager {
	if duration <= 0 {
		duration = 10 * time.Minute
	}
	return &Manager{
		channels: channels,
		logger:   logger,
		clock:    realClock{},
		duration: duration,
		active:   make(map[string]*guildLock),
	}
}

func (m *Manager) WithClock(clock Clock) {
	m.clock = clock
}

// Trigger locks the guild down. Returns false without error when a lockdown
// is already in progress.
func (m *Manager) Trigger(ctx context.Context, guildID, reason string) (bool, error) {
	m.mu.Lock()
	if _, ok := m.active[guildID]; ok {
		m.mu.Unlock()
		return false, nil
	}
	// Reserve the slot before the slow channel calls so a concurrent
	// trigger for the same guild bails out above.
	lock := &guildLock{since: m.clock.Now()}
	m.active[guildID] = lock
	m.mu.Unlock()

	snapshot, err := m.channels.LockChannels(ctx, guildID)
	if err != nil {
		m.mu.Lock()
		delete(m.active, guildID)
		m.mu.Unlock()
		return false, fmt.Errorf("lock channels: %w", err)
	}

	m.mu.Lock()
	lock.snapshot = snapshot
	lock.timer = m.clock.AfterFunc(m.duration, func() {
		if err := m.Release(context.Background(), guildID); err != nil {
			m.logger.Error("scheduled lockdown release failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	})
	m.mu.Unlock()

	m.logger.Warn("guild lockdown applied",
		zap.String("guild_id", guildID),
		zap.String("reason", reason),
		zap.Int("channels", len(snapshot)),
		zap.Duration("duration", m.duration))
	return true, nil
}

// Release restores the pre-lockdown permissions. Returns nil when no
// lockdown is active.
func (m *Manager) Release(ctx context.Context, guildID string) error {
	m.mu.Lock()
	lock, ok := m.active[guildID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.active, guildID)
	m.mu.Unlock()

	if lock.timer != nil {
		lock.timer.Stop()
	}
	if err := m.channels.RestoreChannels(ctx, guildID, lock.snapshot); err != nil {
		return fmt.Errorf("restore channels: %w", err)
	}
	m.logger.Info("guild lockdown released", zap.String("guild_id", guildID))
	return nil
}

// Active reports whether a lockdown is in progress and since when.
func (m *Manager) Active(guildID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.active[guildID]
	if !ok {
		return time.Time{}, false
	}
	return lock.since, true
}
