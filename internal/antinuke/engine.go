package antinuke

import (
	"context"
	"time"

	"nukeguard/internal/config"
	"nukeguard/internal/metrics"
	"nukeguard/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Directory answers membership questions about a guild. Backed by the
// gateway session's state cache in production.
type Directory interface {
	GuildOwner(guildID string) string
	MemberRoles(guildID, userID string) []string
}

// Engine is the protection coordinator. RecordAction is its hot path: every
// observed administrative action flows through it, and a threshold crossing
// produces exactly one violation event with the response already executed.
type Engine struct {
	store      ConfigStore
	cache      *configCache
	ledger     *Ledger
	dispatcher *Dispatcher
	recorder   *Recorder
	directory  Directory
	logger     *zap.Logger
	metrics    *metrics.Metrics
	clock      Clock
	defaults   storage.ProtectionConfig
}

func NewEngine(
	store ConfigStore,
	dispatcher *Dispatcher,
	recorder *Recorder,
	directory Directory,
	logger *zap.Logger,
	m *metrics.Metrics,
	defaults storage.ProtectionConfig,
	cacheTTL time.Duration,
) *Engine {
	return &Engine{
		store:      store,
		cache:      newConfigCache(store, cacheTTL),
		ledger:     NewLedger(),
		dispatcher: dispatcher,
		recorder:   recorder,
		directory:  directory,
		logger:     logger,
		metrics:    m,
		clock:      systemClock{},
		defaults:   defaults,
	}
}

// DefaultProtection maps the process-level configuration onto the per-guild
// schema. Used both as the fallback for unconfigured guilds and as the seed
// row when a guild is configured for the first time.
func DefaultProtection(p config.ProtectionConfig) storage.ProtectionConfig {
	return storage.ProtectionConfig{
		Enabled:                p.Enabled,
		ResponseType:           p.ResponseType,
		WindowSeconds:          p.WindowSeconds,
		PanicModeEnabled:       p.PanicModeEnabled,
		ChannelCreateThreshold: p.Thresholds.ChannelCreate,
		ChannelDeleteThreshold: p.Thresholds.ChannelDelete,
		RoleCreateThreshold:    p.Thresholds.RoleCreate,
		RoleDeleteThreshold:    p.Thresholds.RoleDelete,
		MemberBanThreshold:     p.Thresholds.MemberBan,
		MemberKickThreshold:    p.Thresholds.MemberKick,
		MemberPruneThreshold:   p.Thresholds.MemberPrune,
		WebhookCreateThreshold: p.Thresholds.WebhookCreate,
		WebhookDeleteThreshold: p.Thresholds.WebhookDelete,
	}
}

// RecordAction ingests one observed administrative action. It returns the
// violation event when the action crossed (or stayed above) its threshold,
// nil otherwise. A response failure does not suppress the event; the
// outcome is captured on the event itself.
func (e *Engine) RecordAction(ctx context.Context, guildID, actorID string, action ActionType, metadata map[string]string) *storage.ViolationEvent {
	if guildID == "" || actorID == "" || !action.Valid() {
		e.logger.Debug("ignoring malformed action",
			zap.String("guild_id", guildID),
			zap.String("actor_id", actorID),
			zap.String("action", string(action)))
		return nil
	}

	now := e.clock.Now()

	cfg, err := e.cache.get(ctx, guildID, now)
	if err != nil {
		e.logger.Error("protection config load failed", zap.String("guild_id", guildID), zap.Error(err))
		return nil
	}
	if cfg == nil {
		fallback := e.defaults
		fallback.GuildID = guildID
		cfg = &fallback
	}
	if !cfg.Enabled {
		return nil
	}

	// Exempt actors leave no trace in the ledger.
	if IsExempt(cfg, actorID, e.directory.GuildOwner(guildID), e.directory.MemberRoles(guildID, actorID)) {
		return nil
	}

	window := time.Duration(cfg.WindowSeconds) * time.Second
	count := e.ledger.Record(guildID, actorID, action, window, now)
	e.metrics.IncActionRecorded(string(action))

	threshold := thresholdFor(cfg, action)
	if count < threshold {
		return nil
	}

	event := &storage.ViolationEvent{
		ID:            uuid.NewString(),
		GuildID:       guildID,
		ActorID:       actorID,
		ActionType:    string(action),
		ObservedCount: count,
		Threshold:     threshold,
		ResponseType:  cfg.ResponseType,
		Metadata:      metadata,
		CreatedAt:     now,
	}

	start := e.clock.Now()
	if err := e.dispatcher.Dispatch(ctx, cfg, event); err != nil {
		event.ResponseError = err.Error()
		e.metrics.IncResponseFailure(cfg.ResponseType)
		e.logger.Error("response dispatch failed",
			zap.String("guild_id", guildID),
			zap.String("actor_id", actorID),
			zap.String("action", string(action)),
			zap.String("response", cfg.ResponseType),
			zap.Error(err))
	} else {
		event.ResponseExecuted = true
	}
	e.metrics.ObserveDispatchLatency(e.clock.Now().Sub(start))
	e.metrics.IncViolation(string(action), cfg.ResponseType)

	e.logger.Warn("threshold violation",
		zap.String("guild_id", guildID),
		zap.String("actor_id", actorID),
		zap.String("action", string(action)),
		zap.Int("count", count),
		zap.Int("threshold", threshold),
		zap.String("response", cfg.ResponseType),
		zap.Bool("executed", event.ResponseExecuted))

	e.recorder.Record(event)
	return event
}

// Protection loads a guild's configuration for the command surface, seeding
// the process defaults when the guild has never been configured.
func (e *Engine) Protection(ctx context.Context, guildID string) (*storage.ProtectionConfig, error) {
	return e.store.GetOrCreateProtection(ctx, guildID, e.defaults)
}

// UpdateProtection persists a configuration change and drops the cached copy
// so the next recorded action sees it.
func (e *Engine) UpdateProtection(ctx context.Context, cfg storage.ProtectionConfig) error {
	if err := e.store.SaveProtection(ctx, cfg); err != nil {
		return err
	}
	e.cache.invalidate(cfg.GuildID)
	return nil
}

func (e *Engine) AddExemptUser(ctx context.Context, guildID, userID string) error {
	if _, err := e.store.GetOrCreateProtection(ctx, guildID, e.defaults); err != nil {
		return err
	}
	if err := e.store.AddExemptUser(ctx, guildID, userID); err != nil {
		return err
	}
	e.cache.invalidate(guildID)
	return nil
}

func (e *Engine) RemoveExemptUser(ctx context.Context, guildID, userID string) error {
	if err := e.store.RemoveExemptUser(ctx, guildID, userID); err != nil {
		return err
	}
	e.cache.invalidate(guildID)
	return nil
}

func (e *Engine) AddExemptRole(ctx context.Context, guildID, roleID string) error {
	if _, err := e.store.GetOrCreateProtection(ctx, guildID, e.defaults); err != nil {
		return err
	}
	if err := e.store.AddExemptRole(ctx, guildID, roleID); err != nil {
		return err
	}
	e.cache.invalidate(guildID)
	return nil
}

func (e *Engine) RemoveExemptRole(ctx context.Context, guildID, roleID string) error {
	if err := e.store.RemoveExemptRole(ctx, guildID, roleID); err != nil {
		return err
	}
	e.cache.invalidate(guildID)
	return nil
}

// RunSweeper prunes idle ledger entries until the context is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ledger.Sweep(e.clock.Now())
			e.metrics.SetLedgerKeys(e.ledger.Len())
		}
	}
}
