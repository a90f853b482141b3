package antinuke

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nukeguard/internal/storage"
)

// Platform issues mitigating actions against the chat platform. Every call
// is a single outbound request; retry policy does not belong here.
type Platform interface {
	GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	LockdownGuild(ctx context.Context, guildID, reason string) error
	SendLogMessage(ctx context.Context, channelID string, event *storage.ViolationEvent) error
}

// Dispatcher executes the configured response for a violation. Each platform
// call runs under a bounded timeout so a hung request cannot stall the
// detection pipeline.
type Dispatcher struct {
	platform Platform
	timeout  time.Duration
}

func NewDispatcher(platform Platform, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{platform: platform, timeout: timeout}
}

// Dispatch runs the response named by the event. The returned error is
// descriptive and final: no retries are attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg *storage.ProtectionConfig, event *storage.ViolationEvent) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	reason := fmt.Sprintf("antinuke: %s threshold exceeded (%d/%d)", event.ActionType, event.ObservedCount, event.Threshold)

	switch ResponseType(event.ResponseType) {
	case ResponseQuarantine:
		return d.quarantine(ctx, cfg, event, reason)
	case ResponseBan:
		if err := d.platform.BanMember(ctx, event.GuildID, event.ActorID, reason); err != nil {
			return fmt.Errorf("ban failed: %w", err)
		}
		return nil
	case ResponseKick:
		if err := d.platform.KickMember(ctx, event.GuildID, event.ActorID, reason); err != nil {
			return fmt.Errorf("kick failed: %w", err)
		}
		return nil
	case ResponseLogOnly:
		return nil
	case ResponsePanic:
		// Without panic mode armed this degrades to the implied quarantine.
		// A lockdown failure must not skip the quarantine; both errors are
		// reported together.
		var lockErr error
		if cfg.PanicModeEnabled {
			if err := d.platform.LockdownGuild(ctx, event.GuildID, reason); err != nil {
				lockErr = fmt.Errorf("lockdown failed: %w", err)
			}
		}
		return errors.Join(lockErr, d.quarantine(ctx, cfg, event, reason))
	default:
		return fmt.Errorf("unknown response type %q", event.ResponseType)
	}
}

func (d *Dispatcher) quarantine(ctx context.Context, cfg *storage.ProtectionConfig, event *storage.ViolationEvent, reason string) error {
	if cfg.QuarantineRoleID == "" {
		return errors.New("quarantine role not configured")
	}
	if err := d.platform.GrantRole(ctx, event.GuildID, event.ActorID, cfg.QuarantineRoleID, reason); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}
	return nil
}
