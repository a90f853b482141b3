package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ProtectionConfig is the per-guild antinuke configuration. Rows are created
// lazily the first time a guild's configuration is written or explicitly
// requested with GetOrCreateProtection; the detection hot path reads without
// creating and falls back to defaults for unknown guilds.
type ProtectionConfig struct {
	GuildID          string
	Enabled          bool
	ResponseType     string
	WindowSeconds    int
	PanicModeEnabled bool
	QuarantineRoleID string
	LogChannelID     string

	ChannelCreateThreshold int
	ChannelDeleteThreshold int
	RoleCreateThreshold    int
	RoleDeleteThreshold    int
	MemberBanThreshold     int
	MemberKickThreshold    int
	MemberPruneThreshold   int
	WebhookCreateThreshold int
	WebhookDeleteThreshold int

	ExemptUserIDs []string
	ExemptRoleIDs []string
}

// ValidateProtection rejects invariant violations at configuration-write
// time so the detection path never has to re-check them.
func ValidateProtection(cfg ProtectionConfig) error {
	if cfg.GuildID == "" {
		return errors.New("guild id is required")
	}
	if cfg.WindowSeconds < 1 {
		return fmt.Errorf("window_seconds must be >= 1, got %d", cfg.WindowSeconds)
	}
	thresholds := map[string]int{
		"channel_create": cfg.ChannelCreateThreshold,
		"channel_delete": cfg.ChannelDeleteThreshold,
		"role_create":    cfg.RoleCreateThreshold,
		"role_delete":    cfg.RoleDeleteThreshold,
		"member_ban":     cfg.MemberBanThreshold,
		"member_kick":    cfg.MemberKickThreshold,
		"member_prune":   cfg.MemberPruneThreshold,
		"webhook_create": cfg.WebhookCreateThreshold,
		"webhook_delete": cfg.WebhookDeleteThreshold,
	}
	for name, value := range thresholds {
		if value < 1 {
			return fmt.Errorf("%s threshold must be >= 1, got %d", name, value)
		}
	}
	switch cfg.ResponseType {
	case "quarantine", "ban", "kick", "log_only", "panic":
	default:
		return fmt.Errorf("unknown response type %q", cfg.ResponseType)
	}
	return nil
}

// GetProtection returns the stored configuration for a guild, or nil when
// the guild has never been configured.
func (s *Store) GetProtection(ctx context.Context, guildID string) (*ProtectionConfig, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT enabled, response_type, window_seconds, panic_mode_enabled,
		quarantine_role_id, log_channel_id,
		channel_create_threshold, channel_delete_threshold,
		role_create_threshold, role_delete_threshold,
		member_ban_threshold, member_kick_threshold, member_prune_threshold,
		webhook_create_threshold, webhook_delete_threshold
		FROM guild_protection WHERE guild_id = ?`), guildID)

	cfg := ProtectionConfig{GuildID: guildID}
	var enabled, panicMode int
	err := row.Scan(
		&enabled,
		&cfg.ResponseType,
		&cfg.WindowSeconds,
		&panicMode,
		&cfg.QuarantineRoleID,
		&cfg.LogChannelID,
		&cfg.ChannelCreateThreshold,
		&cfg.ChannelDeleteThreshold,
		&cfg.RoleCreateThreshold,
		&cfg.RoleDeleteThreshold,
		&cfg.MemberBanThreshold,
		&cfg.MemberKickThreshold,
		&cfg.MemberPruneThreshold,
		&cfg.WebhookCreateThreshold,
		&cfg.WebhookDeleteThreshold,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cfg.Enabled = enabled == 1
	cfg.PanicModeEnabled = panicMode == 1

	if cfg.ExemptUserIDs, err = s.ListExemptUsers(ctx, guildID); err != nil {
		return nil, err
	}
	if cfg.ExemptRoleIDs, err = s.ListExemptRoles(ctx, guildID); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetOrCreateProtection loads a guild's configuration, inserting the given
// defaults when no row exists yet.
func (s *Store) GetOrCreateProtection(ctx context.Context, guildID string, defaults ProtectionConfig) (*ProtectionConfig, error) {
	cfg, err := s.GetProtection(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	defaults.GuildID = guildID
	if err := s.SaveProtection(ctx, defaults); err != nil {
		return nil, err
	}
	defaults.ExemptUserIDs = nil
	defaults.ExemptRoleIDs = nil
	return &defaults, nil
}

// SaveProtection validates and upserts the scalar configuration. Exemption
// lists are managed through the exempt-user/role operations.
func (s *Store) SaveProtection(ctx context.Context, cfg ProtectionConfig) error {
	if err := ValidateProtection(cfg); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO guild_protection (
			guild_id, enabled, response_type, window_seconds, panic_mode_enabled,
			quarantine_role_id, log_channel_id,
			channel_create_threshold, channel_delete_threshold,
			role_create_threshold, role_delete_threshold,
			member_ban_threshold, member_kick_threshold, member_prune_threshold,
			webhook_create_threshold, webhook_delete_threshold
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			response_type = excluded.response_type,
			window_seconds = excluded.window_seconds,
			panic_mode_enabled = excluded.panic_mode_enabled,
			quarantine_role_id = excluded.quarantine_role_id,
			log_channel_id = excluded.log_channel_id,
			channel_create_threshold = excluded.channel_create_threshold,
			channel_delete_threshold = excluded.channel_delete_threshold,
			role_create_threshold = excluded.role_create_threshold,
			role_delete_threshold = excluded.role_delete_threshold,
			member_ban_threshold = excluded.member_ban_threshold,
			member_kick_threshold = excluded.member_kick_threshold,
			member_prune_threshold = excluded.member_prune_threshold,
			webhook_create_threshold = excluded.webhook_create_threshold,
			webhook_delete_threshold = excluded.webhook_delete_threshold
	`),
		cfg.GuildID,
		boolToInt(cfg.Enabled),
		cfg.ResponseType,
		cfg.WindowSeconds,
		boolToInt(cfg.PanicModeEnabled),
		cfg.QuarantineRoleID,
		cfg.LogChannelID,
		cfg.ChannelCreateThreshold,
		cfg.ChannelDeleteThreshold,
		cfg.RoleCreateThreshold,
		cfg.RoleDeleteThreshold,
		cfg.MemberBanThreshold,
		cfg.MemberKickThreshold,
		cfg.MemberPruneThreshold,
		cfg.WebhookCreateThreshold,
		cfg.WebhookDeleteThreshold,
	)
	return err
}

func (s *Store) AddExemptUser(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO protection_exempt_users (guild_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`), guildID, userID)
	return err
}

func (s *Store) RemoveExemptUser(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM protection_exempt_users WHERE guild_id = ? AND user_id = ?`), guildID, userID)
	return err
}

func (s *Store) ListExemptUsers(ctx context.Context, guildID string) ([]string, error) {
	return s.listIDs(ctx, `SELECT user_id FROM protection_exempt_users WHERE guild_id = ? ORDER BY user_id`, guildID)
}

func (s *Store) AddExemptRole(ctx context.Context, guildID, roleID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO protection_exempt_roles (guild_id, role_id) VALUES (?, ?) ON CONFLICT DO NOTHING`), guildID, roleID)
	return err
}

func (s *Store) RemoveExemptRole(ctx context.Context, guildID, roleID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM protection_exempt_roles WHERE guild_id = ? AND role_id = ?`), guildID, roleID)
	return err
}

func (s *Store) ListExemptRoles(ctx context.Context, guildID string) ([]string, error) {
	return s.listIDs(ctx, `SELECT role_id FROM protection_exempt_roles WHERE guild_id = ? ORDER BY role_id`, guildID)
}

func (s *Store) listIDs(ctx context.Context, query, guildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
