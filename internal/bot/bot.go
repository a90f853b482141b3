package bot

import (
	"context"
	"time"

	"nukeguard/internal/antinuke"
	"nukeguard/internal/config"
	"nukeguard/internal/lockdown"
	"nukeguard/internal/metrics"
	"nukeguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorOK    = 0x2ECC71
	colorWarn  = 0xE67E22
	colorError = 0xE74C3C
)

type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.Store
	session  *discordgo.Session
	engine   *antinuke.Engine
	recorder *antinuke.Recorder
	lockdown *lockdown.Manager
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, m *metrics.Metrics) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildWebhooks

	b := &Bot{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		session: session,
	}

	b.lockdown = lockdown.New(
		&channelLocker{session: session, logger: logger},
		logger,
		time.Duration(cfg.Protection.LockdownMinutes)*time.Minute,
	)

	platform := &sessionPlatform{session: session, lockdown: b.lockdown}
	dispatcher := antinuke.NewDispatcher(platform, time.Duration(cfg.Protection.DispatchTimeoutSeconds)*time.Second)

	b.recorder = antinuke.NewRecorder(store, logger, m, cfg.Protection.AuditQueueSize)
	b.recorder.SetNotifier(b.notifyViolation)

	b.engine = antinuke.NewEngine(
		store,
		dispatcher,
		b.recorder,
		b,
		logger,
		m,
		antinuke.DefaultProtection(cfg.Protection),
		time.Duration(cfg.Protection.CacheTTLSeconds)*time.Second,
	)

	return b, nil
}

// Engine exposes the protection coordinator for background tasks.
func (b *Bot) Engine() *antinuke.Engine { return b.engine }

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onWebhooksUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
	b.recorder.Close()
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", len(event.Guilds)))
}

// GuildOwner reports the guild owner's user id, empty when unknown.
func (b *Bot) GuildOwner(guildID string) string {
	guild, err := b.session.State.Guild(guildID)
	if err != nil || guild == nil {
		guild, _ = b.session.Guild(guildID)
	}
	if guild == nil {
		return ""
	}
	return guild.OwnerID
}

// MemberRoles reports the actor's role ids, nil when the member is unknown.
func (b *Bot) MemberRoles(guildID, userID string) []string {
	member, err := b.session.State.Member(guildID, userID)
	if err != nil || member == nil {
		member, _ = b.session.GuildMember(guildID, userID)
	}
	if member == nil {
		return nil
	}
	return member.Roles
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	actorID := b.resolveAuditActor(event.Channel.GuildID, discordgo.AuditLogActionChannelCreate, event.Channel.ID)
	b.recordAction(event.Channel.GuildID, actorID, antinuke.ActionChannelCreate, event.Channel.ID)
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	actorID := b.resolveAuditActor(event.Channel.GuildID, discordgo.AuditLogActionChannelDelete, event.Channel.ID)
	b.recordAction(event.Channel.GuildID, actorID, antinuke.ActionChannelDelete, event.Channel.ID)
}

func (b *Bot) onRoleCreate(session *discordgo.Session, event *discordgo.GuildRoleCreate) {
	if event.GuildID == "" || event.Role == nil {
		return
	}
	actorID := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionRoleCreate, event.Role.ID)
	b.recordAction(event.GuildID, actorID, antinuke.ActionRoleCreate, event.Role.ID)
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	if event.GuildID == "" || event.RoleID == "" {
		return
	}
	actorID := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionRoleDelete, event.RoleID)
	b.recordAction(event.GuildID, actorID, antinuke.ActionRoleDelete, event.RoleID)
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	actorID := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionMemberBanAdd, event.User.ID)
	b.recordAction(event.GuildID, actorID, antinuke.ActionMemberBan, event.User.ID)
}

// onGuildMemberRemove distinguishes kicks and prunes from voluntary leaves
// via the audit log; a leave resolves no actor and is dropped.
func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	if actorID := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionMemberKick, event.User.ID); actorID != "" {
		b.recordAction(event.GuildID, actorID, antinuke.ActionMemberKick, event.User.ID)
		return
	}
	// Prune entries carry no target id.
	if actorID := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionMemberPrune, ""); actorID != "" {
		b.recordAction(event.GuildID, actorID, antinuke.ActionMemberPrune, "")
	}
}

// onWebhooksUpdate fires for both creations and deletions; the audit log
// decides which one happened.
func (b *Bot) onWebhooksUpdate(session *discordgo.Session, event *discordgo.WebhooksUpdate) {
	if event.GuildID == "" {
		return
	}
	if actorID := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionWebhookCreate, ""); actorID != "" {
		b.recordAction(event.GuildID, actorID, antinuke.ActionWebhookCreate, event.ChannelID)
		return
	}
	if actorID := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionWebhookDelete, ""); actorID != "" {
		b.recordAction(event.GuildID, actorID, antinuke.ActionWebhookDelete, event.ChannelID)
	}
}

func (b *Bot) recordAction(guildID, actorID string, action antinuke.ActionType, targetID string) {
	if actorID == "" {
		return
	}
	if b.session.State.User != nil && actorID == b.session.State.User.ID {
		return
	}
	var metadata map[string]string
	if targetID != "" {
		metadata = map[string]string{"target_id": targetID}
	}
	b.engine.RecordAction(context.Background(), guildID, actorID, action, metadata)
}

// resolveAuditActor finds who performed a gateway event by scanning recent
// audit log entries. Entries older than 30 seconds are considered stale.
func (b *Bot) resolveAuditActor(guildID string, actionType discordgo.AuditLogAction, targetID string) string {
	logs, err := b.session.GuildAuditLog(guildID, "", "", int(actionType), 5)
	if err != nil || logs == nil {
		return ""
	}
	for _, entry := range logs.AuditLogEntries {
		if entry == nil {
			continue
		}
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		ts, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err == nil && time.Since(ts) > 30*time.Second {
			continue
		}
		return entry.UserID
	}
	return ""
}

// notifyViolation mirrors a persisted violation event to the guild's log
// channel, falling back to the process-wide default.
func (b *Bot) notifyViolation(ctx context.Context, event *storage.ViolationEvent) {
	channelID := b.cfg.DefaultLogChannel
	if cfg, err := b.store.GetProtection(ctx, event.GuildID); err == nil && cfg != nil && cfg.LogChannelID != "" {
		channelID = cfg.LogChannelID
	}
	if channelID == "" {
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, violationEmbed(event), discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn("violation log message failed",
			zap.String("guild_id", event.GuildID),
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
}
