package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"nukeguard/internal/antinuke"
	"nukeguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Antinuke", "This command only works in a server.", colorError, nil), true)
		return
	}
	if !isAdmin(interaction) {
		b.respondEmbed(session, interaction, b.commandEmbed("Antinuke", "Administrator permission required.", colorError, nil), true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "antinuke":
		b.handleToggleCommand(ctx, session, interaction, data.Options)
	case "antinuke-response":
		b.handleResponseCommand(ctx, session, interaction, data.Options)
	case "antinuke-threshold":
		b.handleThresholdCommand(ctx, session, interaction, data.Options)
	case "antinuke-window":
		b.handleWindowCommand(ctx, session, interaction, data.Options)
	case "antinuke-panic":
		b.handlePanicCommand(ctx, session, interaction, data.Options)
	case "antinuke-role":
		b.handleRoleCommand(ctx, session, interaction, data.Options)
	case "antinuke-logs":
		b.handleLogsCommand(ctx, session, interaction, data.Options)
	case "antinuke-exempt":
		b.handleExemptCommand(ctx, session, interaction, data.Options)
	case "antinuke-report":
		b.handleReportCommand(ctx, session, interaction, data.Options)
	case "lockdown":
		b.handleLockdownCommand(ctx, session, interaction, data.Options)
	}
}

func isAdmin(interaction *discordgo.InteractionCreate) bool {
	if interaction.Member == nil {
		return false
	}
	return interaction.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func (b *Bot) handleToggleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondError(session, interaction, "Antinuke")
		return
	}
	action := options[0].StringValue()

	cfg, err := b.engine.Protection(ctx, interaction.GuildID)
	if err != nil {
		b.logger.Warn("protection load failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondError(session, interaction, "Antinuke")
		return
	}

	switch action {
	case "status":
		_, locked := b.lockdown.Active(interaction.GuildID)
		fields := []*discordgo.MessageEmbedField{
			{Name: "Enabled", Value: fmt.Sprintf("%t", cfg.Enabled), Inline: true},
			{Name: "Response", Value: cfg.ResponseType, Inline: true},
			{Name: "Window", Value: fmt.Sprintf("%ds", cfg.WindowSeconds), Inline: true},
			{Name: "Panic mode", Value: fmt.Sprintf("%t", cfg.PanicModeEnabled), Inline: true},
			{Name: "Lockdown", Value: fmt.Sprintf("%t", locked), Inline: true},
			{Name: "Exemptions", Value: fmt.Sprintf("%d users, %d roles", len(cfg.ExemptUserIDs), len(cfg.ExemptRoleIDs)), Inline: true},
			{Name: "Thresholds", Value: formatThresholds(cfg), Inline: false},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Antinuke status", "Current protection settings.", colorOK, fields), true)
	case "enable", "disable":
		cfg.Enabled = action == "enable"
		if err := b.engine.UpdateProtection(ctx, *cfg); err != nil {
			b.logger.Warn("protection update failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
			b.respondError(session, interaction, "Antinuke")
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Enabled", Value: fmt.Sprintf("%t", cfg.Enabled), Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Antinuke", "Protection updated.", colorOK, fields), true)
	default:
		b.respondError(session, interaction, "Antinuke")
	}
}

func (b *Bot) handleResponseCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondError(session, interaction, "Antinuke response")
		return
	}
	value := options[0].StringValue()

	cfg, err := b.engine.Protection(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Antinuke response")
		return
	}
	cfg.ResponseType = value
	if err := b.engine.UpdateProtection(ctx, *cfg); err != nil {
		b.respondError(session, interaction, "Antinuke response")
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Response", Value: value, Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Antinuke response", "Response updated.", colorOK, fields), true)
}

func (b *Bot) handleThresholdCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) < 2 {
		b.respondError(session, interaction, "Antinuke threshold")
		return
	}
	action := antinuke.ActionType(options[0].StringValue())
	value := int(options[1].IntValue())
	if !action.Valid() || value < 1 {
		b.respondEmbed(session, interaction, b.commandEmbed("Antinuke threshold", "Threshold must be at least 1.", colorError, nil), true)
		return
	}

	cfg, err := b.engine.Protection(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Antinuke threshold")
		return
	}
	switch action {
	case antinuke.ActionChannelCreate:
		cfg.ChannelCreateThreshold = value
	case antinuke.ActionChannelDelete:
		cfg.ChannelDeleteThreshold = value
	case antinuke.ActionRoleCreate:
		cfg.RoleCreateThreshold = value
	case antinuke.ActionRoleDelete:
		cfg.RoleDeleteThreshold = value
	case antinuke.ActionMemberBan:
		cfg.MemberBanThreshold = value
	case antinuke.ActionMemberKick:
		cfg.MemberKickThreshold = value
	case antinuke.ActionMemberPrune:
		cfg.MemberPruneThreshold = value
	case antinuke.ActionWebhookCreate:
		cfg.WebhookCreateThreshold = value
	case antinuke.ActionWebhookDelete:
		cfg.WebhookDeleteThreshold = value
	}
	if err := b.engine.UpdateProtection(ctx, *cfg); err != nil {
		b.respondError(session, interaction, "Antinuke threshold")
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Action", Value: string(action), Inline: true},
		{Name: "Threshold", Value: fmt.Sprintf("%d", value), Inline: true},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Antinuke threshold", "Threshold updated.", colorOK, fields), true)
}

func (b *Bot) handleWindowCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondError(session, interaction, "Antinuke window")
		return
	}
	seconds := int(options[0].IntValue())
	if seconds < 1 {
		b.respondEmbed(session, interaction, b.commandEmbed("Antinuke window", "Window must be at least 1 second.", colorError, nil), true)
		return
	}

	cfg, err := b.engine.Protection(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Antinuke window")
		return
	}
	cfg.WindowSeconds = seconds
	if err := b.engine.UpdateProtection(ctx, *cfg); err != nil {
		b.respondError(session, interaction, "Antinuke window")
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Window", Value: fmt.Sprintf("%ds", seconds), Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Antinuke window", "Window updated.", colorOK, fields), true)
}

func (b *Bot) handlePanicCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondError(session, interaction, "Antinuke panic")
		return
	}
	value := options[0].StringValue()

	cfg, err := b.engine.Protection(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Antinuke panic")
		return
	}
	cfg.PanicModeEnabled = value == "on"
	if err := b.engine.UpdateProtection(ctx, *cfg); err != nil {
		b.respondError(session, interaction, "Antinuke panic")
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Panic mode", Value: value, Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Antinuke panic", "Panic mode updated.", colorOK, fields), true)
}

func (b *Bot) handleRoleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondError(session, interaction, "Antinuke role")
		return
	}
	role := options[0].RoleValue(session, interaction.GuildID)
	if role == nil {
		b.respondError(session, interaction, "Antinuke role")
		return
	}

	cfg, err := b.engine.Protection(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Antinuke role")
		return
	}
	cfg.QuarantineRoleID = role.ID
	if err := b.engine.UpdateProtection(ctx, *cfg); err != nil {
		b.respondError(session, interaction, "Antinuke role")
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Quarantine role", Value: "<@&" + role.ID + ">", Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Antinuke role", "Quarantine role updated.", colorOK, fields), true)
}

func (b *Bot) handleLogsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	cfg, err := b.engine.Protection(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Antinuke logs")
		return
	}

	if len(options) == 0 {
		value := cfg.LogChannelID
		if value == "" {
			value = "not set"
		} else {
			value = "<#" + value + ">"
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: value, Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Antinuke logs", "Current log channel.", colorOK, fields), true)
		return
	}

	channel := options[0].ChannelValue(session)
	if channel == nil {
		b.respondError(session, interaction, "Antinuke logs")
		return
	}
	cfg.LogChannelID = channel.ID
	if err := b.engine.UpdateProtection(ctx, *cfg); err != nil {
		b.respondError(session, interaction, "Antinuke logs")
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: "<#" + channel.ID + ">", Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Antinuke logs", "Log channel updated.", colorOK, fields), true)
}

func (b *Bot) handleExemptCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondError(session, interaction, "Antinuke exempt")
		return
	}
	action := options[0].StringValue()

	var userID, roleID string
	for _, option := range options[1:] {
		switch option.Name {
		case "user":
			if user := option.UserValue(session); user != nil {
				userID = user.ID
			}
		case "role":
			if role := option.RoleValue(session, interaction.GuildID); role != nil {
				roleID = role.ID
			}
		}
	}

	switch action {
	case "list":
		cfg, err := b.engine.Protection(ctx, interaction.GuildID)
		if err != nil {
			b.respondError(session, interaction, "Antinuke exempt")
			return
		}
		fields := []*discordgo.MessageEmbedField{
			{Name: "Users", Value: formatMentions(cfg.ExemptUserIDs, "<@"), Inline: false},
			{Name: "Roles", Value: formatMentions(cfg.ExemptRoleIDs, "<@&"), Inline: false},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Antinuke exemptions", "Exempt users and roles.", colorOK, fields), true)
		return
	case "add", "remove":
	default:
		b.respondError(session, interaction, "Antinuke exempt")
		return
	}

	if userID == "" && roleID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Antinuke exempt", "Provide a user or a role.", colorError, nil), true)
		return
	}

	var err error
	var value string
	switch {
	case userID != "" && action == "add":
		err = b.engine.AddExemptUser(ctx, interaction.GuildID, userID)
		value = "<@" + userID + ">"
	case userID != "":
		err = b.engine.RemoveExemptUser(ctx, interaction.GuildID, userID)
		value = "<@" + userID + ">"
	case action == "add":
		err = b.engine.AddExemptRole(ctx, interaction.GuildID, roleID)
		value = "<@&" + roleID + ">"
	default:
		err = b.engine.RemoveExemptRole(ctx, interaction.GuildID, roleID)
		value = "<@&" + roleID + ">"
	}
	if err != nil {
		b.logger.Warn("exemption update failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondError(session, interaction, "Antinuke exempt")
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Target", Value: value, Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Antinuke exempt", "Exemption updated.", colorOK, fields), true)
}

func (b *Bot) handleReportCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondError(session, interaction, "Antinuke report")
		return
	}
	period := options[0].StringValue()
	since := time.Now().Add(-24 * time.Hour)
	if period == "week" {
		since = time.Now().Add(-7 * 24 * time.Hour)
	}

	counts, err := b.store.CountViolationsByAction(ctx, interaction.GuildID, since)
	if err != nil {
		b.respondError(session, interaction, "Antinuke report")
		return
	}

	total := 0
	actions := make([]string, 0, len(counts))
	for action, count := range counts {
		total += count
		actions = append(actions, action)
	}
	sort.Strings(actions)

	fields := []*discordgo.MessageEmbedField{
		{Name: "Period", Value: period, Inline: true},
		{Name: "Total", Value: fmt.Sprintf("%d", total), Inline: true},
	}
	for _, action := range actions {
		fields = append(fields, &discordgo.MessageEmbedField{Name: action, Value: fmt.Sprintf("%d", counts[action]), Inline: true})
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Antinuke report", "Violations by action.", colorWarn, fields), true)
}

func (b *Bot) handleLockdownCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondError(session, interaction, "Lockdown")
		return
	}
	value := options[0].StringValue()

	var err error
	if value == "on" {
		_, err = b.lockdown.Trigger(ctx, interaction.GuildID, "manual")
	} else {
		err = b.lockdown.Release(ctx, interaction.GuildID)
	}
	if err != nil {
		b.logger.Warn("lockdown command failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondError(session, interaction, "Lockdown")
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Lockdown", Value: value, Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Lockdown", "Lockdown updated.", colorWarn, fields), true)
}

func formatThresholds(cfg *storage.ProtectionConfig) string {
	return fmt.Sprintf(
		"channel_create %d, channel_delete %d, role_create %d, role_delete %d, member_ban %d, member_kick %d, member_prune %d, webhook_create %d, webhook_delete %d",
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
}

func formatMentions(ids []string, prefix string) string {
	if len(ids) == 0 {
		return "none"
	}
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, prefix+id+">")
	}
	return strings.Join(mentions, " ")
}

func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, title string) {
	b.respondEmbed(session, interaction, b.commandEmbed(title, "Command failed.", colorError, nil), true)
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}
