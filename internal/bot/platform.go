package bot

import (
	"context"
	"fmt"
	"time"

	"nukeguard/internal/lockdown"
	"nukeguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// sessionPlatform adapts the gateway session to the engine's response
// surface. Every REST call carries the dispatcher's context so its timeout
// cuts off a hung request.
type sessionPlatform struct {
	session  *discordgo.Session
	lockdown *lockdown.Manager
}

func (p *sessionPlatform) GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return p.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (p *sessionPlatform) BanMember(ctx context.Context, guildID, userID, reason string) error {
	return p.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
}

func (p *sessionPlatform) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return p.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (p *sessionPlatform) LockdownGuild(ctx context.Context, guildID, reason string) error {
	_, err := p.lockdown.Trigger(ctx, guildID, reason)
	return err
}

func (p *sessionPlatform) SendLogMessage(ctx context.Context, channelID string, event *storage.ViolationEvent) error {
	_, err := p.session.ChannelMessageSendEmbed(channelID, violationEmbed(event), discordgo.WithContext(ctx))
	return err
}

func violationEmbed(event *storage.ViolationEvent) *discordgo.MessageEmbed {
	executed := "no"
	if event.ResponseExecuted {
		executed = "yes"
	}
	embed := &discordgo.MessageEmbed{
		Title:     "Antinuke violation",
		Color:     colorError,
		Timestamp: event.CreatedAt.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Actor", Value: "<@" + event.ActorID + ">", Inline: true},
			{Name: "Action", Value: event.ActionType, Inline: true},
			{Name: "Count", Value: fmt.Sprintf("%d/%d", event.ObservedCount, event.Threshold), Inline: true},
			{Name: "Response", Value: event.ResponseType, Inline: true},
			{Name: "Executed", Value: executed, Inline: true},
		},
	}
	if event.ResponseError != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Error", Value: event.ResponseError})
	}
	return embed
}

// channelLocker snapshots and rewrites the @everyone overwrite on text
// channels for the lockdown manager.
type channelLocker struct {
	session *discordgo.Session
	logger  *zap.Logger
}

func (c *channelLocker) LockChannels(ctx context.Context, guildID string) (lockdown.Snapshot, error) {
	channels, err := c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	var snapshot lockdown.Snapshot
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText && channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		state := lockdown.ChannelState{ChannelID: channel.ID}
		for _, overwrite := range channel.PermissionOverwrites {
			if overwrite.Type == discordgo.PermissionOverwriteTypeRole && overwrite.ID == guildID {
				state.Allow = overwrite.Allow
				state.Deny = overwrite.Deny
				state.Existed = true
				break
			}
		}
		snapshot = append(snapshot, state)

		deny := state.Deny | discordgo.PermissionSendMessages
		if err := c.session.ChannelPermissionSet(channel.ID, guildID, discordgo.PermissionOverwriteTypeRole, state.Allow, deny, discordgo.WithContext(ctx)); err != nil {
			c.logger.Warn("channel lock failed", zap.String("channel_id", channel.ID), zap.Error(err))
		}
	}
	return snapshot, nil
}

func (c *channelLocker) RestoreChannels(ctx context.Context, guildID string, snapshot lockdown.Snapshot) error {
	for _, state := range snapshot {
		var err error
		if state.Existed {
			err = c.session.ChannelPermissionSet(state.ChannelID, guildID, discordgo.PermissionOverwriteTypeRole, state.Allow, state.Deny, discordgo.WithContext(ctx))
		} else {
			err = c.session.ChannelPermissionDelete(state.ChannelID, guildID, discordgo.WithContext(ctx))
		}
		if err != nil {
			c.logger.Warn("channel restore failed", zap.String("channel_id", state.ChannelID), zap.Error(err))
		}
	}
	return nil
}
