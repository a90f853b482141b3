package antinuke

import "nukeguard/internal/storage"

// IsExempt reports whether an actor is excluded from protection: the guild
// owner, a listed user, or a holder of a listed role. Evaluated fresh on
// every call since role membership changes between events.
func IsExempt(cfg *storage.ProtectionConfig, actorID, ownerID string, actorRoleIDs []string) bool {
	if actorID == "" {
		return false
	}
	if ownerID != "" && actorID == ownerID {
		return true
	}
	for _, id := range cfg.ExemptUserIDs {
		if id == actorID {
			return true
		}
	}
	if len(cfg.ExemptRoleIDs) == 0 || len(actorRoleIDs) == 0 {
		return false
	}
	exempt := make(map[string]struct{}, len(cfg.ExemptRoleIDs))
	for _, id := range cfg.ExemptRoleIDs {
		exempt[id] = struct{}{}
	}
	for _, id := range actorRoleIDs {
		if _, ok := exempt[id]; ok {
			return true
		}
	}
	return false
}

// thresholdFor resolves the configured threshold for an action type. Any
// unset or unknown type falls back to 10.
func thresholdFor(cfg *storage.ProtectionConfig, action ActionType) int {
	value := 0
	switch action {
	case ActionChannelCreate:
		value = cfg.ChannelCreateThreshold
	case ActionChannelDelete:
		value = cfg.ChannelDeleteThreshold
	case ActionRoleCreate:
		value = cfg.RoleCreateThreshold
	case ActionRoleDelete:
		value = cfg.RoleDeleteThreshold
	case ActionMemberBan:
		value = cfg.MemberBanThreshold
	case ActionMemberKick:
		value = cfg.MemberKickThreshold
	case ActionMemberPrune:
		value = cfg.MemberPruneThreshold
	case ActionWebhookCreate:
		value = cfg.WebhookCreateThreshold
	case ActionWebhookDelete:
		value = cfg.WebhookDeleteThreshold
	}
	if value <= 0 {
		return 10
	}
	return value
}
