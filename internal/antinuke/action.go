package antinuke

// ActionType identifies a monitored administrative action. The set is
// closed; each type carries an independent counter and threshold.
type ActionType string

const (
	ActionChannelCreate ActionType = "channel_create"
	ActionChannelDelete ActionType = "channel_delete"
	ActionRoleCreate    ActionType = "role_create"
	ActionRoleDelete    ActionType = "role_delete"
	ActionMemberBan     ActionType = "member_ban"
	ActionMemberKick    ActionType = "member_kick"
	ActionMemberPrune   ActionType = "member_prune"
	ActionWebhookCreate ActionType = "webhook_create"
	ActionWebhookDelete ActionType = "webhook_delete"
)

// ActionTypes lists every monitored action in a stable order.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionChannelCreate,
		ActionChannelDelete,
		ActionRoleCreate,
		ActionRoleDelete,
		ActionMemberBan,
		ActionMemberKick,
		ActionMemberPrune,
		ActionWebhookCreate,
		ActionWebhookDelete,
	}
}

func (a ActionType) Valid() bool {
	switch a {
	case ActionChannelCreate, ActionChannelDelete,
		ActionRoleCreate, ActionRoleDelete,
		ActionMemberBan, ActionMemberKick, ActionMemberPrune,
		ActionWebhookCreate, ActionWebhookDelete:
		return true
	}
	return false
}

// ResponseType selects the mitigating response executed on a violation.
type ResponseType string

const (
	ResponseQuarantine ResponseType = "quarantine"
	ResponseBan        ResponseType = "ban"
	ResponseKick       ResponseType = "kick"
	ResponseLogOnly    ResponseType = "log_only"
	ResponsePanic      ResponseType = "panic"
)

func (r ResponseType) Valid() bool {
	switch r {
	case ResponseQuarantine, ResponseBan, ResponseKick, ResponseLogOnly, ResponsePanic:
		return true
	}
	return false
}
