package models

// Action tags every activity record with the mutation it describes.
type Action string

const (
	ActionGroupCreated    Action = "GROUP_CREATED"
	ActionGroupUpdated    Action = "GROUP_UPDATED"
	ActionSettingsUpdated Action = "SETTINGS_UPDATED"
	ActionGroupDeleted    Action = "GROUP_DELETED"
	ActionMemberAdded     Action = "MEMBER_ADDED"
	ActionMemberJoined    Action = "MEMBER_JOINED"
	ActionMemberRemoved   Action = "MEMBER_REMOVED"
	ActionExpenseCreated  Action = "EXPENSE_CREATED"
	ActionExpenseUpdated  Action = "EXPENSE_UPDATED"
	ActionExpenseDeleted  Action = "EXPENSE_DELETED"
	ActionExpenseSettled  Action = "EXPENSE_SETTLED"
	ActionSettlementAdded Action = "SETTLEMENT_ADDED"
)

// ActivityRecord is one append-only audit entry. Records are never mutated or
// deleted; their order is the append order (Seq), not the timestamp.
type ActivityRecord struct {
	// Seq is assigned by the store on append and strictly increases per group.
	Seq int64

	GroupID string
	Action  Action

	// ActorID is the authenticated caller who performed the mutation.
	ActorID string

	// Details is a structured blob identifying what changed (ids, amounts).
	Details map[string]any

	CreatedAt int64
}
