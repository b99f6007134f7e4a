package models

import (
	"github.com/shopspring/decimal"
)

// Share is one participant's portion of an expense.
type Share struct {
	UserID string `json:"user_id"`

	// Amount is this participant's share in currency units, rounded to the
	// group currency's minor-unit precision.
	Amount decimal.Decimal `json:"amount"`

	// Type records how the share was produced (equal, exact, percentage).
	Type SplitPolicy `json:"type"`

	// Percent is set only for percentage shares.
	Percent decimal.Decimal `json:"percent,omitempty"`
}

// Settlement is a payment recorded against an expense. Once appended it is
// never removed.
type Settlement struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`

	Amount decimal.Decimal `json:"amount"`

	// Method is a free-form payment method label ("cash", "upi", ...).
	Method string `json:"method,omitempty"`

	// TransactionID is an optional external payment reference.
	TransactionID string `json:"transaction_id,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// Revision is a prior-state snapshot kept in an expense's edit history.
type Revision struct {
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	PayerID      string          `json:"payer_id"`
	Participants []Share         `json:"participants"`
	SplitPolicy  SplitPolicy     `json:"split_policy"`
	EditedBy     string          `json:"edited_by"`
	EditedAt     int64           `json:"edited_at"`
}

// Expense is a shared expense belonging to a group. It is mutable only while
// unsettled; once settled it is permanently immutable.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string

	GroupID     string
	Description string

	// Amount is the full expense amount, non-negative, rounded to the group
	// currency's minor-unit precision. The participant shares always sum to
	// exactly this value.
	Amount decimal.Decimal

	// PayerID must be an active group member at creation time.
	PayerID string

	Participants []Share
	SplitPolicy  SplitPolicy

	Settled   bool
	SettledBy string
	SettledAt int64

	// Settlements are the partial payments recorded so far. When their sum
	// reaches Amount the expense auto-settles.
	Settlements []Settlement

	// History holds prior-state snapshots, appended before every update.
	History []Revision

	CreatedBy string
	CreatedAt int64
	UpdatedAt int64
}

// SettledAmount returns the running sum of all settlement sub-records.
func (e *Expense) SettledAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range e.Settlements {
		sum = sum.Add(s.Amount)
	}
	return sum
}

// Snapshot captures the current mutable state as a history revision.
func (e *Expense) Snapshot(editedBy string, editedAt int64) Revision {
	participants := make([]Share, len(e.Participants))
	copy(participants, e.Participants)
	return Revision{
		Description:  e.Description,
		Amount:       e.Amount,
		PayerID:      e.PayerID,
		Participants: participants,
		SplitPolicy:  e.SplitPolicy,
		EditedBy:     editedBy,
		EditedAt:     editedAt,
	}
}
