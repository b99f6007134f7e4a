package models

import (
	"github.com/shopspring/decimal"
)

// Role is a member's role within a group.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// SplitPolicy determines how an expense amount is divided.
type SplitPolicy string

const (
	SplitEqual      SplitPolicy = "equal"
	SplitExact      SplitPolicy = "exact"
	SplitPercentage SplitPolicy = "percentage"
)

// Valid reports whether p is one of the known split policies.
func (p SplitPolicy) Valid() bool {
	switch p {
	case SplitEqual, SplitExact, SplitPercentage:
		return true
	}
	return false
}

// Member is one user's membership in a group.
type Member struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	Active   bool   `json:"active"`
	JoinedAt int64  `json:"joined_at"`
}

// Settings holds group-level configuration.
type Settings struct {
	// CurrencyCode is an ISO 4217 code; it fixes the minor-unit precision
	// used for all rounding in this group.
	CurrencyCode string `json:"currency_code"`

	// DefaultSplitPolicy is used when an expense doesn't name one.
	DefaultSplitPolicy SplitPolicy `json:"default_split_policy"`

	// AllowMemberInvite lets non-admin members add new members.
	AllowMemberInvite bool `json:"allow_member_invite"`
}

// Edge is one pairwise owe/owed relationship.
type Edge struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// MemberBalance is one member's row in the balance table.
type MemberBalance struct {
	// Net is credits minus debts: positive means the member is owed money.
	Net decimal.Decimal `json:"net"`

	// OwesTo lists counterparties this member owes, sorted by user ID.
	OwesTo []Edge `json:"owes_to"`

	// OwedBy lists counterparties that owe this member, sorted by user ID.
	OwedBy []Edge `json:"owed_by"`
}

// BalanceTable maps member user IDs to their balance rows. It is derived
// state: always exactly the result of replaying the group's unsettled
// expenses, cached on the group document for cheap reads.
type BalanceTable map[string]*MemberBalance

// NetSum returns the sum of all net balances. A consistent table sums to
// zero; a non-zero sum indicates corruption.
func (t BalanceTable) NetSum() decimal.Decimal {
	sum := decimal.Zero
	for _, row := range t {
		sum = sum.Add(row.Net)
	}
	return sum
}

// Group represents a set of members sharing expenses.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	Name        string
	Description string

	// CreatorID is the user who created the group; only they may delete it.
	CreatorID string

	// Active is false once the group is soft-deleted. Groups are never purged.
	Active bool

	// InviteToken is minted once at creation and stable for the group's life.
	InviteToken string

	Members  []Member
	Settings Settings

	// Balances is the derived balance table for the current unsettled set.
	Balances BalanceTable

	// TotalExpense and TotalSettled are lifetime aggregate counters.
	TotalExpense decimal.Decimal
	TotalSettled decimal.Decimal

	CreatedAt int64
	UpdatedAt int64
}

// Member returns the membership entry for userID, or nil.
func (g *Group) Member(userID string) *Member {
	for i := range g.Members {
		if g.Members[i].UserID == userID {
			return &g.Members[i]
		}
	}
	return nil
}

// IsActiveMember reports whether userID is an active member of the group.
func (g *Group) IsActiveMember(userID string) bool {
	m := g.Member(userID)
	return m != nil && m.Active
}

// IsAdmin reports whether userID is an active admin of the group.
func (g *Group) IsAdmin(userID string) bool {
	m := g.Member(userID)
	return m != nil && m.Active && m.Role == RoleAdmin
}

// ActiveMemberIDs returns the user IDs of all active members.
func (g *Group) ActiveMemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Active {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}
