// Package storage provides abstractions for persistent ledger storage.
package storage

import (
	"context"

	"github.com/splitsync/splitsync/internal/models"
)

// Mutation is the atomic write set produced by one sequenced mutation: the
// updated group document (including its derived balance table and counters),
// at most one expense write or delete, and the activity append. The store
// applies all of it in a single transaction so a failed commit leaves the
// durable state unchanged.
type Mutation struct {
	// Group is the full group document to upsert. Required.
	Group *models.Group

	// PutExpense, when set, upserts one expense.
	PutExpense *models.Expense

	// DeleteExpenseID, when set, hard-deletes one expense.
	DeleteExpenseID string

	// Activity is the audit record to append. Required.
	Activity *models.ActivityRecord
}

// Store defines the interface for ledger storage operations. The abstraction
// allows swapping storage backends without changing the service layer.
type Store interface {
	// GetGroup retrieves a group document (members, settings, balances,
	// counters) by ID.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// GetGroupByInviteToken resolves a group by its stable invite token.
	GetGroupByInviteToken(ctx context.Context, token string) (*models.Group, error)

	// ListGroupsForMember returns the active groups where userID is an
	// active member.
	ListGroupsForMember(ctx context.Context, userID string) ([]*models.Group, error)

	// GetExpense retrieves an expense by ID.
	GetExpense(ctx context.Context, expenseID string) (*models.Expense, error)

	// ListExpensesByGroup returns a group's expenses, newest first.
	// With unsettledOnly, settled expenses are filtered out.
	ListExpensesByGroup(ctx context.Context, groupID string, unsettledOnly bool) ([]*models.Expense, error)

	// ListActivity returns one page of a group's activity log, newest first.
	// page is 1-based.
	ListActivity(ctx context.Context, groupID string, page, limit int) ([]*models.ActivityRecord, error)

	// Commit applies a mutation set atomically and assigns Activity.Seq.
	Commit(ctx context.Context, m *Mutation) error

	// Close releases any resources held by the store.
	Close() error
}
