// Package service implements the ledger operations: every mutation from the
// external surface enters here, gets validated, serialized through the
// per-group sequencer, committed atomically, and broadcast to the group room.
package service

import (
	"context"
	"time"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/balance"
	"github.com/splitsync/splitsync/internal/broadcast"
	"github.com/splitsync/splitsync/internal/identity"
	"github.com/splitsync/splitsync/internal/metrics"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/sequencer"
	"github.com/splitsync/splitsync/internal/storage"
)

// core holds the collaborators shared by the group and expense services.
type core struct {
	store storage.Store
	seq   *sequencer.Sequencer
	pub   broadcast.Publisher
}

// caller returns the pre-authenticated user ID from the context.
func caller(ctx context.Context) (string, error) {
	userID := identity.UserID(ctx)
	if userID == "" {
		return "", apperr.Forbidden(apperr.CodeAuthRequired, "authentication required")
	}
	return userID, nil
}

// loadActiveGroup fetches a group and rejects soft-deleted ones.
func (c *core) loadActiveGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := c.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.Active {
		return nil, apperr.InvalidState(apperr.CodeGroupInactive, "group %s has been deleted", groupID)
	}
	return group, nil
}

// requireMember fetches an active group and checks the caller's membership.
func (c *core) requireMember(ctx context.Context, groupID, userID string) (*models.Group, error) {
	group, err := c.loadActiveGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsActiveMember(userID) {
		return nil, apperr.Forbidden(apperr.CodeNotMember, "user %s is not an active member of group %s", userID, groupID)
	}
	return group, nil
}

// recomputeWith rebuilds the group's balance table from its stored unsettled
// expenses, overlaid with the in-flight change (put replaces or adds one
// expense, deleteID removes one) that has not been committed yet.
func (c *core) recomputeWith(ctx context.Context, group *models.Group, put *models.Expense, deleteID string) error {
	stored, err := c.store.ListExpensesByGroup(ctx, group.ID, false)
	if err != nil {
		return err
	}

	expenses := make([]*models.Expense, 0, len(stored)+1)
	for _, e := range stored {
		if e.ID == deleteID || (put != nil && e.ID == put.ID) {
			continue
		}
		expenses = append(expenses, e)
	}
	if put != nil {
		expenses = append(expenses, put)
	}

	group.Balances = balance.Recompute(group, expenses)
	return nil
}

// commit makes the mutation durable and fans out its event. The broadcast is
// fire-and-forget: the hub never blocks and delivery failures never reach the
// caller. commit is always invoked inside the group's exclusive section, so
// subscribers observe same-group events in commit order.
//
// The mutation runs on a detached context: a caller disconnecting after
// validation does not cancel a mutation already in flight.
func (c *core) commit(ctx context.Context, m *storage.Mutation, ev broadcast.Event, start time.Time) error {
	if err := c.store.Commit(context.WithoutCancel(ctx), m); err != nil {
		return err
	}
	metrics.MutationsTotal.WithLabelValues(string(m.Activity.Action)).Inc()
	metrics.MutationDuration.Observe(time.Since(start).Seconds())
	c.pub.Publish(ev.GroupID, ev)
	return nil
}

func activity(groupID string, action models.Action, actorID string, details map[string]any) *models.ActivityRecord {
	return &models.ActivityRecord{
		GroupID:   groupID,
		Action:    action,
		ActorID:   actorID,
		Details:   details,
		CreatedAt: time.Now().Unix(),
	}
}
