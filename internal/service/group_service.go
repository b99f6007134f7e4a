package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/broadcast"
	"github.com/splitsync/splitsync/internal/calculator"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/sequencer"
	"github.com/splitsync/splitsync/internal/storage"
)

// GroupService implements group lifecycle, membership and read operations.
type GroupService struct {
	core
}

// NewGroupService creates a GroupService with the given collaborators.
func NewGroupService(store storage.Store, seq *sequencer.Sequencer, pub broadcast.Publisher) *GroupService {
	return &GroupService{core{store: store, seq: seq, pub: pub}}
}

// CreateGroup creates a group with the caller as its sole admin member.
// The invite token is minted here and stays stable for the group's life.
func (s *GroupService) CreateGroup(ctx context.Context, name, description string, settings models.Settings) (*models.Group, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, apperr.Validation(apperr.CodeInvalidArgument, "group name required")
	}
	if settings.CurrencyCode == "" {
		settings.CurrencyCode = "USD"
	}
	if _, err := calculator.CurrencyFraction(settings.CurrencyCode); err != nil {
		return nil, err
	}
	if settings.DefaultSplitPolicy == "" {
		settings.DefaultSplitPolicy = models.SplitEqual
	}
	if !settings.DefaultSplitPolicy.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidSplitPolicy, "unknown split policy %q", settings.DefaultSplitPolicy)
	}

	now := time.Now().Unix()
	group := &models.Group{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatorID:   userID,
		Active:      true,
		InviteToken: uuid.New().String(),
		Members: []models.Member{
			{UserID: userID, Role: models.RoleAdmin, Active: true, JoinedAt: now},
		},
		Settings:  settings,
		Balances:  models.BalanceTable{userID: {}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m := &storage.Mutation{
		Group:    group,
		Activity: activity(group.ID, models.ActionGroupCreated, userID, map[string]any{"name": name}),
	}
	ev := broadcast.Event{Type: broadcast.EventGroupCreated, GroupID: group.ID}
	if err := s.commit(ctx, m, ev, time.Now()); err != nil {
		return nil, err
	}

	slog.Info("group created", "group_id", group.ID, "creator", userID)
	return group, nil
}

// GetGroup returns a group document. Reads bypass the sequencer.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return s.requireMember(ctx, groupID, userID)
}

// ListGroups returns the active groups where the caller is an active member.
func (s *GroupService) ListGroups(ctx context.Context) ([]*models.Group, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListGroupsForMember(ctx, userID)
}

// GetBalances returns the last-committed balance table for a group.
func (s *GroupService) GetBalances(ctx context.Context, groupID string) (models.BalanceTable, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return group.Balances, nil
}

// GetActivity returns one page of the group's audit log, newest first. The
// log is append-only and never purged, so it stays readable to members after
// the group is soft-deleted; only mutations are blocked on inactive groups.
func (s *GroupService) GetActivity(ctx context.Context, groupID string, page, limit int) ([]*models.ActivityRecord, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsActiveMember(userID) {
		return nil, apperr.Forbidden(apperr.CodeNotMember, "user %s is not an active member of group %s", userID, groupID)
	}
	return s.store.ListActivity(ctx, groupID, page, limit)
}

// UpdateMetadata changes the group's name and description. Admin only.
func (s *GroupService) UpdateMetadata(ctx context.Context, groupID, name, description string) (*models.Group, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, apperr.Validation(apperr.CodeInvalidArgument, "group name required")
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer release()

	group, err := s.requireMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !group.IsAdmin(userID) {
		return nil, apperr.Forbidden(apperr.CodeAdminRequired, "only admins may update group metadata")
	}

	group.Name = name
	group.Description = description
	group.UpdatedAt = time.Now().Unix()

	m := &storage.Mutation{
		Group:    group,
		Activity: activity(groupID, models.ActionGroupUpdated, userID, map[string]any{"name": name}),
	}
	ev := broadcast.Event{Type: broadcast.EventGroupUpdated, GroupID: groupID}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return nil, err
	}
	return group, nil
}

// UpdateSettings changes the group's settings. Admin only. The currency code
// is validated against the currency registry because it fixes the minor-unit
// precision used for all share rounding.
func (s *GroupService) UpdateSettings(ctx context.Context, groupID string, settings models.Settings) (*models.Group, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := calculator.CurrencyFraction(settings.CurrencyCode); err != nil {
		return nil, err
	}
	if !settings.DefaultSplitPolicy.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidSplitPolicy, "unknown split policy %q", settings.DefaultSplitPolicy)
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer release()

	group, err := s.requireMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !group.IsAdmin(userID) {
		return nil, apperr.Forbidden(apperr.CodeAdminRequired, "only admins may update group settings")
	}

	group.Settings = settings
	group.UpdatedAt = time.Now().Unix()

	m := &storage.Mutation{
		Group: group,
		Activity: activity(groupID, models.ActionSettingsUpdated, userID, map[string]any{
			"currency_code":        settings.CurrencyCode,
			"default_split_policy": string(settings.DefaultSplitPolicy),
		}),
	}
	ev := broadcast.Event{Type: broadcast.EventSettingsUpdated, GroupID: groupID}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return nil, err
	}
	return group, nil
}

// AddMember adds userID to the group with the given role. Admins may always
// add members; regular members only when the group allows member invites.
// Re-adding a previously removed member reactivates them.
func (s *GroupService) AddMember(ctx context.Context, groupID, userID string, role models.Role) (*models.Group, error) {
	actorID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidArgument, "user_id required")
	}
	if role == "" {
		role = models.RoleMember
	}
	if role != models.RoleAdmin && role != models.RoleMember {
		return nil, apperr.Validation(apperr.CodeInvalidArgument, "unknown role %q", role)
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer release()

	group, err := s.requireMember(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if !group.IsAdmin(actorID) && !group.Settings.AllowMemberInvite {
		return nil, apperr.Forbidden(apperr.CodeAdminRequired, "only admins may add members to this group")
	}

	if err := s.addMemberLocked(ctx, group, userID, role); err != nil {
		return nil, err
	}

	m := &storage.Mutation{
		Group:    group,
		Activity: activity(groupID, models.ActionMemberAdded, actorID, map[string]any{"user_id": userID, "role": string(role)}),
	}
	ev := broadcast.Event{Type: broadcast.EventMemberAdded, GroupID: groupID, Payload: map[string]any{"user_id": userID}}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return nil, err
	}
	return group, nil
}

// JoinByInvite adds the caller to the group identified by the invite token.
func (s *GroupService) JoinByInvite(ctx context.Context, token string) (*models.Group, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, apperr.Validation(apperr.CodeInvalidArgument, "invite token required")
	}

	// Resolve outside the lock; the token maps to a stable group ID.
	found, err := s.store.GetGroupByInviteToken(ctx, token)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	group, err := s.loadActiveGroup(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	if err := s.addMemberLocked(ctx, group, userID, models.RoleMember); err != nil {
		return nil, err
	}

	m := &storage.Mutation{
		Group:    group,
		Activity: activity(group.ID, models.ActionMemberJoined, userID, map[string]any{"user_id": userID}),
	}
	ev := broadcast.Event{Type: broadcast.EventMemberAdded, GroupID: group.ID, Payload: map[string]any{"user_id": userID}}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return nil, err
	}

	slog.Info("member joined via invite", "group_id", group.ID, "user_id", userID)
	return group, nil
}

// addMemberLocked mutates the member set and rebuilds balances. Must be
// called inside the group's exclusive section.
func (s *GroupService) addMemberLocked(ctx context.Context, group *models.Group, userID string, role models.Role) error {
	if existing := group.Member(userID); existing != nil {
		if existing.Active {
			return apperr.Validation(apperr.CodeAlreadyMember, "user %s is already a member", userID)
		}
		existing.Active = true
		existing.Role = role
		existing.JoinedAt = time.Now().Unix()
	} else {
		group.Members = append(group.Members, models.Member{
			UserID: userID, Role: role, Active: true, JoinedAt: time.Now().Unix(),
		})
	}
	group.UpdatedAt = time.Now().Unix()

	// Membership changes the active set the balance engine derives from, so
	// the table is rebuilt (a fresh member gets a zero row; a reactivated
	// one picks up any unsettled shares that still reference them).
	return s.recomputeWith(ctx, group, nil, "")
}

// RemoveMember marks a member inactive. Admins may remove anyone; members may
// remove themselves. The removed member's balance row is purged and all edges
// referencing them disappear from other rows — their outstanding debts and
// credits are abandoned, not redistributed.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, userID string) (*models.Group, error) {
	actorID, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer release()

	group, err := s.requireMember(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if actorID != userID && !group.IsAdmin(actorID) {
		return nil, apperr.Forbidden(apperr.CodeAdminRequired, "only admins may remove other members")
	}
	member := group.Member(userID)
	if member == nil || !member.Active {
		return nil, apperr.NotFound(apperr.CodeMemberNotFound, "user %s is not an active member of group %s", userID, groupID)
	}

	member.Active = false
	group.UpdatedAt = time.Now().Unix()
	if err := s.recomputeWith(ctx, group, nil, ""); err != nil {
		return nil, err
	}

	m := &storage.Mutation{
		Group:    group,
		Activity: activity(groupID, models.ActionMemberRemoved, actorID, map[string]any{"user_id": userID}),
	}
	ev := broadcast.Event{Type: broadcast.EventMemberRemoved, GroupID: groupID, Payload: map[string]any{"user_id": userID}}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return nil, err
	}
	return group, nil
}

// DeleteGroup soft-deletes a group. Only the creator may delete it, and only
// when no unsettled expense remains. The group is never purged.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID string) error {
	userID, err := caller(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, groupID)
	if err != nil {
		return err
	}
	defer release()

	group, err := s.loadActiveGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID != userID {
		return apperr.Forbidden(apperr.CodeCreatorRequired, "only the group creator may delete it")
	}

	unsettled, err := s.store.ListExpensesByGroup(ctx, groupID, true)
	if err != nil {
		return err
	}
	if len(unsettled) > 0 {
		return apperr.InvalidState(apperr.CodeUnsettledExpensesExist,
			"group has %d unsettled expenses", len(unsettled))
	}

	group.Active = false
	group.UpdatedAt = time.Now().Unix()

	m := &storage.Mutation{
		Group:    group,
		Activity: activity(groupID, models.ActionGroupDeleted, userID, nil),
	}
	ev := broadcast.Event{Type: broadcast.EventGroupDeleted, GroupID: groupID}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return err
	}

	slog.Info("group deleted", "group_id", groupID, "actor", userID)
	return nil
}
