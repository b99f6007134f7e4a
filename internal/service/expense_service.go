package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/broadcast"
	"github.com/splitsync/splitsync/internal/calculator"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/sequencer"
	"github.com/splitsync/splitsync/internal/storage"
)

// ExpenseService implements expense and settlement operations.
type ExpenseService struct {
	core
}

// NewExpenseService creates an ExpenseService with the given collaborators.
func NewExpenseService(store storage.Store, seq *sequencer.Sequencer, pub broadcast.Publisher) *ExpenseService {
	return &ExpenseService{core{store: store, seq: seq, pub: pub}}
}

// ExpenseInput is the typed payload for creating or updating an expense.
type ExpenseInput struct {
	GroupID     string
	Description string
	Amount      decimal.Decimal
	PayerID     string

	// SplitPolicy defaults to the group's configured policy when empty.
	SplitPolicy models.SplitPolicy

	Participants []calculator.ShareInput
}

// SettlementInput is the typed payload for recording a payment against an
// expense.
type SettlementInput struct {
	FromUserID    string
	ToUserID      string
	Amount        decimal.Decimal
	Method        string
	TransactionID string
}

// CreateExpense validates the payer and participants against the active
// member set, computes shares, persists the unsettled expense, rebuilds
// balances and broadcasts.
func (s *ExpenseService) CreateExpense(ctx context.Context, in ExpenseInput) (*models.Expense, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if in.GroupID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidArgument, "group_id required")
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	defer release()

	group, err := s.requireMember(ctx, in.GroupID, userID)
	if err != nil {
		return nil, err
	}

	policy := in.SplitPolicy
	if policy == "" {
		policy = group.Settings.DefaultSplitPolicy
	}
	amount, shares, err := s.computeShares(group, in, policy)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	expense := &models.Expense{
		ID:           uuid.New().String(),
		GroupID:      in.GroupID,
		Description:  in.Description,
		Amount:       amount,
		PayerID:      in.PayerID,
		Participants: shares,
		SplitPolicy:  policy,
		CreatedBy:    userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	group.TotalExpense = group.TotalExpense.Add(amount)
	group.UpdatedAt = now
	if err := s.recomputeWith(ctx, group, expense, ""); err != nil {
		return nil, err
	}

	m := &storage.Mutation{
		Group:      group,
		PutExpense: expense,
		Activity: activity(in.GroupID, models.ActionExpenseCreated, userID, map[string]any{
			"expense_id": expense.ID,
			"amount":     amount.String(),
			"payer_id":   in.PayerID,
		}),
	}
	ev := broadcast.Event{Type: broadcast.EventExpenseCreated, GroupID: in.GroupID,
		Payload: map[string]any{"expense_id": expense.ID}}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return nil, err
	}

	slog.Info("expense created", "group_id", in.GroupID, "expense_id", expense.ID, "amount", amount.String())
	return expense, nil
}

// GetExpense returns an expense. The caller must be a member of the owning
// group. Reads bypass the sequencer.
func (s *ExpenseService) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, expense.GroupID, userID); err != nil {
		return nil, err
	}
	return expense, nil
}

// ListExpenses returns a group's expenses, newest first.
func (s *ExpenseService) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.store.ListExpensesByGroup(ctx, groupID, false)
}

// UpdateExpense replaces an unsettled expense's mutable fields, snapshotting
// the prior state into its edit history first.
func (s *ExpenseService) UpdateExpense(ctx context.Context, expenseID string, in ExpenseInput) (*models.Expense, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, existing.GroupID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Reload inside the section; the pre-lock read only located the group.
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	group, err := s.requireMember(ctx, expense.GroupID, userID)
	if err != nil {
		return nil, err
	}
	if expense.Settled {
		return nil, apperr.InvalidState(apperr.CodeExpenseAlreadySettled, "expense %s is settled and immutable", expenseID)
	}

	// Omitted fields keep their stored values; an update only replaces what
	// it names.
	policy := in.SplitPolicy
	if policy == "" {
		policy = expense.SplitPolicy
	}
	in.PayerID = firstNonEmpty(in.PayerID, expense.PayerID)
	in.Description = firstNonEmpty(in.Description, expense.Description)
	amount, shares, err := s.computeShares(group, in, policy)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	expense.History = append(expense.History, expense.Snapshot(userID, now))

	group.TotalExpense = group.TotalExpense.Add(amount.Sub(expense.Amount))
	expense.Description = in.Description
	expense.Amount = amount
	expense.PayerID = in.PayerID
	expense.Participants = shares
	expense.SplitPolicy = policy
	expense.UpdatedAt = now
	group.UpdatedAt = now

	if err := s.recomputeWith(ctx, group, expense, ""); err != nil {
		return nil, err
	}

	m := &storage.Mutation{
		Group:      group,
		PutExpense: expense,
		Activity: activity(expense.GroupID, models.ActionExpenseUpdated, userID, map[string]any{
			"expense_id": expenseID,
			"amount":     amount.String(),
		}),
	}
	ev := broadcast.Event{Type: broadcast.EventExpenseUpdated, GroupID: expense.GroupID,
		Payload: map[string]any{"expense_id": expenseID}}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return nil, err
	}
	return expense, nil
}

// DeleteExpense hard-deletes an unsettled expense.
func (s *ExpenseService) DeleteExpense(ctx context.Context, expenseID string) error {
	userID, err := caller(ctx)
	if err != nil {
		return err
	}

	located, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return err
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, located.GroupID)
	if err != nil {
		return err
	}
	defer release()

	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return err
	}
	group, err := s.requireMember(ctx, expense.GroupID, userID)
	if err != nil {
		return err
	}
	if expense.Settled {
		return apperr.InvalidState(apperr.CodeExpenseAlreadySettled, "expense %s is settled and immutable", expenseID)
	}

	group.TotalExpense = group.TotalExpense.Sub(expense.Amount)
	group.UpdatedAt = time.Now().Unix()
	if err := s.recomputeWith(ctx, group, nil, expenseID); err != nil {
		return err
	}

	m := &storage.Mutation{
		Group:           group,
		DeleteExpenseID: expenseID,
		Activity: activity(expense.GroupID, models.ActionExpenseDeleted, userID, map[string]any{
			"expense_id": expenseID,
		}),
	}
	ev := broadcast.Event{Type: broadcast.EventExpenseDeleted, GroupID: expense.GroupID,
		Payload: map[string]any{"expense_id": expenseID}}
	return s.commit(ctx, m, ev, start)
}

// SettleExpense marks an expense settled in bulk, optionally attaching
// caller-supplied settlement records. Settling twice fails with
// already_settled; the group's lifetime settled counter is incremented
// exactly once.
func (s *ExpenseService) SettleExpense(ctx context.Context, expenseID string, settlements []SettlementInput) (*models.Expense, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	located, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, located.GroupID)
	if err != nil {
		return nil, err
	}
	defer release()

	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	group, err := s.requireMember(ctx, expense.GroupID, userID)
	if err != nil {
		return nil, err
	}
	if expense.Settled {
		return nil, apperr.InvalidState(apperr.CodeAlreadySettled, "expense %s is already settled", expenseID)
	}

	now := time.Now().Unix()
	for _, in := range settlements {
		rec, err := buildSettlement(group, in, now)
		if err != nil {
			return nil, err
		}
		expense.Settlements = append(expense.Settlements, rec)
	}

	s.markSettled(group, expense, userID, now)
	if err := s.recomputeWith(ctx, group, expense, ""); err != nil {
		return nil, err
	}

	m := &storage.Mutation{
		Group:      group,
		PutExpense: expense,
		Activity: activity(expense.GroupID, models.ActionExpenseSettled, userID, map[string]any{
			"expense_id": expenseID,
			"amount":     expense.Amount.String(),
		}),
	}
	ev := broadcast.Event{Type: broadcast.EventExpenseSettled, GroupID: expense.GroupID,
		Payload: map[string]any{"expense_id": expenseID}}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return nil, err
	}

	slog.Info("expense settled", "group_id", expense.GroupID, "expense_id", expenseID)
	return expense, nil
}

// AddSettlement appends one settlement sub-record. When the running sum of
// the expense's settlements reaches its amount, the expense auto-settles.
// The sequencer's per-group exclusivity is what makes two concurrent calls
// safe: at most one of them observes the sum crossing the total, so the
// settled flag flips and the settled counter increments exactly once.
func (s *ExpenseService) AddSettlement(ctx context.Context, expenseID string, in SettlementInput) (*models.Expense, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	located, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	release, err := s.seq.Acquire(ctx, located.GroupID)
	if err != nil {
		return nil, err
	}
	defer release()

	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	group, err := s.requireMember(ctx, expense.GroupID, userID)
	if err != nil {
		return nil, err
	}
	if expense.Settled {
		return nil, apperr.InvalidState(apperr.CodeAlreadySettled, "expense %s is already settled", expenseID)
	}

	now := time.Now().Unix()
	rec, err := buildSettlement(group, in, now)
	if err != nil {
		return nil, err
	}
	expense.Settlements = append(expense.Settlements, rec)
	expense.UpdatedAt = now

	settledNow := false
	if expense.SettledAmount().GreaterThanOrEqual(expense.Amount) {
		s.markSettled(group, expense, userID, now)
		settledNow = true
	}
	if err := s.recomputeWith(ctx, group, expense, ""); err != nil {
		return nil, err
	}

	m := &storage.Mutation{
		Group:      group,
		PutExpense: expense,
		Activity: activity(expense.GroupID, models.ActionSettlementAdded, userID, map[string]any{
			"expense_id":   expenseID,
			"from_user_id": rec.FromUserID,
			"to_user_id":   rec.ToUserID,
			"amount":       rec.Amount.String(),
			"settled":      settledNow,
		}),
	}
	ev := broadcast.Event{Type: broadcast.EventSettlementAdded, GroupID: expense.GroupID,
		Payload: map[string]any{"expense_id": expenseID, "settled": settledNow}}
	if err := s.commit(ctx, m, ev, start); err != nil {
		return nil, err
	}
	return expense, nil
}

// computeShares rounds the amount to the group currency's precision and runs
// the split calculator.
func (s *ExpenseService) computeShares(group *models.Group, in ExpenseInput, policy models.SplitPolicy) (decimal.Decimal, []models.Share, error) {
	fraction, err := calculator.CurrencyFraction(group.Settings.CurrencyCode)
	if err != nil {
		return decimal.Zero, nil, err
	}
	if in.PayerID == "" {
		return decimal.Zero, nil, apperr.Validation(apperr.CodeInvalidArgument, "payer_id required")
	}
	if !group.IsActiveMember(in.PayerID) {
		return decimal.Zero, nil, apperr.Validation(apperr.CodeNotGroupMember,
			"payer %s is not an active member of group %s", in.PayerID, group.ID)
	}
	for _, p := range in.Participants {
		if !group.IsActiveMember(p.UserID) {
			return decimal.Zero, nil, apperr.Validation(apperr.CodeNotGroupMember,
				"participant %s is not an active member of group %s", p.UserID, group.ID)
		}
	}

	amount := in.Amount.Round(fraction)
	shares, err := calculator.ComputeShares(amount, policy, in.Participants, fraction)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return amount, shares, nil
}

// markSettled flips the settled flag and credits the lifetime counter. Called
// at most once per expense, guarded by the Settled checks above.
func (s *ExpenseService) markSettled(group *models.Group, expense *models.Expense, userID string, now int64) {
	expense.Settled = true
	expense.SettledBy = userID
	expense.SettledAt = now
	expense.UpdatedAt = now
	group.TotalSettled = group.TotalSettled.Add(expense.Amount)
	group.UpdatedAt = now
}

func buildSettlement(group *models.Group, in SettlementInput, now int64) (models.Settlement, error) {
	if in.Amount.IsNegative() || in.Amount.IsZero() {
		return models.Settlement{}, apperr.Validation(apperr.CodeInvalidAmount,
			"settlement amount must be positive, got %s", in.Amount)
	}
	if in.FromUserID == "" || in.ToUserID == "" {
		return models.Settlement{}, apperr.Validation(apperr.CodeInvalidArgument,
			"settlement requires from_user_id and to_user_id")
	}
	if group.Member(in.FromUserID) == nil || group.Member(in.ToUserID) == nil {
		return models.Settlement{}, apperr.Validation(apperr.CodeNotGroupMember,
			"settlement parties must be group members")
	}
	return models.Settlement{
		FromUserID:    in.FromUserID,
		ToUserID:      in.ToUserID,
		Amount:        in.Amount,
		Method:        in.Method,
		TransactionID: in.TransactionID,
		CreatedAt:     now,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
