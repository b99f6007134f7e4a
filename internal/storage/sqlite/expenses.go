package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/models"
)

const expenseColumns = `id, group_id, description, amount, payer_id, split_policy,
	settled, settled_by, settled_at, participants, settlements, history,
	created_by, created_at, updated_at`

// putExpenseTx upserts one expense document. Shares, settlements and the
// edit history travel with the row as JSON.
func putExpenseTx(ctx context.Context, tx *sql.Tx, e *models.Expense) error {
	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return apperr.Storage(err, "failed to encode participants for expense %s", e.ID)
	}
	settlements, err := json.Marshal(e.Settlements)
	if err != nil {
		return apperr.Storage(err, "failed to encode settlements for expense %s", e.ID)
	}
	history, err := json.Marshal(e.History)
	if err != nil {
		return apperr.Storage(err, "failed to encode history for expense %s", e.ID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO expenses (`+expenseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.GroupID, e.Description, e.Amount.String(), e.PayerID, string(e.SplitPolicy),
		e.Settled, e.SettledBy, e.SettledAt,
		string(participants), string(settlements), string(history),
		e.CreatedBy, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return apperr.Storage(err, "failed to upsert expense %s", e.ID)
	}
	return nil
}

// GetExpense retrieves an expense by ID.
func (s *SQLiteStore) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ?", expenseID)

	e, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(apperr.CodeExpenseNotFound, "expense not found: %s", expenseID)
	}
	if err != nil {
		return nil, apperr.Storage(err, "failed to get expense %s", expenseID)
	}
	return e, nil
}

// ListExpensesByGroup returns a group's expenses, newest first. With
// unsettledOnly, settled expenses are filtered out.
func (s *SQLiteStore) ListExpensesByGroup(ctx context.Context, groupID string, unsettledOnly bool) ([]*models.Expense, error) {
	query := "SELECT " + expenseColumns + " FROM expenses WHERE group_id = ?"
	if unsettledOnly {
		query += " AND settled = 0"
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, apperr.Storage(err, "failed to list expenses for group %s", groupID)
	}
	defer rows.Close()

	var expenses []*models.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, apperr.Storage(err, "failed to scan expense for group %s", groupID)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "failed to iterate expenses for group %s", groupID)
	}
	return expenses, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*models.Expense, error) {
	e := &models.Expense{}
	var amount, policy, participants, settlements, history string

	err := row.Scan(&e.ID, &e.GroupID, &e.Description, &amount, &e.PayerID, &policy,
		&e.Settled, &e.SettledBy, &e.SettledAt, &participants, &settlements, &history,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.SplitPolicy = models.SplitPolicy(policy)
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &e.Participants); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settlements), &e.Settlements); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &e.History); err != nil {
		return nil, err
	}
	return e, nil
}
