package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/models"
)

const groupColumns = `id, name, description, creator_id, active, invite_token,
	currency_code, default_split_policy, allow_member_invite,
	balances, total_expense, total_settled, created_at, updated_at`

// putGroupTx upserts the full group document: the groups row plus a rewrite
// of its member rows. The derived balance table is stored as a JSON blob.
func putGroupTx(ctx context.Context, tx *sql.Tx, g *models.Group) error {
	balances, err := json.Marshal(g.Balances)
	if err != nil {
		return apperr.Storage(err, "failed to encode balance table for group %s", g.ID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO groups (`+groupColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Description, g.CreatorID, g.Active, g.InviteToken,
		g.Settings.CurrencyCode, string(g.Settings.DefaultSplitPolicy), g.Settings.AllowMemberInvite,
		string(balances), g.TotalExpense.String(), g.TotalSettled.String(),
		g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return apperr.Storage(err, "failed to upsert group %s", g.ID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = ?", g.ID); err != nil {
		return apperr.Storage(err, "failed to clear members for group %s", g.ID)
	}
	for _, m := range g.Members {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO group_members (group_id, user_id, role, active, joined_at) VALUES (?, ?, ?, ?, ?)",
			g.ID, m.UserID, string(m.Role), m.Active, m.JoinedAt,
		)
		if err != nil {
			return apperr.Storage(err, "failed to insert member %s for group %s", m.UserID, g.ID)
		}
	}
	return nil
}

// GetGroup retrieves a group document by ID, including members, settings,
// counters and the cached balance table.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM groups WHERE id = ?", groupID)
	return s.scanGroup(ctx, row, groupID)
}

// GetGroupByInviteToken resolves a group by its stable invite token.
func (s *SQLiteStore) GetGroupByInviteToken(ctx context.Context, token string) (*models.Group, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM groups WHERE invite_token = ?", token)
	return s.scanGroup(ctx, row, token)
}

func (s *SQLiteStore) scanGroup(ctx context.Context, row *sql.Row, ref string) (*models.Group, error) {
	g := &models.Group{}
	var policy, balancesJSON, totalExpense, totalSettled string

	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatorID, &g.Active, &g.InviteToken,
		&g.Settings.CurrencyCode, &policy, &g.Settings.AllowMemberInvite,
		&balancesJSON, &totalExpense, &totalSettled, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(apperr.CodeGroupNotFound, "group not found: %s", ref)
	}
	if err != nil {
		return nil, apperr.Storage(err, "failed to get group %s", ref)
	}

	g.Settings.DefaultSplitPolicy = models.SplitPolicy(policy)
	if err := json.Unmarshal([]byte(balancesJSON), &g.Balances); err != nil {
		return nil, apperr.Storage(err, "failed to decode balance table for group %s", g.ID)
	}
	if g.Balances == nil {
		g.Balances = models.BalanceTable{}
	}
	if g.TotalExpense, err = decimal.NewFromString(totalExpense); err != nil {
		return nil, apperr.Storage(err, "failed to parse total_expense for group %s", g.ID)
	}
	if g.TotalSettled, err = decimal.NewFromString(totalSettled); err != nil {
		return nil, apperr.Storage(err, "failed to parse total_settled for group %s", g.ID)
	}

	if g.Members, err = s.loadMembers(ctx, g.ID); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *SQLiteStore) loadMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, role, active, joined_at FROM group_members WHERE group_id = ? ORDER BY joined_at, user_id",
		groupID,
	)
	if err != nil {
		return nil, apperr.Storage(err, "failed to load members for group %s", groupID)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		var role string
		if err := rows.Scan(&m.UserID, &role, &m.Active, &m.JoinedAt); err != nil {
			return nil, apperr.Storage(err, "failed to scan member for group %s", groupID)
		}
		m.Role = models.Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "failed to iterate members for group %s", groupID)
	}
	return members, nil
}

// ListGroupsForMember returns the active groups where userID is an active member.
func (s *SQLiteStore) ListGroupsForMember(ctx context.Context, userID string) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id FROM groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.user_id = ? AND m.active = 1 AND g.active = 1
		 ORDER BY g.created_at`,
		userID,
	)
	if err != nil {
		return nil, apperr.Storage(err, "failed to list groups for user %s", userID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage(err, "failed to scan group id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "failed to iterate groups for user %s", userID)
	}

	groups := make([]*models.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}
