package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/models"
)

// appendActivityTx appends one audit record and assigns its Seq from the
// autoincrement column. Records are append-only: there is no update or
// delete path anywhere in the store.
func appendActivityTx(ctx context.Context, tx *sql.Tx, rec *models.ActivityRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return apperr.Storage(err, "failed to encode activity details for group %s", rec.GroupID)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO activity (group_id, action, actor_id, details, created_at) VALUES (?, ?, ?, ?, ?)",
		rec.GroupID, string(rec.Action), rec.ActorID, string(details), rec.CreatedAt,
	)
	if err != nil {
		return apperr.Storage(err, "failed to append activity for group %s", rec.GroupID)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return apperr.Storage(err, "failed to read activity seq for group %s", rec.GroupID)
	}
	rec.Seq = seq
	return nil
}

// ListActivity returns one page of a group's activity log, newest first.
// page is 1-based; limit defaults to 20 and is capped at 100.
func (s *SQLiteStore) ListActivity(ctx context.Context, groupID string, page, limit int) ([]*models.ActivityRecord, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, group_id, action, actor_id, details, created_at
		 FROM activity WHERE group_id = ?
		 ORDER BY seq DESC LIMIT ? OFFSET ?`,
		groupID, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, apperr.Storage(err, "failed to list activity for group %s", groupID)
	}
	defer rows.Close()

	var records []*models.ActivityRecord
	for rows.Next() {
		rec := &models.ActivityRecord{}
		var action string
		var details sql.NullString
		if err := rows.Scan(&rec.Seq, &rec.GroupID, &action, &rec.ActorID, &details, &rec.CreatedAt); err != nil {
			return nil, apperr.Storage(err, "failed to scan activity for group %s", groupID)
		}
		rec.Action = models.Action(action)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &rec.Details); err != nil {
				return nil, apperr.Storage(err, "failed to decode activity details for group %s", groupID)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "failed to iterate activity for group %s", groupID)
	}
	return records, nil
}
