package deferred

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

const selectColumns = `id, user_id, sharing_group_id, file_group_id, status, completed_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Add stores a new work item and returns its id.
func (r *PostgresRepository) Add(ctx context.Context, item *models.DeferredWork) (int64, error) {
	query := `
		INSERT INTO deferred_work (user_id, sharing_group_id, file_group_id, status, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var completedAt sql.NullTime
	if item.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *item.CompletedAt, Valid: true}
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		item.UserID, item.SharingGroupID, sql.NullString{String: item.FileGroupID, Valid: item.FileGroupID != ""},
		string(item.Status), completedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deferred work: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) selectItems(ctx context.Context, query string, args ...any) ([]*models.DeferredWork, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select deferred work: %w", err)
	}
	defer rows.Close()

	var result []*models.DeferredWork
	for rows.Next() {
		var (
			d           models.DeferredWork
			fileGroupID sql.NullString
			status      string
			completedAt sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.SharingGroupID, &fileGroupID, &status, &completedAt); err != nil {
			return nil, err
		}
		d.FileGroupID = fileGroupID.String
		d.Status = models.WorkStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			d.CompletedAt = &t
		}
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SelectByStatus returns all items in the given status, oldest first.
func (r *PostgresRepository) SelectByStatus(ctx context.Context, status models.WorkStatus) ([]*models.DeferredWork, error) {
	query := `SELECT ` + selectColumns + ` FROM deferred_work WHERE status=$1 ORDER BY id`
	return r.selectItems(ctx, query, string(status))
}

// SelectPendingChangesForFileGroup returns the pending-change items scoped to a file group.
func (r *PostgresRepository) SelectPendingChangesForFileGroup(ctx context.Context, sharingGroupID, fileGroupID string) ([]*models.DeferredWork, error) {
	query := `SELECT ` + selectColumns + ` FROM deferred_work
		WHERE sharing_group_id=$1 AND file_group_id=$2 AND status=$3 ORDER BY id`
	return r.selectItems(ctx, query, sharingGroupID, fileGroupID, string(models.StatusPendingChange))
}

func (r *PostgresRepository) DeleteByID(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deferred_work WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete deferred work: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("deferred work %d: %w", id, common.ErrorNotFound)
	}
	return nil
}

// DeleteIfEmpty removes the item when no mutation references it any more.
// It reports whether the item was removed.
func (r *PostgresRepository) DeleteIfEmpty(ctx context.Context, id int64) (bool, error) {
	query := `
		DELETE FROM deferred_work d
		WHERE d.id=$1 AND NOT EXISTS (SELECT 1 FROM mutations m WHERE m.deferred_id = d.id)`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete deferred work: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkCompleted moves the item into the terminal completed status.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE deferred_work SET status=$1, completed_at=$2 WHERE id=$3`,
		string(models.StatusCompleted), at, id)
	if err != nil {
		return fmt.Errorf("failed to mark completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("deferred work %d: %w", id, common.ErrorNotFound)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// PurgeCompleted deletes completed items finished before the given time.
func (r *PostgresRepository) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deferred_work WHERE status=$1 AND completed_at < $2`,
		string(models.StatusCompleted), before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed work: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
