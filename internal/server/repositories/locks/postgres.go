package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) TryAcquire(ctx context.Context, lock *models.Lock, now time.Time) (bool, error) {
	query := `
		INSERT INTO locks (name, owner, expiry)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expiry = EXCLUDED.expiry
		WHERE locks.expiry < $4`

	res, err := r.db.ExecContext(ctx, query, lock.Name, lock.Owner, lock.Expiry, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Release(ctx context.Context, name, owner string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM locks WHERE name=$1 AND owner=$2`, name, owner)
	if err != nil {
		return false, fmt.Errorf("failed to delete lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Lookup(ctx context.Context, name string) (*models.Lock, error) {
	var l models.Lock
	err := r.db.QueryRowContext(ctx, `SELECT name, owner, expiry FROM locks WHERE name=$1`, name).
		Scan(&l.Name, &l.Owner, &l.Expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock %s: %w", name, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select lock: %w", err)
	}
	return &l, nil
}

// RemoveStale deletes every lock that expired before now.
func (r *PostgresRepository) RemoveStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM locks WHERE expiry < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to remove stale locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
