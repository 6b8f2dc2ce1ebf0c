package files

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

const selectColumns = `sharing_group_id, file_id, file_group_id, user_id, device_id, version, mime_type,
	checksum, change_resolver_name, app_meta_data, app_meta_data_version, deleted, size, created_at, updated_at`

// PostgresRepository implements file record storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var (
		f           models.FileRecord
		fileGroupID sql.NullString
		appMetaData sql.NullString
	)
	err := row.Scan(&f.SharingGroupID, &f.FileID, &fileGroupID, &f.UserID, &f.DeviceID, &f.Version, &f.MimeType,
		&f.Checksum, &f.ChangeResolverName, &appMetaData, &f.AppMetaDataVersion, &f.Deleted, &f.Size, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.FileGroupID = fileGroupID.String
	f.AppMetaData = appMetaData.String
	return &f, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts the v0 record of a new file.
func (r *PostgresRepository) Create(ctx context.Context, file *models.FileRecord) error {
	query := `
		INSERT INTO files (sharing_group_id, file_id, file_group_id, user_id, device_id, version, mime_type,
			checksum, change_resolver_name, app_meta_data, app_meta_data_version, deleted, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.db.ExecContext(ctx, query,
		file.SharingGroupID, file.FileID, nullable(file.FileGroupID), file.UserID, file.DeviceID, file.Version, file.MimeType,
		file.Checksum, file.ChangeResolverName, nullable(file.AppMetaData), file.AppMetaDataVersion, file.Deleted, file.Size,
		file.CreatedAt, file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Lookup returns the record for (sharingGroupID, fileID) or common.ErrorNotFound.
func (r *PostgresRepository) Lookup(ctx context.Context, sharingGroupID, fileID string) (*models.FileRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM files WHERE sharing_group_id=$1 AND file_id=$2`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, sharingGroupID, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s/%s: %w", sharingGroupID, fileID, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// LookupByFileGroup returns all records of a file group, deleted ones included.
func (r *PostgresRepository) LookupByFileGroup(ctx context.Context, sharingGroupID, fileGroupID string) ([]*models.FileRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM files WHERE sharing_group_id=$1 AND file_group_id=$2 ORDER BY file_id`

	rows, err := r.db.QueryContext(ctx, query, sharingGroupID, fileGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateVersion stores the reconciled state of file. The row must still be at
// expectedVersion, otherwise common.ErrVersionConflict is returned.
func (r *PostgresRepository) UpdateVersion(ctx context.Context, file *models.FileRecord, expectedVersion int64) error {
	query := `
		UPDATE files SET
			version=$1, checksum=$2, size=$3, device_id=$4, mime_type=$5,
			app_meta_data=$6, app_meta_data_version=$7, deleted=$8, updated_at=$9
		WHERE sharing_group_id=$10 AND file_id=$11 AND version=$12`
	res, err := r.db.ExecContext(ctx, query,
		file.Version, file.Checksum, file.Size, file.DeviceID, file.MimeType,
		nullable(file.AppMetaData), file.AppMetaDataVersion, file.Deleted, file.UpdatedAt,
		file.SharingGroupID, file.FileID, expectedVersion)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// MarkDeleted sets the deletion flag of one record.
func (r *PostgresRepository) MarkDeleted(ctx context.Context, sharingGroupID, fileID string, at time.Time) error {
	query := `UPDATE files SET deleted=TRUE, updated_at=$1 WHERE sharing_group_id=$2 AND file_id=$3`
	res, err := r.db.ExecContext(ctx, query, at, sharingGroupID, fileID)
	if err != nil {
		return fmt.Errorf("failed to mark deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("file %s/%s: %w", sharingGroupID, fileID, common.ErrorNotFound)
	}
	return nil
}
