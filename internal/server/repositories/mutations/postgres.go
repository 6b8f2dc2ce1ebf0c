package mutations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

const selectColumns = `m.id, m.file_id, m.user_id, m.device_id, m.file_group_id, m.sharing_group_id, m.kind,
	m.contents, m.staged_object, m.mime_type, m.size, m.app_meta_data, m.app_meta_data_version, m.deferred_id`

// PostgresRepository stores mutations in the mutations table.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// row is the flat column representation of a mutation.
type row struct {
	kind               string
	contents           []byte
	stagedObject       sql.NullString
	mimeType           sql.NullString
	size               sql.NullInt64
	appMetaData        sql.NullString
	appMetaDataVersion sql.NullInt64
}

func toRow(c models.Change) (row, error) {
	var r row
	switch c := c.(type) {
	case models.NewVersionUpload:
		r.contents = c.Contents
		r.stagedObject = sql.NullString{String: c.StagedObject, Valid: c.StagedObject != ""}
		r.mimeType = sql.NullString{String: c.MimeType, Valid: true}
		r.size = sql.NullInt64{Int64: c.Size, Valid: true}
	case models.ContentChange:
		r.contents = c.Contents
	case models.AppMetaDataChange:
		r.appMetaData = sql.NullString{String: c.AppMetaData, Valid: true}
		r.appMetaDataVersion = sql.NullInt64{Int64: c.Version, Valid: true}
	case models.Undelete, models.FileDeletion:
	default:
		return r, fmt.Errorf("unsupported change %T: %w", c, common.ErrInvalidMutation)
	}
	r.kind = string(c.Kind())
	return r, nil
}

func (r row) change() (models.Change, error) {
	switch models.MutationKind(r.kind) {
	case models.KindNewVersion:
		return models.NewVersionUpload{
			Contents:     r.contents,
			StagedObject: r.stagedObject.String,
			MimeType:     r.mimeType.String,
			Size:         r.size.Int64,
		}, nil
	case models.KindContentChange:
		return models.ContentChange{Contents: r.contents}, nil
	case models.KindUndelete:
		return models.Undelete{}, nil
	case models.KindAppMetaData:
		return models.AppMetaDataChange{AppMetaData: r.appMetaData.String, Version: r.appMetaDataVersion.Int64}, nil
	case models.KindFileDeletion:
		return models.FileDeletion{}, nil
	default:
		return nil, fmt.Errorf("unknown mutation kind %q: %w", r.kind, common.ErrInvalidMutation)
	}
}

// Add appends a mutation to the log and returns its id.
func (r *PostgresRepository) Add(ctx context.Context, m *models.Mutation) (int64, error) {
	cols, err := toRow(m.Change)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO mutations (file_id, user_id, device_id, file_group_id, sharing_group_id, kind,
			contents, staged_object, mime_type, size, app_meta_data, app_meta_data_version, deferred_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	var id int64
	err = r.db.QueryRowContext(ctx, query,
		m.FileID, m.UserID, m.DeviceID, sql.NullString{String: m.FileGroupID, Valid: m.FileGroupID != ""}, m.SharingGroupID, cols.kind,
		cols.contents, cols.stagedObject, cols.mimeType, cols.size, cols.appMetaData, cols.appMetaDataVersion,
		sql.NullInt64{Int64: m.DeferredID, Valid: m.DeferredID != 0},
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert mutation: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) selectMutations(ctx context.Context, query string, args ...any) ([]*models.Mutation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select mutations: %w", err)
	}
	defer rows.Close()

	var result []*models.Mutation
	for rows.Next() {
		var (
			m           models.Mutation
			cols        row
			fileGroupID sql.NullString
			deferredID  sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.FileID, &m.UserID, &m.DeviceID, &fileGroupID, &m.SharingGroupID, &cols.kind,
			&cols.contents, &cols.stagedObject, &cols.mimeType, &cols.size, &cols.appMetaData, &cols.appMetaDataVersion, &deferredID); err != nil {
			return nil, err
		}
		change, err := cols.change()
		if err != nil {
			return nil, err
		}
		m.Change = change
		m.FileGroupID = fileGroupID.String
		m.DeferredID = deferredID.Int64
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SelectByDeferredID returns the mutations owned by one deferred work item.
func (r *PostgresRepository) SelectByDeferredID(ctx context.Context, deferredID int64) ([]*models.Mutation, error) {
	query := `SELECT ` + selectColumns + ` FROM mutations m WHERE m.deferred_id=$1 ORDER BY m.id`
	return r.selectMutations(ctx, query, deferredID)
}

// SelectForFileGroup returns every mutation queued for a file group.
func (r *PostgresRepository) SelectForFileGroup(ctx context.Context, sharingGroupID, fileGroupID string) ([]*models.Mutation, error) {
	query := `SELECT ` + selectColumns + ` FROM mutations m WHERE m.sharing_group_id=$1 AND m.file_group_id=$2 ORDER BY m.id`
	return r.selectMutations(ctx, query, sharingGroupID, fileGroupID)
}

// SelectPendingChangesForFile returns the mutations of a file that belong to
// pending-change work items.
func (r *PostgresRepository) SelectPendingChangesForFile(ctx context.Context, sharingGroupID, fileID string) ([]*models.Mutation, error) {
	query := `SELECT ` + selectColumns + ` FROM mutations m
		JOIN deferred_work d ON d.id = m.deferred_id
		WHERE m.sharing_group_id=$1 AND m.file_id=$2 AND d.status=$3
		ORDER BY m.id`
	return r.selectMutations(ctx, query, sharingGroupID, fileID, string(models.StatusPendingChange))
}

// DeleteByID removes one consumed mutation.
func (r *PostgresRepository) DeleteByID(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mutations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mutation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("mutation %d: %w", id, common.ErrorNotFound)
	}
	return nil
}

// DeleteByDeferredID removes all mutations of a work item and returns how many were deleted.
func (r *PostgresRepository) DeleteByDeferredID(ctx context.Context, deferredID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mutations WHERE deferred_id=$1`, deferredID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete mutations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
