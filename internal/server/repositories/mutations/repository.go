package mutations

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// Repository is the pending mutation log. All selects return rows in queue
// (insertion) order.
type Repository interface {
	Add(ctx context.Context, m *models.Mutation) (int64, error)
	SelectByDeferredID(ctx context.Context, deferredID int64) ([]*models.Mutation, error)
	SelectForFileGroup(ctx context.Context, sharingGroupID, fileGroupID string) ([]*models.Mutation, error)
	SelectPendingChangesForFile(ctx context.Context, sharingGroupID, fileID string) ([]*models.Mutation, error)
	DeleteByID(ctx context.Context, id int64) error
	DeleteByDeferredID(ctx context.Context, deferredID int64) (int64, error)
}
