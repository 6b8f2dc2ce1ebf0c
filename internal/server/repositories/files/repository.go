package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// Repository persists canonical file records.
type Repository interface {
	Create(ctx context.Context, file *models.FileRecord) error
	Lookup(ctx context.Context, sharingGroupID, fileID string) (*models.FileRecord, error)
	LookupByFileGroup(ctx context.Context, sharingGroupID, fileGroupID string) ([]*models.FileRecord, error)
	UpdateVersion(ctx context.Context, file *models.FileRecord, expectedVersion int64) error
	MarkDeleted(ctx context.Context, sharingGroupID, fileID string, at time.Time) error
}
