package uploader

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// prune removes change work for files that are about to be deleted. It runs
// in a single transaction: any failure rolls everything back.
func (u *Uploader) prune(ctx context.Context, deletions []*models.DeferredWork) error {
	if len(deletions) == 0 {
		return nil
	}

	return u.exec.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		for _, d := range deletions {
			var err error
			if d.HasFileGroup() {
				err = u.pruneFileGroup(ctx, tx, d)
			} else {
				err = u.pruneFile(ctx, tx, d)
			}
			if err != nil {
				return fmt.Errorf("deferred work %d: %w", d.ID, err)
			}
		}
		return nil
	})
}

func (u *Uploader) pruneFileGroup(ctx context.Context, tx dbx.DBTX, d *models.DeferredWork) error {
	mutationRepo := u.repos.Mutations(tx)
	deferredRepo := u.repos.Deferred(tx)

	items, err := deferredRepo.SelectPendingChangesForFileGroup(ctx, d.SharingGroupID, d.FileGroupID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if _, err := mutationRepo.DeleteByDeferredID(ctx, it.ID); err != nil {
			return err
		}
		if err := deferredRepo.DeleteByID(ctx, it.ID); err != nil {
			return err
		}
	}
	if len(items) > 0 {
		u.logger.Info(ctx, "pruned file group changes",
			"sharing_group", d.SharingGroupID, "file_group", d.FileGroupID, "items", len(items))
	}
	return nil
}

func (u *Uploader) pruneFile(ctx context.Context, tx dbx.DBTX, d *models.DeferredWork) error {
	mutationRepo := u.repos.Mutations(tx)
	deferredRepo := u.repos.Deferred(tx)

	owned, err := mutationRepo.SelectByDeferredID(ctx, d.ID)
	if err != nil {
		return err
	}
	target, err := deletionTarget(owned)
	if err != nil {
		return err
	}

	pending, err := mutationRepo.SelectPendingChangesForFile(ctx, d.SharingGroupID, target.FileID)
	if err != nil {
		return err
	}
	var touched []int64
	for _, m := range pending {
		if err := mutationRepo.DeleteByID(ctx, m.ID); err != nil {
			return err
		}
		if !slices.Contains(touched, m.DeferredID) {
			touched = append(touched, m.DeferredID)
		}
	}
	for _, id := range touched {
		if _, err := deferredRepo.DeleteIfEmpty(ctx, id); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		u.logger.Info(ctx, "pruned file changes",
			"sharing_group", d.SharingGroupID, "file", target.FileID, "mutations", len(pending))
	}
	return nil
}

// deletionTarget returns the single FileDeletion mutation an ungrouped
// pending-deletion item must own.
func deletionTarget(owned []*models.Mutation) (*models.Mutation, error) {
	if len(owned) != 1 {
		return nil, fmt.Errorf("%w: deletion owns %d mutations", common.ErrInvalidWorkItem, len(owned))
	}
	if _, ok := owned[0].Change.(models.FileDeletion); !ok {
		return nil, fmt.Errorf("%w: deletion owns a %s mutation", common.ErrInvalidWorkItem, owned[0].Kind())
	}
	return owned[0], nil
}
