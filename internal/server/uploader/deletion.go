package uploader

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/storage"
)

// deletionPlan is what one pending-deletion item removes.
type deletionPlan struct {
	item      *models.DeferredWork
	files     []*models.FileRecord
	mutations []int64
	objects   []objectRef
}

// processDeletions removes the files of pending-deletion items. Objects are
// deleted first and best-effort; then one transaction marks the records
// deleted, drops the consumed mutations and completes the items.
func (u *Uploader) processDeletions(ctx context.Context, items []*models.DeferredWork) error {
	if len(items) == 0 {
		return nil
	}

	var (
		plans []deletionPlan
		errs  []error
	)
	for _, it := range items {
		p, err := u.planDeletion(ctx, it)
		if err != nil {
			u.logger.Error(ctx, "failed to plan deletion", "deferred_id", it.ID, "error", err)
			errs = append(errs, fmt.Errorf("deferred work %d: %w", it.ID, err))
			continue
		}
		plans = append(plans, p)
	}
	if len(plans) == 0 {
		return firstNonNil(errs...)
	}

	var objects []objectRef
	for _, p := range plans {
		objects = append(objects, p.objects...)
	}
	if err := u.deleteObjects(ctx, objects); err != nil {
		u.logger.Warn(ctx, "some objects could not be deleted", "error", err)
	}

	now := u.clock.Now()
	err := u.exec.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		filesRepo := u.repos.Files(tx)
		mutationRepo := u.repos.Mutations(tx)
		deferredRepo := u.repos.Deferred(tx)

		for _, p := range plans {
			for _, f := range p.files {
				if err := filesRepo.MarkDeleted(ctx, f.SharingGroupID, f.FileID, now); err != nil {
					return err
				}
			}
			for _, id := range p.mutations {
				if err := mutationRepo.DeleteByID(ctx, id); err != nil {
					return err
				}
			}
			if err := deferredRepo.MarkCompleted(ctx, p.item.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("commit deletions: %w", err))
	} else {
		u.logger.Info(ctx, "deletions completed", "items", len(plans), "objects", len(objects))
	}
	return firstNonNil(errs...)
}

func (u *Uploader) planDeletion(ctx context.Context, it *models.DeferredWork) (deletionPlan, error) {
	conn := u.exec.Conn()
	filesRepo := u.repos.Files(conn)
	mutationRepo := u.repos.Mutations(conn)

	p := deletionPlan{item: it}

	var (
		records []*models.FileRecord
		owned   []*models.Mutation
		err     error
	)
	if it.HasFileGroup() {
		records, err = filesRepo.LookupByFileGroup(ctx, it.SharingGroupID, it.FileGroupID)
		if err != nil {
			return p, err
		}
		owned, err = mutationRepo.SelectForFileGroup(ctx, it.SharingGroupID, it.FileGroupID)
		if err != nil {
			return p, err
		}
	} else {
		owned, err = mutationRepo.SelectByDeferredID(ctx, it.ID)
		if err != nil {
			return p, err
		}
		target, err := deletionTarget(owned)
		if err != nil {
			return p, err
		}
		rec, err := filesRepo.Lookup(ctx, it.SharingGroupID, target.FileID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			u.logger.Warn(ctx, "file to delete is already gone", "file", target.FileID)
		case err != nil:
			return p, err
		default:
			records = append(records, rec)
		}
	}

	stores := map[string]storage.ObjectStore{}
	storeFor := func(userID string) (storage.ObjectStore, error) {
		if s, ok := stores[userID]; ok {
			return s, nil
		}
		s, err := u.credentials.ForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		stores[userID] = s
		return s, nil
	}

	owners := map[string]string{}
	for _, rec := range records {
		owners[rec.FileID] = rec.UserID
		if rec.Deleted {
			continue
		}
		store, err := storeFor(rec.UserID)
		if err != nil {
			return p, err
		}
		p.files = append(p.files, rec)
		p.objects = append(p.objects, objectRef{store: store, name: storage.ObjectName(rec.FileID, rec.DeviceID, rec.Version)})
	}
	for _, m := range owned {
		p.mutations = append(p.mutations, m.ID)
		if upload, ok := m.Change.(models.NewVersionUpload); ok && upload.StagedObject != "" {
			// Staged objects are kept in the store of the file's owner.
			owner, ok := owners[m.FileID]
			if !ok {
				u.logger.Warn(ctx, "staged object of an unknown file left behind", "file", m.FileID, "object", upload.StagedObject)
				continue
			}
			store, err := storeFor(owner)
			if err != nil {
				return p, err
			}
			p.objects = append(p.objects, objectRef{store: store, name: upload.StagedObject})
		}
	}
	return p, nil
}
