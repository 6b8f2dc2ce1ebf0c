package uploader

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/storage"
	"golang.org/x/sync/errgroup"
)

// objectRef names a stored object to delete once metadata is committed.
type objectRef struct {
	store storage.ObjectStore
	name  string
}

// processChanges reconciles pending-change work. Units are independent; a
// failing unit leaves its work pending and does not stop the others.
func (u *Uploader) processChanges(ctx context.Context, items []*models.DeferredWork) error {
	if len(items) == 0 {
		return nil
	}

	units, err := aggregate(items)
	if err != nil {
		return err
	}

	errs := make([]error, len(units))
	var g errgroup.Group
	g.SetLimit(u.concurrency)
	for i, un := range units {
		g.Go(func() error {
			if un.grouped() {
				errs[i] = u.applyGrouped(ctx, un)
			} else {
				errs[i] = u.applyUngrouped(ctx, un)
			}
			return nil
		})
	}
	_ = g.Wait()

	return firstNonNil(errs...)
}

// collectMutations loads the mutations of all items in queue order.
func (u *Uploader) collectMutations(ctx context.Context, db dbx.DBTX, items []*models.DeferredWork) ([]*models.Mutation, error) {
	repo := u.repos.Mutations(db)

	var all []*models.Mutation
	for _, it := range items {
		ms, err := repo.SelectByDeferredID(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, ms...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// applyGrouped reconciles every file of a file group in one transaction.
func (u *Uploader) applyGrouped(ctx context.Context, un unit) error {
	var cleanup []objectRef

	err := u.exec.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		cleanup = cleanup[:0]

		all, err := u.collectMutations(ctx, tx, un.items)
		if err != nil {
			return u.unitError(un, "", KindDatabase, err)
		}
		byFile, err := GroupBy(all, fileKey)
		if err != nil {
			return u.unitError(un, "", KindInvalidMutation, err)
		}
		for _, ms := range byFile {
			refs, err := u.reconcileFile(ctx, tx, un, ms)
			if err != nil {
				return err
			}
			cleanup = append(cleanup, refs...)
		}

		deferredRepo := u.repos.Deferred(tx)
		for _, it := range un.items {
			if err := deferredRepo.DeleteByID(ctx, it.ID); err != nil {
				return u.unitError(un, "", KindDatabase, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	u.logger.Info(ctx, "file group reconciled",
		"sharing_group", un.sharingGroupID, "file_group", un.fileGroupID, "items", len(un.items))
	u.deleteObjects(ctx, cleanup)
	return nil
}

// applyUngrouped reconciles each file in its own transaction. A failed file
// does not undo files committed before it.
func (u *Uploader) applyUngrouped(ctx context.Context, un unit) error {
	all, err := u.collectMutations(ctx, u.exec.Conn(), un.items)
	if err != nil {
		return u.unitError(un, "", KindDatabase, err)
	}
	byFile, err := GroupBy(all, fileKey)
	if err != nil {
		return u.unitError(un, "", KindInvalidMutation, err)
	}

	var errs []error
	for _, ms := range byFile {
		var refs []objectRef
		err := u.exec.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			refs, err = u.reconcileFile(ctx, tx, un, ms)
			return err
		})
		if err != nil {
			u.logger.Error(ctx, "file reconciliation failed", "file", ms[0].FileID, "error", err)
			errs = append(errs, err)
			continue
		}
		u.logger.Info(ctx, "file reconciled", "sharing_group", un.sharingGroupID, "file", ms[0].FileID, "mutations", len(ms))
		u.deleteObjects(ctx, refs)
	}

	deferredRepo := u.repos.Deferred(u.exec.Conn())
	for _, it := range un.items {
		if _, err := deferredRepo.DeleteIfEmpty(ctx, it.ID); err != nil {
			errs = append(errs, u.unitError(un, "", KindDatabase, err))
		}
	}
	return firstNonNil(errs...)
}

// reconcileFile applies the mutations of one file inside tx and returns the
// objects superseded by the new versions.
func (u *Uploader) reconcileFile(ctx context.Context, tx dbx.DBTX, un unit, ms []*models.Mutation) ([]objectRef, error) {
	fileID := ms[0].FileID
	filesRepo := u.repos.Files(tx)
	mutationRepo := u.repos.Mutations(tx)

	rec, err := filesRepo.Lookup(ctx, un.sharingGroupID, fileID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, u.unitError(un, fileID, KindMissingRecord, err)
		}
		return nil, u.unitError(un, fileID, KindDatabase, err)
	}

	resolver, err := u.resolvers.Lookup(rec.ChangeResolverName)
	if err != nil {
		return nil, u.unitError(un, fileID, KindUnknownResolver, err)
	}

	store, err := u.credentials.ForUser(ctx, rec.UserID)
	if err != nil {
		return nil, u.unitError(un, fileID, KindCredentials, err)
	}

	obj := storage.FileObject{Store: store, FileID: rec.FileID, DeviceID: rec.DeviceID}

	// Each work item contributing to the file yields one version.
	batches, err := GroupBy(ms, deferredKey)
	if err != nil {
		return nil, u.unitError(un, fileID, KindInvalidMutation, err)
	}

	var refs []objectRef
	updated := *rec
	for _, batch := range batches {
		prev := updated.Version
		if err := applyRecordChanges(&updated, batch); err != nil {
			return nil, u.unitError(un, fileID, KindInvalidMutation, err)
		}

		res, err := resolver.Apply(ctx, prev, batch, obj)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, u.unitError(un, fileID, KindStorage, err)
			}
			return nil, u.unitError(un, fileID, KindResolver, err)
		}
		if res.Version != prev+1 {
			return nil, u.unitError(un, fileID, KindResolver,
				fmt.Errorf("%s produced version %d from version %d", resolver.Name(), res.Version, prev))
		}

		updated.Version = res.Version
		updated.Checksum = res.Checksum
		updated.Size = res.Size
		if res.MimeType != "" {
			updated.MimeType = res.MimeType
		}
		refs = append(refs, objectRef{store: store, name: obj.Name(prev)})
		for _, name := range res.Consumed {
			refs = append(refs, objectRef{store: store, name: name})
		}
	}
	updated.UpdatedAt = u.clock.Now()

	if err := filesRepo.UpdateVersion(ctx, &updated, rec.Version); err != nil {
		return nil, u.unitError(un, fileID, KindDatabase, err)
	}
	for _, m := range ms {
		if err := mutationRepo.DeleteByID(ctx, m.ID); err != nil {
			return nil, u.unitError(un, fileID, KindDatabase, err)
		}
	}
	return refs, nil
}

// applyRecordChanges applies the mutations that only touch the record. The
// objects of a deleted file are gone, so its batch must undelete it and carry
// a new version upload to rebuild from.
func applyRecordChanges(rec *models.FileRecord, ms []*models.Mutation) error {
	if rec.Deleted && !models.RestoresFile(ms) {
		return fmt.Errorf("%w: file %s is deleted; undelete it with a new version upload",
			common.ErrInvalidMutation, rec.FileID)
	}
	for _, m := range ms {
		switch c := m.Change.(type) {
		case models.Undelete:
			rec.Deleted = false
		case models.AppMetaDataChange:
			if c.Version != rec.AppMetaDataVersion+1 {
				return fmt.Errorf("%w: app metadata version %d after %d",
					common.ErrInvalidMutation, c.Version, rec.AppMetaDataVersion)
			}
			rec.AppMetaData = c.AppMetaData
			rec.AppMetaDataVersion = c.Version
		case models.FileDeletion:
			return fmt.Errorf("%w: deletion queued as change", common.ErrInvalidMutation)
		}
	}
	return nil
}

func (u *Uploader) unitError(un unit, fileID string, kind ErrorKind, err error) error {
	var ue *UnitError
	if errors.As(err, &ue) {
		return err
	}
	return &UnitError{
		Kind:           kind,
		SharingGroupID: un.sharingGroupID,
		FileGroupID:    un.fileGroupID,
		FileID:         fileID,
		Err:            err,
	}
}

// deleteObjects removes superseded objects. Failures are only logged: at
// worst they leave an unreferenced object behind.
func (u *Uploader) deleteObjects(ctx context.Context, refs []objectRef) error {
	var last error
	for _, ref := range refs {
		err := ref.store.Delete(ctx, ref.name)
		if err == nil || errors.Is(err, common.ErrorNotFound) {
			continue
		}
		u.logger.Warn(ctx, "failed to delete object", "object", ref.name, "error", err)
		last = err
	}
	return last
}
