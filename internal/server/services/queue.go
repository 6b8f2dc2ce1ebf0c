// Package services holds the intake API the request layer uses to stage
// files and queue mutations for the uploader.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/server/resolvers"
	"github.com/dmitrijs2005/gophsync/internal/server/storage"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"
)

const (
	defaultMaxRetries = 3
	defaultRetryBase  = 50 * time.Millisecond

	// PresignExpiry is how long a staging upload URL stays valid.
	PresignExpiry = 15 * time.Minute
)

// ResolverLookup finds change resolvers by name.
type ResolverLookup interface {
	Lookup(name string) (resolvers.Resolver, error)
}

type QueueService struct {
	exec        dbx.Executor
	repos       repomanager.RepositoryManager
	resolvers   ResolverLookup
	credentials storage.CredentialResolver
	clock       clockwork.Clock
	logger      logging.Logger
	maxRetries  uint64
	retryBase   time.Duration
	onQueued    func(ctx context.Context)
}

type QueueOption func(*QueueService)

func WithQueueClock(c clockwork.Clock) QueueOption {
	return func(s *QueueService) { s.clock = c }
}

func WithQueueLogger(l logging.Logger) QueueOption {
	return func(s *QueueService) { s.logger = l }
}

// WithRetry sets how often a transient database failure is retried and the
// base delay of the exponential backoff.
func WithRetry(maxRetries uint64, base time.Duration) QueueOption {
	return func(s *QueueService) {
		s.maxRetries = maxRetries
		s.retryBase = base
	}
}

// WithOnQueued registers a hook run after work was committed, typically
// Uploader.Trigger.
func WithOnQueued(fn func(ctx context.Context)) QueueOption {
	return func(s *QueueService) { s.onQueued = fn }
}

func NewQueueService(exec dbx.Executor, repos repomanager.RepositoryManager, lookup ResolverLookup,
	credentials storage.CredentialResolver, opts ...QueueOption) *QueueService {
	s := &QueueService{
		exec:        exec,
		repos:       repos,
		resolvers:   lookup,
		credentials: credentials,
		clock:       clockwork.NewRealClock(),
		logger:      logging.Nop(),
		maxRetries:  defaultMaxRetries,
		retryBase:   defaultRetryBase,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("module", "queue")
	return s
}

// StageFile uploads content as version 0 of a new file and creates its
// record. The record's version, checksum, size and timestamps are set here.
func (s *QueueService) StageFile(ctx context.Context, rec *models.FileRecord, content []byte) error {
	if rec.SharingGroupID == "" || rec.FileID == "" || rec.UserID == "" || rec.DeviceID == "" {
		return fmt.Errorf("%w: sharing group, file, user and device ids are required", common.ErrInvalidMutation)
	}
	if rec.MimeType == "" {
		return fmt.Errorf("%w: mime type is required", common.ErrInvalidMutation)
	}
	if _, err := s.resolvers.Lookup(rec.ChangeResolverName); err != nil {
		return err
	}

	store, err := s.credentials.ForUser(ctx, rec.UserID)
	if err != nil {
		return fmt.Errorf("storage for user %s: %w", rec.UserID, err)
	}

	obj := storage.FileObject{Store: store, FileID: rec.FileID, DeviceID: rec.DeviceID}
	sum, err := obj.Write(ctx, 0, content)
	if err != nil {
		return fmt.Errorf("upload %s: %w", obj.Name(0), err)
	}

	now := s.clock.Now()
	rec.Version = 0
	rec.Checksum = sum
	rec.Size = int64(len(content))
	rec.Deleted = false
	rec.CreatedAt, rec.UpdatedAt = now, now

	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.repos.Files(s.exec.Conn()).Create(ctx, rec)
	})
	if err != nil {
		if derr := store.Delete(context.WithoutCancel(ctx), obj.Name(0)); derr != nil && !errors.Is(derr, common.ErrorNotFound) {
			s.logger.Warn(ctx, "failed to remove orphaned upload", "object", obj.Name(0), "error", derr)
		}
		return fmt.Errorf("create file record: %w", err)
	}

	s.logger.Info(ctx, "file staged", "sharing_group", rec.SharingGroupID, "file", rec.FileID)
	return nil
}

// StageObject stores the bytes of a NewVersionUpload ahead of queuing it and
// returns the object name to put into the mutation. The object is kept in the
// store of the file's owner, where the uploader reads and later removes it,
// whichever member of the sharing group uploads it.
func (s *QueueService) StageObject(ctx context.Context, sharingGroupID, fileID string, content []byte) (string, error) {
	store, err := s.ownerStore(ctx, sharingGroupID, fileID)
	if err != nil {
		return "", err
	}
	name := stagedName()
	if _, err := store.Upload(ctx, name, content); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return name, nil
}

// PresignStagedObject reserves a staged object name and returns a URL the
// client uploads the bytes of a NewVersionUpload to.
func (s *QueueService) PresignStagedObject(ctx context.Context, sharingGroupID, fileID string) (string, string, error) {
	store, err := s.ownerStore(ctx, sharingGroupID, fileID)
	if err != nil {
		return "", "", err
	}
	presigner, ok := store.(storage.Presigner)
	if !ok {
		return "", "", common.ErrPresignUnsupported
	}

	name := stagedName()
	url, err := presigner.PresignPut(ctx, name, PresignExpiry)
	if err != nil {
		return "", "", err
	}
	return name, url, nil
}

func (s *QueueService) lookupFile(ctx context.Context, sharingGroupID, fileID string) (*models.FileRecord, error) {
	var rec *models.FileRecord
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.repos.Files(s.exec.Conn()).Lookup(ctx, sharingGroupID, fileID)
		return err
	})
	return rec, err
}

func (s *QueueService) ownerStore(ctx context.Context, sharingGroupID, fileID string) (storage.ObjectStore, error) {
	rec, err := s.lookupFile(ctx, sharingGroupID, fileID)
	if err != nil {
		return nil, fmt.Errorf("lookup file %s/%s: %w", sharingGroupID, fileID, err)
	}
	store, err := s.credentials.ForUser(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("storage for user %s: %w", rec.UserID, err)
	}
	return store, nil
}

func stagedName() string {
	return "staged/" + uuid.NewString()
}

// Enqueue stores a deferred work item together with its mutations in one
// transaction and returns the item id. Mutations inherit the item's sharing
// and file group when they leave them empty.
func (s *QueueService) Enqueue(ctx context.Context, item *models.DeferredWork, mutations []*models.Mutation) (int64, error) {
	if err := validateWork(item, mutations); err != nil {
		return 0, err
	}
	if err := s.checkFiles(ctx, item, mutations); err != nil {
		return 0, err
	}

	var id int64
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.exec.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			id, err = s.repos.Deferred(tx).Add(ctx, item)
			if err != nil {
				return err
			}
			mutationRepo := s.repos.Mutations(tx)
			for _, m := range mutations {
				m.DeferredID = id
				if m.ID, err = mutationRepo.Add(ctx, m); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue deferred work: %w", err)
	}
	item.ID = id

	s.logger.Info(ctx, "deferred work queued",
		"id", id, "status", string(item.Status), "sharing_group", item.SharingGroupID, "mutations", len(mutations))
	if s.onQueued != nil {
		s.onQueued(ctx)
	}
	return id, nil
}

func validateWork(item *models.DeferredWork, mutations []*models.Mutation) error {
	if item.UserID == "" || item.SharingGroupID == "" {
		return fmt.Errorf("%w: user and sharing group ids are required", common.ErrInvalidWorkItem)
	}

	deletions := 0
	byFile := map[string][]*models.Mutation{}
	for i, m := range mutations {
		if m.SharingGroupID == "" {
			m.SharingGroupID = item.SharingGroupID
		}
		if m.FileGroupID == "" {
			m.FileGroupID = item.FileGroupID
		}
		if m.SharingGroupID != item.SharingGroupID || m.FileGroupID != item.FileGroupID {
			return fmt.Errorf("%w: mutation %d belongs to another group", common.ErrInvalidWorkItem, i)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: mutation %d: %v", common.ErrInvalidMutation, i, err)
		}
		if m.Kind() == models.KindFileDeletion {
			deletions++
		}
		byFile[m.FileID] = append(byFile[m.FileID], m)
	}
	for fileID, ms := range byFile {
		for _, m := range ms {
			if m.Kind() == models.KindUndelete && !models.RestoresFile(ms) {
				return fmt.Errorf("%w: undelete of file %s without a new version upload", common.ErrInvalidMutation, fileID)
			}
		}
	}

	switch item.Status {
	case models.StatusPendingChange:
		if len(mutations) == 0 {
			return fmt.Errorf("%w: change without mutations", common.ErrInvalidWorkItem)
		}
		if deletions > 0 {
			return fmt.Errorf("%w: deletion queued as change", common.ErrInvalidWorkItem)
		}
	case models.StatusPendingDeletion:
		if item.HasFileGroup() && len(mutations) != 0 {
			return fmt.Errorf("%w: file group deletion carries mutations", common.ErrInvalidWorkItem)
		}
		if !item.HasFileGroup() && (len(mutations) != 1 || deletions != 1) {
			return fmt.Errorf("%w: file deletion needs exactly one deletion mutation", common.ErrInvalidWorkItem)
		}
	default:
		return fmt.Errorf("%w: cannot queue status %q", common.ErrInvalidWorkItem, item.Status)
	}
	return nil
}

// checkFiles compares the mutations with the stored file records. A file must
// exist and belong to the item's file group, so that its changes stay in the
// unit the uploader reconciles it in. Changes to a deleted file are accepted
// only when the item restores it.
func (s *QueueService) checkFiles(ctx context.Context, item *models.DeferredWork, mutations []*models.Mutation) error {
	var order []string
	byFile := map[string][]*models.Mutation{}
	for _, m := range mutations {
		if _, ok := byFile[m.FileID]; !ok {
			order = append(order, m.FileID)
		}
		byFile[m.FileID] = append(byFile[m.FileID], m)
	}

	for _, fileID := range order {
		rec, err := s.lookupFile(ctx, item.SharingGroupID, fileID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return fmt.Errorf("%w: unknown file %s", common.ErrInvalidMutation, fileID)
		case err != nil:
			return fmt.Errorf("lookup file %s: %w", fileID, err)
		}
		if rec.FileGroupID != item.FileGroupID {
			return fmt.Errorf("%w: file %s belongs to file group %q, not %q",
				common.ErrInvalidWorkItem, fileID, rec.FileGroupID, item.FileGroupID)
		}
		if rec.Deleted && item.Status == models.StatusPendingChange && !models.RestoresFile(byFile[fileID]) {
			return fmt.Errorf("%w: file %s is deleted", common.ErrInvalidMutation, fileID)
		}
	}
	return nil
}

// withRetry runs fn again with exponential backoff while it fails with a
// transient database error.
func (s *QueueService) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && dbx.IsTransient(err) {
			s.logger.Warn(ctx, "transient database error, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}
