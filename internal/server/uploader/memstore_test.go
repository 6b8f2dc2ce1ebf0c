package uploader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/deferred"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/locks"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/mutations"
)

// memStore is an in-memory stand-in for the database. Transactions are
// serialized and roll back by restoring a snapshot.
type memStore struct {
	txMu sync.Mutex

	mu           sync.Mutex
	files        map[fileRef]models.FileRecord
	mutations    map[int64]models.Mutation
	deferred     map[int64]models.DeferredWork
	nextMutation int64
	nextDeferred int64

	commits   int
	rollbacks int
	// fail is consulted before every repository call.
	fail func(op string) error
}

type fileRef struct {
	sharingGroupID string
	fileID         string
}

func newMemStore() *memStore {
	return &memStore{
		files:     map[fileRef]models.FileRecord{},
		mutations: map[int64]models.Mutation{},
		deferred:  map[int64]models.DeferredWork{},
	}
}

// memConn satisfies dbx.DBTX; the memory repositories never use it.
type memConn struct{}

var errNoSQL = errors.New("memory store does not execute SQL")

func (memConn) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (memConn) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (memConn) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func (s *memStore) Conn() dbx.DBTX {
	return memConn{}
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	files, muts, def := maps.Clone(s.files), maps.Clone(s.mutations), maps.Clone(s.deferred)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if p := recover(); p != nil {
			s.files, s.mutations, s.deferred = files, muts, def
			s.rollbacks++
			panic(p)
		}
		if err != nil {
			s.files, s.mutations, s.deferred = files, muts, def
			s.rollbacks++
			return
		}
		s.commits++
	}()

	return fn(ctx, memConn{})
}

func (s *memStore) check(op string) error {
	if s.fail == nil {
		return nil
	}
	return s.fail(op)
}

func (s *memStore) RunMigrations(context.Context, *sql.DB) error { return nil }
func (s *memStore) Files(dbx.DBTX) files.Repository             { return &memFiles{s} }
func (s *memStore) Mutations(dbx.DBTX) mutations.Repository     { return &memMutations{s} }
func (s *memStore) Deferred(dbx.DBTX) deferred.Repository       { return &memDeferred{s} }
func (s *memStore) Locks(dbx.DBTX) locks.Repository             { return nil }

type memFiles struct{ s *memStore }

func (r *memFiles) Create(_ context.Context, f *models.FileRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("files.Create"); err != nil {
		return err
	}
	key := fileRef{f.SharingGroupID, f.FileID}
	if _, ok := r.s.files[key]; ok {
		return fmt.Errorf("duplicate file %v", key)
	}
	r.s.files[key] = *f
	return nil
}

func (r *memFiles) Lookup(_ context.Context, sg, fileID string) (*models.FileRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("files.Lookup"); err != nil {
		return nil, err
	}
	f, ok := r.s.files[fileRef{sg, fileID}]
	if !ok {
		return nil, fmt.Errorf("file %s/%s: %w", sg, fileID, common.ErrorNotFound)
	}
	return &f, nil
}

func (r *memFiles) LookupByFileGroup(_ context.Context, sg, fg string) ([]*models.FileRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("files.LookupByFileGroup"); err != nil {
		return nil, err
	}
	var out []*models.FileRecord
	for _, f := range r.s.files {
		if f.SharingGroupID == sg && f.FileGroupID == fg {
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}

func (r *memFiles) UpdateVersion(_ context.Context, f *models.FileRecord, expected int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("files.UpdateVersion"); err != nil {
		return err
	}
	key := fileRef{f.SharingGroupID, f.FileID}
	cur, ok := r.s.files[key]
	if !ok || cur.Version != expected {
		return common.ErrVersionConflict
	}
	r.s.files[key] = *f
	return nil
}

func (r *memFiles) MarkDeleted(_ context.Context, sg, fileID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("files.MarkDeleted"); err != nil {
		return err
	}
	key := fileRef{sg, fileID}
	f, ok := r.s.files[key]
	if !ok {
		return common.ErrorNotFound
	}
	f.Deleted = true
	f.UpdatedAt = at
	r.s.files[key] = f
	return nil
}

type memMutations struct{ s *memStore }

func (r *memMutations) Add(_ context.Context, m *models.Mutation) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("mutations.Add"); err != nil {
		return 0, err
	}
	r.s.nextMutation++
	c := *m
	c.ID = r.s.nextMutation
	r.s.mutations[c.ID] = c
	return c.ID, nil
}

func (r *memMutations) selectWhere(op string, pred func(models.Mutation) bool) ([]*models.Mutation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(op); err != nil {
		return nil, err
	}
	var out []*models.Mutation
	for _, id := range slices.Sorted(maps.Keys(r.s.mutations)) {
		m := r.s.mutations[id]
		if pred(m) {
			out = append(out, &m)
		}
	}
	return out, nil
}

func (r *memMutations) SelectByDeferredID(_ context.Context, id int64) ([]*models.Mutation, error) {
	return r.selectWhere("mutations.SelectByDeferredID", func(m models.Mutation) bool { return m.DeferredID == id })
}

func (r *memMutations) SelectForFileGroup(_ context.Context, sg, fg string) ([]*models.Mutation, error) {
	return r.selectWhere("mutations.SelectForFileGroup", func(m models.Mutation) bool {
		return m.SharingGroupID == sg && m.FileGroupID == fg
	})
}

func (r *memMutations) SelectPendingChangesForFile(_ context.Context, sg, fileID string) ([]*models.Mutation, error) {
	return r.selectWhere("mutations.SelectPendingChangesForFile", func(m models.Mutation) bool {
		d, ok := r.s.deferred[m.DeferredID]
		return ok && d.Status == models.StatusPendingChange && m.SharingGroupID == sg && m.FileID == fileID
	})
}

func (r *memMutations) DeleteByID(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("mutations.DeleteByID"); err != nil {
		return err
	}
	if _, ok := r.s.mutations[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.mutations, id)
	return nil
}

func (r *memMutations) DeleteByDeferredID(_ context.Context, id int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("mutations.DeleteByDeferredID"); err != nil {
		return 0, err
	}
	var n int64
	for mid, m := range r.s.mutations {
		if m.DeferredID == id {
			delete(r.s.mutations, mid)
			n++
		}
	}
	return n, nil
}

type memDeferred struct{ s *memStore }

func (r *memDeferred) Add(_ context.Context, d *models.DeferredWork) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("deferred.Add"); err != nil {
		return 0, err
	}
	r.s.nextDeferred++
	c := *d
	c.ID = r.s.nextDeferred
	r.s.deferred[c.ID] = c
	return c.ID, nil
}

func (r *memDeferred) selectWhere(op string, pred func(models.DeferredWork) bool) ([]*models.DeferredWork, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(op); err != nil {
		return nil, err
	}
	var out []*models.DeferredWork
	for _, id := range slices.Sorted(maps.Keys(r.s.deferred)) {
		d := r.s.deferred[id]
		if pred(d) {
			out = append(out, &d)
		}
	}
	return out, nil
}

func (r *memDeferred) SelectByStatus(_ context.Context, status models.WorkStatus) ([]*models.DeferredWork, error) {
	return r.selectWhere("deferred.SelectByStatus", func(d models.DeferredWork) bool { return d.Status == status })
}

func (r *memDeferred) SelectPendingChangesForFileGroup(_ context.Context, sg, fg string) ([]*models.DeferredWork, error) {
	return r.selectWhere("deferred.SelectPendingChangesForFileGroup", func(d models.DeferredWork) bool {
		return d.Status == models.StatusPendingChange && d.SharingGroupID == sg && d.FileGroupID == fg
	})
}

func (r *memDeferred) DeleteByID(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("deferred.DeleteByID"); err != nil {
		return err
	}
	if _, ok := r.s.deferred[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.deferred, id)
	return nil
}

func (r *memDeferred) DeleteIfEmpty(_ context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("deferred.DeleteIfEmpty"); err != nil {
		return false, err
	}
	for _, m := range r.s.mutations {
		if m.DeferredID == id {
			return false, nil
		}
	}
	_, ok := r.s.deferred[id]
	delete(r.s.deferred, id)
	return ok, nil
}

func (r *memDeferred) MarkCompleted(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("deferred.MarkCompleted"); err != nil {
		return err
	}
	d, ok := r.s.deferred[id]
	if !ok {
		return common.ErrorNotFound
	}
	d.Status = models.StatusCompleted
	d.CompletedAt = &at
	r.s.deferred[id] = d
	return nil
}

func (r *memDeferred) PurgeCompleted(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("deferred.PurgeCompleted"); err != nil {
		return 0, err
	}
	var n int64
	for id, d := range r.s.deferred {
		if d.Status == models.StatusCompleted && d.CompletedAt != nil && d.CompletedAt.Before(before) {
			delete(r.s.deferred, id)
			n++
		}
	}
	return n, nil
}

// memLocker is a process-local lock.Locker.
type memLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	releases int
	err      error
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}}
}

func (l *memLocker) Acquire(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held[name] {
		return false, nil
	}
	l.held[name] = true
	return true, nil
}

func (l *memLocker) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held[name] {
		return common.ErrLockNotHeld
	}
	delete(l.held, name)
	l.releases++
	return nil
}

func (l *memLocker) isHeld(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}
