// Package uploader folds deferred mutations into the canonical file records
// and stored objects. One Run is a cycle: take the distributed lock, prune
// change work made moot by deletions, run the deletion pipeline, reconcile
// the remaining changes and release the lock.
package uploader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/lock"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/server/resolvers"
	"github.com/dmitrijs2005/gophsync/internal/server/storage"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultLockName  = "Uploader"
	DefaultRetention = 24 * time.Hour
)

// State is the phase of the cycle in progress.
type State int32

const (
	StateIdle State = iota
	StateLocked
	StatePruning
	StateFetchingWork
	StateProcessing
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocked:
		return "locked"
	case StatePruning:
		return "pruning"
	case StateFetchingWork:
		return "fetchingWork"
	case StateProcessing:
		return "processing"
	case StateUnlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Completion is delivered to observers after every cycle.
type Completion struct {
	// Skipped is set when another process held the lock.
	Skipped   bool
	Deletions int
	Changes   int
	// Err is the first error of the cycle.
	Err error
}

// ResolverLookup finds change resolvers by name.
type ResolverLookup interface {
	Lookup(name string) (resolvers.Resolver, error)
}

// Uploader runs reconciliation cycles. It is safe to run from many
// goroutines and processes; the lock admits one cycle at a time.
type Uploader struct {
	exec        dbx.Executor
	repos       repomanager.RepositoryManager
	locker      lock.Locker
	resolvers   ResolverLookup
	credentials storage.CredentialResolver

	clock       clockwork.Clock
	logger      logging.Logger
	lockName    string
	concurrency int
	retention   time.Duration

	mu        sync.Mutex
	observers []func(Completion)

	state   atomic.Int32
	running sync.WaitGroup
}

type Option func(*Uploader)

func WithClock(c clockwork.Clock) Option {
	return func(u *Uploader) { u.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(u *Uploader) { u.logger = l }
}

func WithLockName(name string) Option {
	return func(u *Uploader) { u.lockName = name }
}

// WithConcurrency sets how many atomic units are reconciled in parallel.
func WithConcurrency(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.concurrency = n
		}
	}
}

// WithRetention sets how long completed work items are kept.
func WithRetention(d time.Duration) Option {
	return func(u *Uploader) { u.retention = d }
}

// WithObserver registers fn to receive every Completion.
func WithObserver(fn func(Completion)) Option {
	return func(u *Uploader) { u.observers = append(u.observers, fn) }
}

func New(exec dbx.Executor, repos repomanager.RepositoryManager, locker lock.Locker,
	lookup ResolverLookup, credentials storage.CredentialResolver, opts ...Option) *Uploader {
	u := &Uploader{
		exec:        exec,
		repos:       repos,
		locker:      locker,
		resolvers:   lookup,
		credentials: credentials,
		clock:       clockwork.NewRealClock(),
		logger:      logging.Nop(),
		lockName:    DefaultLockName,
		concurrency: 1,
		retention:   DefaultRetention,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With("module", "uploader")
	return u
}

// Observe registers fn to receive every Completion.
func (u *Uploader) Observe(fn func(Completion)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.observers = append(u.observers, fn)
}

// State returns the phase of the cycle currently running in this process.
func (u *Uploader) State() State {
	return State(u.state.Load())
}

// Run executes one cycle and returns its first error. Finding the lock held
// by someone else is not an error.
func (u *Uploader) Run(ctx context.Context) error {
	c := u.cycle(ctx)
	u.notify(c)
	return c.Err
}

// Trigger starts a cycle in the background. Completion is reported to the
// observers only.
func (u *Uploader) Trigger(ctx context.Context) {
	u.running.Add(1)
	go func() {
		defer u.running.Done()
		_ = u.Run(ctx)
	}()
}

// Wait blocks until all triggered cycles have finished.
func (u *Uploader) Wait() {
	u.running.Wait()
}

func (u *Uploader) notify(c Completion) {
	u.mu.Lock()
	observers := append([]func(Completion){}, u.observers...)
	u.mu.Unlock()

	for _, fn := range observers {
		fn(c)
	}
}

func (u *Uploader) transition(ctx context.Context, s State) {
	u.state.Store(int32(s))
	u.logger.Debug(ctx, "uploader state", "state", s.String())
}

func (u *Uploader) cycle(ctx context.Context) (c Completion) {
	acquired, err := u.locker.Acquire(ctx, u.lockName)
	if err != nil {
		c.Err = fmt.Errorf("acquire lock: %w", err)
		return c
	}
	if !acquired {
		u.logger.Debug(ctx, "lock held elsewhere", "lock", u.lockName)
		c.Skipped = true
		return c
	}
	u.transition(ctx, StateLocked)

	defer func() {
		u.purgeCompleted(ctx)
		u.transition(ctx, StateUnlocked)
		if err := u.locker.Release(context.WithoutCancel(ctx), u.lockName); err != nil {
			u.logger.Error(ctx, "failed to release lock", "lock", u.lockName, "error", err)
			if c.Err == nil {
				c.Err = fmt.Errorf("release lock: %w", err)
			}
		}
		u.transition(ctx, StateIdle)
	}()

	u.transition(ctx, StatePruning)
	deferredRepo := u.repos.Deferred(u.exec.Conn())

	deletions, err := deferredRepo.SelectByStatus(ctx, models.StatusPendingDeletion)
	if err != nil {
		c.Err = fmt.Errorf("fetch pending deletions: %w", err)
		return c
	}
	if err := u.prune(ctx, deletions); err != nil {
		c.Err = fmt.Errorf("prune: %w", err)
		return c
	}

	u.transition(ctx, StateFetchingWork)
	changes, err := deferredRepo.SelectByStatus(ctx, models.StatusPendingChange)
	if err != nil {
		c.Err = fmt.Errorf("fetch pending changes: %w", err)
		return c
	}
	if len(deletions) == 0 && len(changes) == 0 {
		return c
	}
	c.Deletions, c.Changes = len(deletions), len(changes)

	u.transition(ctx, StateProcessing)
	deleteErr := u.processDeletions(ctx, deletions)
	if deleteErr != nil {
		u.logger.Error(ctx, "deletion pipeline failed", "error", deleteErr)
	}
	changeErr := u.processChanges(ctx, changes)
	if changeErr != nil {
		u.logger.Error(ctx, "reconciliation failed", "error", changeErr)
	}
	c.Err = firstNonNil(deleteErr, changeErr)

	u.logger.Info(ctx, "uploader cycle finished",
		"deletions", c.Deletions, "changes", c.Changes, "failed", c.Err != nil)
	return c
}

func (u *Uploader) purgeCompleted(ctx context.Context) {
	if u.retention <= 0 {
		return
	}
	n, err := u.repos.Deferred(u.exec.Conn()).PurgeCompleted(ctx, u.clock.Now().Add(-u.retention))
	if err != nil {
		u.logger.Warn(ctx, "failed to purge completed work", "error", err)
		return
	}
	if n > 0 {
		u.logger.Info(ctx, "purged completed work", "count", n)
	}
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
