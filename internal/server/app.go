// Package server initializes and runs the sync server: database and
// migrations, object storage, the uploader lock, change resolvers, the
// periodic uploader and the ops gRPC endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/config"
	"github.com/dmitrijs2005/gophsync/internal/server/lock"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/server/resolvers"
	"github.com/dmitrijs2005/gophsync/internal/server/services"
	"github.com/dmitrijs2005/gophsync/internal/server/storage"
	"github.com/dmitrijs2005/gophsync/internal/server/uploader"
	"github.com/jonboulle/clockwork"

	gs "github.com/dmitrijs2005/gophsync/internal/server/grpc"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	uploader *uploader.Uploader
	periodic *uploader.Periodic
	queue    *services.QueueService
	grpc     *gs.GRPCServer
	closers  []io.Closer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Level: c.LogLevel, Format: c.LogFormat, File: c.LogFile})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app := &App{config: c, logger: logger, db: db, closers: []io.Closer{db}}

	if err := app.init(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config
	clock := clockwork.NewRealClock()

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations error: %w", err)
	}
	exec := dbx.NewSQLExecutor(app.db, nil)

	objects, err := newObjectStore(ctx, c)
	if err != nil {
		return fmt.Errorf("storage init error: %w", err)
	}
	creds := storage.NewSharedBucketResolver(objects)

	locker, err := app.newLocker(c, repos, clock)
	if err != nil {
		return fmt.Errorf("lock init error: %w", err)
	}

	registry := resolvers.NewDefaultRegistry()

	app.grpc = gs.NewGRPCServer(c.EndpointAddrGRPC, app.logger)
	app.uploader = uploader.New(exec, repos, locker, registry, creds,
		uploader.WithClock(clock),
		uploader.WithLogger(app.logger),
		uploader.WithLockName(c.LockName),
		uploader.WithConcurrency(c.UploaderConcurrency),
		uploader.WithRetention(c.CompletedRetention),
		uploader.WithObserver(app.grpc.ObserveUploader),
	)
	app.periodic = uploader.NewPeriodic(app.uploader, c.UploaderInterval, clock, app.logger)
	app.queue = services.NewQueueService(exec, repos, registry, creds,
		services.WithQueueClock(clock),
		services.WithQueueLogger(app.logger),
		services.WithOnQueued(func(ctx context.Context) {
			app.uploader.Trigger(context.WithoutCancel(ctx))
		}),
	)
	return nil
}

func newObjectStore(ctx context.Context, c *config.Config) (storage.ObjectStore, error) {
	switch c.StorageBackend {
	case config.StorageS3:
		return storage.NewS3Store(ctx, storage.S3Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}

func (app *App) newLocker(c *config.Config, repos repomanager.RepositoryManager, clock clockwork.Clock) (lock.Locker, error) {
	switch c.LockBackend {
	case config.LockDB:
		return lock.NewDBLocker(repos.Locks(app.db), clock, c.LockExpiry, app.logger), nil
	case config.LockRedis:
		l, err := lock.NewRedisLocker(c.RedisAddr, c.LockExpiry, app.logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, l)
		return l, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", c.LockBackend)
	}
}

// Queue is the intake API for the request layer.
func (app *App) Queue() *services.QueueService {
	return app.queue
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a termination signal arrives or ctx is done.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.periodic.Start(ctx)
	}()

	wg.Wait()
	app.uploader.Wait()

	if err := app.Close(); err != nil {
		app.logger.Error(ctx, "shutdown error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}

// Close releases the database and lock backend connections.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i].Close())
	}
	app.closers = nil
	return errors.Join(errs...)
}
