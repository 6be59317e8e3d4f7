// Package server initializes and runs the drive server: database and
// migrations, blob gateway, admission control, metrics endpoint and the
// background reaper, with graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/cipherdrive/internal/logging"
	"github.com/dmitrijs2005/cipherdrive/internal/metrics"
	"github.com/dmitrijs2005/cipherdrive/internal/server/admission"
	"github.com/dmitrijs2005/cipherdrive/internal/server/config"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/cipherdrive/internal/server/services"
	"github.com/dmitrijs2005/cipherdrive/internal/server/storage"
)

// App wires the drive services together and owns their lifecycle.
type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	registry *prometheus.Registry

	FolderService   *services.FolderService
	UploadService   *services.UploadService
	DownloadService *services.DownloadService
	ShareService    *services.ShareService
	TrashService    *services.TrashService

	reaper *services.Reaper
}

// NewApp builds the application: opens the database, applies migrations,
// prepares the bucket and constructs all services.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blob, err := storage.NewClient(ctx, storage.Config{
		Region:       cfg.S3Region,
		RootUser:     cfg.S3RootUser,
		RootPassword: cfg.S3RootPassword,
		BaseEndpoint: cfg.S3BaseEndpoint,
		Bucket:       cfg.S3Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	if err := blob.InitBucket(ctx); err != nil {
		return nil, fmt.Errorf("bucket init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	mt := metrics.New(registry)
	adm := admission.New(cfg.UploadSlots)

	return &App{
		config:          cfg,
		logger:          logger,
		db:              db,
		registry:        registry,
		FolderService:   services.NewFolderService(db, rm, cfg),
		UploadService:   services.NewUploadService(db, rm, cfg, blob, adm, mt, logger),
		DownloadService: services.NewDownloadService(db, rm, cfg, blob, mt, logger),
		ShareService:    services.NewShareService(db, rm),
		TrashService:    services.NewTrashService(db, rm, blob, logger),
		reaper:          services.NewReaper(db, rm, cfg, blob, logger),
	}, nil
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

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run starts the metrics endpoint and the reaper and blocks until an OS
// signal arrives or a component fails.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.reaper.Run(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
