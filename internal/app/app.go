// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Corphon/BugReportConstructor/internal/api"
	"github.com/Corphon/BugReportConstructor/internal/auth"
	"github.com/Corphon/BugReportConstructor/internal/config"
	"github.com/Corphon/BugReportConstructor/internal/di"
	"github.com/Corphon/BugReportConstructor/internal/events"
	"github.com/Corphon/BugReportConstructor/internal/models"
	"github.com/Corphon/BugReportConstructor/internal/services"
	"github.com/Corphon/BugReportConstructor/internal/storage"
	"github.com/Corphon/BugReportConstructor/internal/utils"
)

// Service names in the container.
const (
	ServiceStorage       = "storage"
	ServiceLocks         = "locks"
	ServiceHub           = "hub"
	ServiceSavedBlocks   = "saved_blocks"
	ServiceOutputFormats = "output_formats"
	ServiceRender        = "render"
	ServiceMetrics       = "metrics"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 30 * time.Second

// App is a fully wired server.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Container *di.Container
	Router    *gin.Engine

	bag         storage.PropertyBag
	hub         *api.DocumentHub
	locks       *services.LockManager
	rateLimiter *api.RateLimiter
	nats        *events.NATSPublisher
}

// New builds the storage backend, services and router described by cfg.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Container: di.NewContainer()}

	if err := a.initServices(); err != nil {
		a.Close()
		return nil, err
	}
	router, err := a.setupRouter()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Router = router
	return a, nil
}

func (a *App) initServices() error {
	cfg := a.Config
	metrics := utils.NewMetrics()
	a.Container.Register(ServiceMetrics, metrics)

	bag, err := storage.Open(cfg.StoreBackend, cfg.DataDir, cfg.SQLitePath,
		storage.WithLogger(a.Logger.Named("storage")),
		storage.WithCache(cfg.CacheTTL, 0))
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.StoreBackend, err)
	}
	a.bag = bag
	a.Container.Register(ServiceStorage, bag)

	a.hub = api.NewDocumentHub(a.Logger.Named("ws"), metrics)
	a.Container.Register(ServiceHub, a.hub)

	publishers := events.Multi{a.hub}
	if cfg.NATSURL != "" {
		nats, err := events.ConnectNATS(cfg.NATSURL, a.Logger.Named("nats"))
		if err != nil {
			return err
		}
		a.nats = nats
		publishers = append(publishers, nats)
	}

	a.locks = services.NewLockManager()
	a.Container.Register(ServiceLocks, a.locks)

	opts := []services.DocumentOption{
		services.WithLockManager(a.locks),
		services.WithPublisher(publishers),
		services.WithLogger(a.Logger.Named("documents")),
		services.WithMetrics(metrics),
	}
	savedBlocks := services.NewDocumentService(bag, models.SavedBlocksDocument, opts...)
	outputFormats := services.NewDocumentService(bag, models.OutputFormatsDocument, opts...)
	a.Container.Register(ServiceSavedBlocks, savedBlocks)
	a.Container.Register(ServiceOutputFormats, outputFormats)
	a.Container.Register(ServiceRender, services.NewRenderService(outputFormats))

	a.Logger.Info("services initialized",
		zap.String("store_backend", cfg.StoreBackend),
		zap.Bool("nats", a.nats != nil),
		zap.Strings("services", a.Container.GetNames()))
	return nil
}

func (a *App) setupRouter() (*gin.Engine, error) {
	savedBlocks, err := di.Resolve[*services.DocumentService[models.SavedBlocks]](a.Container, ServiceSavedBlocks)
	if err != nil {
		return nil, err
	}
	outputFormats, err := di.Resolve[*services.DocumentService[models.OutputFormatsPayload]](a.Container, ServiceOutputFormats)
	if err != nil {
		return nil, err
	}
	renderer, err := di.Resolve[*services.RenderService](a.Container, ServiceRender)
	if err != nil {
		return nil, err
	}
	metrics, err := di.Resolve[*utils.Metrics](a.Container, ServiceMetrics)
	if err != nil {
		return nil, err
	}

	tokenConfig := auth.NewTokenConfig(a.Config.AuthSecret, auth.DefaultExpiration)
	if tokenConfig == nil {
		a.Logger.Warn("auth_secret not set, requests are scoped by X-User-ID only")
	}

	a.rateLimiter = api.NewRateLimiter()
	handler := api.NewHandler(savedBlocks, outputFormats, renderer, a.hub, a.Logger.Named("api"))
	return api.SetupRouter(api.RouterConfig{
		Handler:            handler,
		Logger:             a.Logger.Named("http"),
		Metrics:            metrics,
		TokenConfig:        tokenConfig,
		RateLimiter:        a.rateLimiter,
		RateLimitPerMinute: a.Config.RateLimitPerMinute,
		DebugMode:          a.Config.DebugMode,
	}), nil
}

// Run serves HTTP on addr until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	a.locks.StartCleanup(gctx, 5*time.Minute)
	a.rateLimiter.StartCleanup(gctx, time.Hour)
	if fs, ok := a.bag.(*storage.FileStorage); ok {
		fs.StartCacheCleanup(gctx)
		if err := fs.Watch(gctx); err != nil {
			a.Logger.Warn("storage watcher disabled", zap.Error(err))
		}
	}

	g.Go(func() error {
		a.Logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases storage and broker connections.
func (a *App) Close() error {
	var errs []error
	if a.nats != nil {
		errs = append(errs, a.nats.Close())
	}
	if a.bag != nil {
		errs = append(errs, a.bag.Close())
	}
	return errors.Join(errs...)
}
