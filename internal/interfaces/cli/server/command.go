// Package server implements the daybrief server command: the HTTP API that
// resolves entitlement verdicts for the news app clients.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	appentitlement "github.com/daybrief/daybrief/internal/application/entitlement"
	"github.com/daybrief/daybrief/internal/domain/entitlement"
	"github.com/daybrief/daybrief/internal/infrastructure/auth"
	"github.com/daybrief/daybrief/internal/infrastructure/billing"
	verdictcache "github.com/daybrief/daybrief/internal/infrastructure/cache"
	"github.com/daybrief/daybrief/internal/infrastructure/config"
	"github.com/daybrief/daybrief/internal/infrastructure/database"
	"github.com/daybrief/daybrief/internal/infrastructure/migration"
	"github.com/daybrief/daybrief/internal/infrastructure/pubsub"
	"github.com/daybrief/daybrief/internal/infrastructure/repository"
	httpiface "github.com/daybrief/daybrief/internal/interfaces/http"
	"github.com/daybrief/daybrief/internal/interfaces/http/handlers"
	"github.com/daybrief/daybrief/internal/interfaces/http/middleware"
	"github.com/daybrief/daybrief/internal/shared/goroutine"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

var (
	env         string
	autoMigrate bool
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the entitlement HTTP server",
		Long:  `Start the Daybrief entitlement server: resolves, revokes, and reconciles premium entitlement verdicts for app clients.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Run database migrations on startup (not recommended for production)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("starting server", "environment", env)

	gin.SetMode(mapEnvToGinMode(env))
	gin.DefaultWriter = io.Discard

	if err := database.Init(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if autoMigrate {
		if err := runMigrations(cfg); err != nil {
			return fmt.Errorf("auto-migrate failed: %w", err)
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	catalog, err := buildCatalog(cfg)
	if err != nil {
		return fmt.Errorf("failed to build product catalog: %w", err)
	}

	log := logger.NewLogger()
	policy := appentitlement.Policy{
		StalenessWindow: time.Duration(cfg.Entitlement.StalenessWindowHours) * time.Hour,
		RefreshMargin:   time.Duration(cfg.Entitlement.RefreshMarginMinutes) * time.Minute,
	}

	// Redis entry TTL is garbage collection only; staleness is judged by the
	// reconciler from StoredAt.
	cacheTTL := 2 * policy.StalenessWindow
	verdictCache := verdictcache.NewRedisVerdictCache(redisClient, cacheTTL)

	ledgerRepo := repository.NewLedgerRepository(
		database.Get(),
		time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second,
		log.Named("ledger"),
	)
	storeClient := billing.NewStoreBridgeClient(
		cfg.StoreBridge.BaseURL,
		cfg.StoreBridge.APIKey,
		time.Duration(cfg.StoreBridge.TimeoutSeconds)*time.Second,
		log.Named("store-bridge"),
	)

	reconciler := appentitlement.NewReconciler(verdictCache, ledgerRepo, storeClient, catalog, policy, log.Named("reconciler"))

	// Entitlement change events published by webhook processors invalidate the
	// affected subject on every instance.
	subscriberCtx, stopSubscriber := context.WithCancel(context.Background())
	defer stopSubscriber()
	eventBus := pubsub.NewRedisEntitlementEventBus(redisClient, log.Named("pubsub"))
	reconciler.SetChangePublisher(eventBus)
	goroutine.SafeGo(log, "entitlement-event-subscriber", func() {
		err := eventBus.Subscribe(subscriberCtx, func(ctx context.Context, event pubsub.EntitlementChangeEvent) {
			identity, parseErr := entitlement.IdentityFromKey(event.SubjectKey)
			if parseErr != nil {
				log.Warnw("ignoring entitlement event with bad subject key",
					"subject_key", event.SubjectKey,
					"error", parseErr)
				return
			}
			reconciler.Invalidate(ctx, identity)
			reconciler.Resolve(ctx, identity, appentitlement.ResolveOptions{ForceRefresh: true})
		})
		if err != nil && err != context.Canceled {
			log.Errorw("entitlement event subscriber exited", "error", err)
		}
	})

	identityMW := middleware.NewIdentityMiddleware(
		auth.NewJWTService(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Issuer),
		log.Named("identity"),
	)
	rateLimiter := middleware.NewRateLimiter(redisClient, cfg.Server.RateLimitPerMinute, time.Minute)
	entitlementHandler := handlers.NewEntitlementHandler(reconciler, log.Named("http"))
	router := httpiface.NewRouter(cfg.Server, identityMW, rateLimiter, entitlementHandler, log.Named("http"))

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "address", cfg.Server.GetAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}

	logger.Info("server exited gracefully")
	return nil
}

func buildCatalog(cfg *config.Config) (*entitlement.ProductCatalog, error) {
	products := make(map[string]entitlement.Tier, len(cfg.Entitlement.Products))
	for _, p := range cfg.Entitlement.Products {
		products[p.ID] = entitlement.Tier(p.Tier)
	}
	return entitlement.NewProductCatalog(products)
}

func runMigrations(cfg *config.Config) error {
	if cfg.Database.Driver == "sqlite" {
		return database.Get().AutoMigrate(migration.AutoMigrateModels()...)
	}

	runner, err := migration.NewRunner("./migrations/mysql", cfg.Database.Driver)
	if err != nil {
		return err
	}
	return runner.Up(database.Get())
}

func mapEnvToGinMode(environment string) string {
	switch environment {
	case "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
