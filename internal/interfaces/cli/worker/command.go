// Package worker implements the daybrief worker command: a standalone
// subscriber that keeps verdicts in sync with server-side ledger changes
// without serving HTTP traffic.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	appentitlement "github.com/daybrief/daybrief/internal/application/entitlement"
	"github.com/daybrief/daybrief/internal/domain/entitlement"
	"github.com/daybrief/daybrief/internal/infrastructure/billing"
	verdictcache "github.com/daybrief/daybrief/internal/infrastructure/cache"
	"github.com/daybrief/daybrief/internal/infrastructure/config"
	"github.com/daybrief/daybrief/internal/infrastructure/database"
	"github.com/daybrief/daybrief/internal/infrastructure/pubsub"
	"github.com/daybrief/daybrief/internal/infrastructure/repository"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

var env string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start the entitlement change worker",
		Long:  `Subscribe to entitlement change events and reconcile affected subjects so cached verdicts converge with the ledger.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")

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

	logger.Info("starting worker", "environment", env)

	if err := database.Init(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

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

	products := make(map[string]entitlement.Tier, len(cfg.Entitlement.Products))
	for _, p := range cfg.Entitlement.Products {
		products[p.ID] = entitlement.Tier(p.Tier)
	}
	catalog, err := entitlement.NewProductCatalog(products)
	if err != nil {
		return fmt.Errorf("failed to build product catalog: %w", err)
	}

	log := logger.NewLogger()
	policy := appentitlement.Policy{
		StalenessWindow: time.Duration(cfg.Entitlement.StalenessWindowHours) * time.Hour,
		RefreshMargin:   time.Duration(cfg.Entitlement.RefreshMarginMinutes) * time.Minute,
	}

	verdictCache := verdictcache.NewRedisVerdictCache(redisClient, 2*policy.StalenessWindow)
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

	subscriberCtx, stop := context.WithCancel(context.Background())

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker")
		stop()
	}()

	eventBus := pubsub.NewRedisEntitlementEventBus(redisClient, log.Named("pubsub"))
	err = eventBus.Subscribe(subscriberCtx, func(ctx context.Context, event pubsub.EntitlementChangeEvent) {
		identity, parseErr := entitlement.IdentityFromKey(event.SubjectKey)
		if parseErr != nil {
			log.Warnw("ignoring entitlement event with bad subject key",
				"subject_key", event.SubjectKey,
				"error", parseErr)
			return
		}

		log.Infow("reconciling after entitlement change",
			"subject_key", event.SubjectKey,
			"change_type", event.ChangeType)
		reconciler.Invalidate(ctx, identity)
		reconciler.Resolve(ctx, identity, appentitlement.ResolveOptions{ForceRefresh: true})
	})
	if err != nil && err != context.Canceled {
		return fmt.Errorf("subscriber exited: %w", err)
	}

	logger.Info("worker exited gracefully")
	return nil
}
