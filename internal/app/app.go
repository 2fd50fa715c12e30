// Package app wires the payment stack from configuration. It is shared by the
// HTTP server and the admin CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"milestage-backend/internal/config"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/notify"
	"milestage-backend/internal/payments"
	"milestage-backend/internal/services"
	"milestage-backend/internal/supabase"
	"milestage-backend/internal/webhook"
)

const archiveDrainTimeout = 5 * time.Second

type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB         *supabase.DatabaseClient
	Payments   *services.PaymentService
	Accounts   *services.AccountService
	Archive    *services.StorageService
	Dispatcher *webhook.Dispatcher
	Deduper    webhook.Deduper
	Trigger    *notify.Trigger

	redis     *redis.Client
	publisher *notify.QueuePublisher
}

// New connects to every backing service and starts the notification workers.
// Optional services (Redis, archive bucket, notification endpoint) degrade
// to disabled with a warning.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	db, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database client: %w", err)
	}
	a.DB = db

	supabaseClient, err := supabase.NewClient(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize Supabase client: %w", err)
	}
	portal := supabase.NewPortalClient(supabaseClient.Supabase)

	var eventStorage services.EventStorage
	if cfg.SupabaseArchiveBucket != "" {
		storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseArchiveBucket)
		if err != nil {
			logger.Warn("Event archive disabled", zap.Error(err))
		} else {
			eventStorage = storageClient
		}
	}
	a.Archive = services.NewStorageService(eventStorage, logger)

	sender, err := a.notificationSender()
	if err != nil {
		a.Close()
		return nil, err
	}
	var notifier notify.Notifier = notify.Discard{}
	if sender != nil {
		a.Trigger = notify.NewTrigger(sender, logger, notify.WithWorkers(cfg.NotifyWorkers))
		a.Trigger.Start(ctx)
		notifier = a.Trigger
	} else {
		logger.Warn("Notifications disabled: neither AMQP_URL nor NOTIFY_URL is set")
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, deduper will fail open", zap.Error(err))
		}
		a.Deduper = webhook.NewRedisDeduper(a.redis, cfg.DedupTTL, logger)
	}

	stripeClient := payments.NewStripeClient(cfg.StripeSecretKey)
	updater := ledger.NewUpdater(db, logger)

	a.Payments = services.NewPaymentService(updater, portal, stripeClient, notifier, logger, cfg.PlatformFeePercent, cfg.BaseURL)
	a.Accounts = services.NewAccountService(db, stripeClient, logger, cfg.StripeSubscriptionPriceID)
	a.Dispatcher = webhook.NewDispatcher(a.Payments, logger)

	return a, nil
}

func (a *App) notificationSender() (notify.Sender, error) {
	switch {
	case a.Config.AMQPURL != "":
		publisher, err := notify.NewQueuePublisher(a.Config.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize notification publisher: %w", err)
		}
		a.publisher = publisher
		return publisher, nil
	case a.Config.NotifyURL != "":
		return notify.NewHTTPSender(a.Config.NotifyURL, a.Config.NotifyAPIKey), nil
	default:
		return nil, nil
	}
}

// Receiver builds the webhook pipeline for one endpoint secret.
func (a *App) Receiver(secret string) *webhook.Receiver {
	return webhook.NewReceiver(
		webhook.NewAuthenticator(secret, a.Config.StripeWebhookTolerance),
		a.Dispatcher,
		a.Deduper,
		a.Archive,
		a.Logger.Named("webhook"),
	)
}

// Close drains pending notifications and archive uploads, then releases
// connections.
func (a *App) Close() {
	if a.Trigger != nil {
		a.Trigger.Stop()
	}
	if a.Archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveDrainTimeout)
		if err := a.Archive.Wait(ctx); err != nil {
			a.Logger.Warn("Event archive uploads still pending at shutdown", zap.Error(err))
		}
		cancel()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
