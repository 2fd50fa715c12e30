// @title           Milestage Backend API
// @version         1.0.0
// @description     Payments backend for staged freelance projects. Handles Stripe webhooks, stage payments, revision extensions, Connect onboarding and platform subscriptions.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"milestage-backend/internal/app"
	"milestage-backend/internal/config"
	"milestage-backend/internal/database"
	"milestage-backend/internal/handlers"
	"milestage-backend/internal/logger"
	"milestage-backend/internal/middleware"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional; real deployments inject the environment
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	migrator := database.NewMigratorForDB(application.DB.DB(), zapLogger)
	if err := migrator.Run(ctx); err != nil {
		zapLogger.Fatal("Migration failed", zap.Error(err))
	}

	paymentsHandler := handlers.NewPaymentsHandler(application.Payments)
	accountsHandler := handlers.NewAccountsHandler(application.Accounts)
	adminHandler := handlers.NewAdminHandler(application.Archive, application.Dispatcher, zapLogger)
	paymentsWebhook := handlers.NewWebhookHandler(application.Receiver(cfg.StripeWebhookSecret), zapLogger)
	connectWebhook := handlers.NewWebhookHandler(application.Receiver(cfg.StripeConnectWebhookSecret), zapLogger)
	billingWebhook := handlers.NewWebhookHandler(application.Receiver(cfg.StripeSubscriptionWebhookSecret), zapLogger)

	router := gin.New()
	router.Use(middleware.Recovery(zapLogger))
	router.Use(middleware.RequestLogger(zapLogger))

	// Health check and metrics (no auth)
	router.GET("/health", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	// Webhooks (no auth, Stripe signature per endpoint)
	api.POST("/webhooks/stripe", paymentsWebhook.HandleWebhook)
	api.POST("/webhooks/stripe/connect", connectWebhook.HandleWebhook)
	api.POST("/webhooks/stripe/subscriptions", billingWebhook.HandleWebhook)

	// Client portal (share code)
	api.GET("/portal/:share_code", paymentsHandler.GetPortal)
	api.POST("/portal/:share_code/stages/:stage_id/payment-intent", paymentsHandler.CreatePaymentIntent)
	api.POST("/portal/:share_code/stages/:stage_id/extension-checkout", paymentsHandler.CreateExtensionCheckout)

	// Redirect confirmations, re-verified with Stripe
	api.POST("/payments/confirm", paymentsHandler.ConfirmPayment)
	api.POST("/extensions/confirm", paymentsHandler.ConfirmExtension)

	// Freelancer routes
	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(cfg))
	authed.POST("/connect/onboarding", accountsHandler.StartOnboarding)
	authed.POST("/billing/checkout", accountsHandler.StartBillingCheckout)
	authed.POST("/admin/events/:event_id/replay", middleware.RequireRole("service_role"), adminHandler.ReplayEvent)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLogger.Info("Server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}
}
