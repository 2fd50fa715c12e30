package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"milestage-backend/internal/notify"
)

var notifyWorkerCmd = &cobra.Command{
	Use:   "notify-worker",
	Short: "Deliver queued notifications to the e-mail endpoint",
	Long: `Consume notification jobs from AMQP_URL and deliver them to NOTIFY_URL.

Runs until interrupted. Jobs that fail with a retryable error are requeued.`,
	Args: cobra.NoArgs,
	RunE: runNotifyWorker,
}

func runNotifyWorker(cmd *cobra.Command, args []string) error {
	cfg, zapLogger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the notification worker")
	}
	if cfg.NotifyURL == "" {
		return errors.New("NOTIFY_URL is required for the notification worker")
	}

	consumer, err := notify.NewQueueConsumer(cfg.AMQPURL, zapLogger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger.Info("Notification worker started")
	if err := consumer.Run(ctx, notify.NewHTTPSender(cfg.NotifyURL, cfg.NotifyAPIKey)); err != nil {
		return err
	}
	zapLogger.Info("Notification worker stopped")
	return nil
}
