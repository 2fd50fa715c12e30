package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"milestage-backend/internal/app"
)

var replayCmd = &cobra.Command{
	Use:   "replay [event-id]",
	Short: "Re-dispatch an archived Stripe event",
	Long: `Load an archived webhook payload from the event bucket and run it
through the dispatcher again. Ledger writes are idempotent, so replaying an
already processed event changes nothing.

Examples:
  milestagectl replay evt_1PqXyZ2eZvKYlo2C`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, zapLogger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}
	defer application.Close()

	payload, err := application.Archive.Fetch(args[0])
	if err != nil {
		return fmt.Errorf("failed to load archived event: %w", err)
	}

	event, status, err := application.Dispatcher.Replay(ctx, payload)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	fmt.Printf("%s (%s): %s\n", event.ID, event.Type, status)
	return nil
}
