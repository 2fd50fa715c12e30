package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"milestage-backend/internal/database"
)

var (
	migrateDryRun bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply the embedded SQL migrations to DATABASE_URL.

Examples:
  milestagectl migrate
  milestagectl migrate --dry-run`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "list pending migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, zapLogger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	migrator, err := database.NewMigrator(cfg.DatabaseURL, zapLogger)
	if err != nil {
		return err
	}
	defer migrator.Close()

	ctx := cmd.Context()
	pending, err := migrator.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("Database is up to date")
		return nil
	}

	fmt.Printf("Found %d pending migration(s)\n", len(pending))
	for _, name := range pending {
		fmt.Printf("  %s\n", name)
	}

	if migrateDryRun {
		fmt.Println("Dry run - no changes made")
		return nil
	}

	if err := migrator.Run(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Println("Migrations completed successfully")
	return nil
}
