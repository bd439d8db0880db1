package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusware/rollcall/internal/config"
	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/database/mariadb"
	"github.com/campusware/rollcall/internal/database/postgres"
	"github.com/campusware/rollcall/internal/roster"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Student information system commands",
	Long:  `Commands for the campus SIS bridge (read-only MariaDB access).`,
}

var rosterSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import enrolled students into the identity table",
	Long: `Import the student roster from the campus SIS into the audit database.
Student names become identity slugs (diacritics folded, lowercased); existing
identities are updated in place and students who left are skipped, never
deleted. Face enrollment stays a separate step.

Requires SIS_DATABASE_URL (MariaDB DSN) and DATABASE_URL to be set.

Examples:
  rollcall roster sync
  rollcall roster sync --json`,
	RunE: runRosterSync,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterSyncCmd)

	rosterSyncCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRosterSync(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Roster.DSN == "" {
		return errors.New("SIS_DATABASE_URL environment variable is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	log := cliLogger(cmd)

	if err := postgres.Initialize(&cfg.Database, log); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer postgres.GetGlobalPool().Close()

	if !jsonOutput {
		fmt.Println("Connecting to campus SIS...")
	}
	if err := mariadb.Initialize(cfg.Roster.DSN); err != nil {
		return fmt.Errorf("failed to initialize SIS connection: %w", err)
	}
	defer mariadb.GetGlobalPool().Close()

	identities, err := database.GetIdentityStore(ctx)
	if err != nil {
		return err
	}
	reader, err := database.GetRosterReader(ctx)
	if err != nil {
		return err
	}

	result, err := roster.Sync(ctx, identities, reader, log)
	if err != nil {
		return fmt.Errorf("syncing roster: %w", err)
	}

	if jsonOutput {
		return outputJSON(result)
	}
	fmt.Printf("Synced %d students (%d skipped)\n", result.Synced, result.Skipped)
	return nil
}
