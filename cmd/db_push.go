package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/campusware/rollcall/internal/config"
	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/database/postgres"
	"github.com/campusware/rollcall/internal/store"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Audit database commands",
	Long:  `Commands for the PostgreSQL audit database.`,
}

var dbPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Mirror local embeddings into PostgreSQL",
	Long: `Mirror every stored embedding slot into the pgvector table, replacing
whatever the database held for each (identity, view) pair. The filesystem
store stays the source of truth; the mirror exists for SQL-side similarity
queries and reporting.

Requires DATABASE_URL to be set.

Examples:
  # Preview what would be pushed
  rollcall db push --dry-run

  # Mirror everything
  rollcall db push`,
	RunE: runDBPush,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbPushCmd)

	dbPushCmd.Flags().Bool("dry-run", false, "Preview changes without writing to PostgreSQL")
	dbPushCmd.Flags().Bool("json", false, "Output as JSON")
}

// PushResult represents the result of a db push operation.
type PushResult struct {
	Success       bool  `json:"success"`
	Slots         int   `json:"slots"`
	SlotsMirrored int   `json:"slots_mirrored"`
	SlotErrors    int   `json:"slot_errors"`
	Samples       int   `json:"samples"`
	DryRun        bool  `json:"dry_run"`
	DurationMs    int64 `json:"duration_ms"`
}

func runDBPush(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	log := cliLogger(cmd)
	startTime := time.Now()

	if err := postgres.Initialize(&cfg.Database, log); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer postgres.GetGlobalPool().Close()

	mirror, err := database.GetMirrorStore(ctx)
	if err != nil {
		return err
	}

	st := store.New(cfg.Store.Root, cfg.Store.MaxSamples, log)
	slots, err := st.LoadAll()
	if err != nil {
		return fmt.Errorf("loading embedding slots: %w", err)
	}

	if len(slots) == 0 {
		result := PushResult{
			Success:    true,
			DryRun:     dryRun,
			DurationMs: time.Since(startTime).Milliseconds(),
		}
		if jsonOutput {
			return outputJSON(result)
		}
		fmt.Println("No embedding slots to mirror.")
		return nil
	}

	if !jsonOutput {
		fmt.Printf("Found %d embedding slots\n", len(slots))
		if dryRun {
			fmt.Println("DRY RUN - no changes will be written")
		}
		fmt.Println()
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(slots),
			progressbar.OptionSetDescription("Mirroring embeddings"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("slots"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	mirrored := 0
	slotErrors := 0
	samples := 0
	var failures []string

	for _, slot := range slots {
		if bar != nil {
			_ = bar.Add(1)
		}
		if dryRun {
			mirrored++
			samples += len(slot.Samples)
			continue
		}
		if err := mirror.UpsertMirror(ctx, slot.Identity, slot.View, slot.Samples); err != nil {
			slotErrors++
			failures = append(failures, fmt.Sprintf("%s/%s: %v", slot.Identity, slot.View, err))
			continue
		}
		mirrored++
		samples += len(slot.Samples)
	}

	result := PushResult{
		Success:       slotErrors == 0,
		Slots:         len(slots),
		SlotsMirrored: mirrored,
		SlotErrors:    slotErrors,
		Samples:       samples,
		DryRun:        dryRun,
		DurationMs:    time.Since(startTime).Milliseconds(),
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println()
	for _, failure := range failures {
		fmt.Printf("  ERROR %s\n", failure)
	}
	if dryRun {
		fmt.Printf("\nWould mirror %d slots (%d samples)\n", mirrored, samples)
		return nil
	}
	fmt.Printf("\nMirrored %d/%d slots (%d samples) in %s\n",
		mirrored, len(slots), samples, formatDuration(time.Since(startTime)))
	if slotErrors > 0 {
		return fmt.Errorf("%d slots failed to mirror", slotErrors)
	}
	return nil
}

// formatDuration formats a duration as a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
