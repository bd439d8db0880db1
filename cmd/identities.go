package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/attendance"
	"github.com/campusware/rollcall/internal/config"
	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/database/postgres"
	"github.com/campusware/rollcall/internal/store"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Enrollment store management commands",
	Long:  `Commands for inspecting and pruning the enrolled face gallery.`,
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities and their captured views",
	RunE:  runIdentitiesList,
}

var identitiesDeleteCmd = &cobra.Command{
	Use:   "delete <identity>",
	Short: "Remove an identity's embeddings, crops and audit rows",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesDelete,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd)
	identitiesCmd.AddCommand(identitiesDeleteCmd)

	identitiesListCmd.Flags().Bool("json", false, "Output as JSON")
	identitiesDeleteCmd.Flags().Bool("json", false, "Output as JSON")
}

// identityRow is one line of the identities listing.
type identityRow struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	Views       []string `json:"views"`
	Missing     []string `json:"missing,omitempty"`
	Complete    bool     `json:"complete"`
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cliLogger(cmd)
	st := store.New(cfg.Store.Root, cfg.Store.MaxSamples, log)

	ids, err := st.Identities()
	if err != nil {
		return fmt.Errorf("listing identities: %w", err)
	}

	records := make(map[string]database.Identity)
	if cfg.Database.URL != "" {
		if err := postgres.Initialize(&cfg.Database, log); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		defer postgres.GetGlobalPool().Close()

		identities, err := database.GetIdentityStore(context.Background())
		if err != nil {
			return err
		}
		list, err := identities.List(context.Background())
		if err != nil {
			return fmt.Errorf("listing identity records: %w", err)
		}
		for _, identity := range list {
			records[identity.ID] = identity
		}
	}

	rows := make([]identityRow, 0, len(ids))
	for _, id := range ids {
		views, err := st.Views(id)
		if err != nil {
			log.Warn("skipping unreadable identity", zap.String("identity", id), zap.Error(err))
			continue
		}
		row := identityRow{
			ID:       id,
			Views:    views,
			Missing:  missingViews(views),
			Complete: len(views) == len(attendance.Views),
		}
		if record, ok := records[id]; ok {
			row.DisplayName = record.DisplayName
		}
		rows = append(rows, row)
	}

	if jsonOutput {
		return outputJSON(map[string]any{
			"identities": rows,
			"count":      len(rows),
		})
	}

	if len(rows) == 0 {
		fmt.Println("No identities enrolled.")
		return nil
	}
	for _, row := range rows {
		status := "complete"
		if !row.Complete {
			status = "missing: " + strings.Join(row.Missing, ",")
		}
		name := row.ID
		if row.DisplayName != "" {
			name = fmt.Sprintf("%s (%s)", row.ID, row.DisplayName)
		}
		fmt.Printf("  %-40s %-18s %s\n", name, strings.Join(row.Views, ","), status)
	}
	fmt.Printf("\n%d identities\n", len(rows))
	return nil
}

func runIdentitiesDelete(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	identity := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cliLogger(cmd)
	st := store.New(cfg.Store.Root, cfg.Store.MaxSamples, log)

	result, err := st.Delete(identity)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", identity, err)
	}
	if result.EmbeddingFiles == 0 && result.ImageFiles == 0 {
		return fmt.Errorf("identity %s is not enrolled", identity)
	}

	if cfg.Database.URL != "" {
		ctx := context.Background()
		if err := postgres.Initialize(&cfg.Database, log); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		defer postgres.GetGlobalPool().Close()

		identities, err := database.GetIdentityStore(ctx)
		if err != nil {
			return err
		}
		mirror, err := database.GetMirrorStore(ctx)
		if err != nil {
			return err
		}
		if err := identities.Delete(ctx, identity); err != nil {
			fmt.Printf("Warning: identity record not removed: %v\n", err)
		}
		if err := mirror.DeleteMirror(ctx, identity); err != nil {
			fmt.Printf("Warning: mirror rows not removed: %v\n", err)
		}
	}

	if jsonOutput {
		return outputJSON(result)
	}
	fmt.Printf("Deleted %s (%d embedding files, %d crops)\n",
		identity, result.EmbeddingFiles, result.ImageFiles)
	return nil
}

// missingViews returns the canonical views absent from the captured set.
func missingViews(captured []string) []string {
	have := make(map[string]bool, len(captured))
	for _, v := range captured {
		have[v] = true
	}
	var missing []string
	for _, v := range attendance.Views {
		if !have[v] {
			missing = append(missing, v)
		}
	}
	return missing
}
