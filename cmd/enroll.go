package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campusware/rollcall/internal/attendance"
	"github.com/campusware/rollcall/internal/config"
	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/database/postgres"
	"github.com/campusware/rollcall/internal/liveness"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/store"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image>",
	Short: "Enroll a reference capture for an identity",
	Long: `Enroll a face capture as reference material for one identity and pose view.
The capture passes the registration quality gate (single face, detector
confidence, blur) before its embedding is stored. Repeat per view; an
identity is complete once front, left and right are all captured.

Examples:
  # First capture for a new student
  rollcall enroll --identity anna-novak --name "Anna Novak" front.jpg

  # Side views
  rollcall enroll --identity anna-novak --view left left.jpg
  rollcall enroll --identity anna-novak --view right right.jpg

  # Replace a blurry capture
  rollcall enroll --identity anna-novak --view front --overwrite retake.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("identity", "", "Identity slug (lowercase letters, digits, dashes)")
	enrollCmd.Flags().String("view", "front", "Pose view: front, left or right")
	enrollCmd.Flags().String("name", "", "Display name for the audit database")
	enrollCmd.Flags().Bool("overwrite", false, "Replace an already registered view")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	identity := mustGetString(cmd, "identity")
	view := mustGetString(cmd, "view")
	name := mustGetString(cmd, "name")
	overwrite := mustGetBool(cmd, "overwrite")
	jsonOutput := mustGetBool(cmd, "json")

	if identity == "" {
		return errors.New("--identity is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := context.Background()
	log := cliLogger(cmd)

	engine, err := pipeline.New(ctx, pipeline.Options{
		EngineURL:      cfg.Engine.URL,
		EngineTimeout:  cfg.Engine.Timeout,
		CascadePath:    cfg.Engine.CascadePath,
		CascadeMinSize: cfg.Engine.CascadeMinSize,
	}, log)
	if err != nil {
		return fmt.Errorf("selecting face engine: %w", err)
	}
	defer engine.Close()

	st := store.New(cfg.Store.Root, cfg.Store.MaxSamples, log)
	registrar := attendance.NewRegistrar(engine, st, attendance.RegisterConfig{
		MinDetScore:     cfg.Matching.MinDetScore,
		BlurThreshold:   cfg.Matching.RegisterBlur,
		RequireLiveness: cfg.Matching.RequireLiveness,
		Liveness: liveness.Config{
			MinScore:       cfg.Liveness.MinScore,
			ChallengeShift: cfg.Liveness.ChallengeShift,
		},
	}, log)

	if cfg.Database.URL != "" {
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
		registrar.AttachAudit(identities, mirror)
	}

	result, err := registrar.Register(ctx, attendance.RegisterRequest{
		Identity:    identity,
		DisplayName: name,
		View:        view,
		Image:       image,
		Overwrite:   overwrite,
	})
	if err != nil {
		return fmt.Errorf("enrolling %s: %w", identity, err)
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("Enrolled %s (%s view, %d samples)\n", result.Identity, result.View, result.Samples)
	fmt.Printf("  Blur score: %.1f\n", result.BlurScore)
	if len(result.MissingViews) > 0 {
		fmt.Printf("  Missing views: %s\n", strings.Join(result.MissingViews, ", "))
	} else {
		fmt.Println("  All views captured, enrollment complete")
	}
	return nil
}
