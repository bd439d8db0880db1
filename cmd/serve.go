package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/attendance"
	"github.com/campusware/rollcall/internal/config"
	"github.com/campusware/rollcall/internal/database"
	"github.com/campusware/rollcall/internal/database/postgres"
	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/live"
	"github.com/campusware/rollcall/internal/liveness"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/store"
	"github.com/campusware/rollcall/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the rollcall HTTP API.
The server exposes attendance scans, enrollment, liveness challenges, live
class sessions and the audit endpoints. Audit persistence requires
DATABASE_URL; without it the server still scans and enrolls.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides ROLLCALL_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides ROLLCALL_HOST)")
}

// attachAudit connects the PostgreSQL audit backend and wires it into the
// recognition components and the handler dependencies.
func attachAudit(ctx context.Context, cfg *config.Config, log *zap.Logger, deps *web.Deps) error {
	fmt.Printf("Connecting to PostgreSQL audit database...\n")
	if err := postgres.Initialize(&cfg.Database, log); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	identities, err := database.GetIdentityStore(ctx)
	if err != nil {
		return err
	}
	events, err := database.GetEventStore(ctx)
	if err != nil {
		return err
	}
	disputes, err := database.GetDisputeStore(ctx)
	if err != nil {
		return err
	}
	mirror, err := database.GetMirrorStore(ctx)
	if err != nil {
		return err
	}

	deps.Scanner.AttachAudit(identities, events)
	deps.Registrar.AttachAudit(identities, mirror)
	deps.Live.AttachAudit(identities, events)
	deps.Identities = identities
	deps.Events = events
	deps.Disputes = disputes
	deps.Mirror = mirror
	fmt.Printf("Attendance audit enabled (PostgreSQL)\n")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	log, err := serviceLogger(cmd)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Selecting face engine...\n")
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
	fmt.Printf("Face engine ready: %s (%d-dim embeddings)\n", engine.Mode(), engine.Dim())

	st := store.New(cfg.Store.Root, cfg.Store.MaxSamples, log)
	cache := gallery.NewCache(log)

	livenessCfg := liveness.Config{
		MinScore:       cfg.Liveness.MinScore,
		ChallengeShift: cfg.Liveness.ChallengeShift,
	}
	scanner := attendance.NewScanner(engine, st, cache, attendance.ScanConfig{
		Threshold:       cfg.Matching.Threshold,
		MinDetScore:     cfg.Matching.MinDetScore,
		BlurThreshold:   cfg.Matching.ScanBlur,
		RequireLiveness: cfg.Matching.RequireLiveness,
		Liveness:        livenessCfg,
		Cooldown:        time.Duration(cfg.Matching.CooldownMinutes) * time.Minute,
		TopK:            cfg.Matching.TopK,
	}, log)
	registrar := attendance.NewRegistrar(engine, st, attendance.RegisterConfig{
		MinDetScore:     cfg.Matching.MinDetScore,
		BlurThreshold:   cfg.Matching.RegisterBlur,
		RequireLiveness: cfg.Matching.RequireLiveness,
		Liveness:        livenessCfg,
	}, log)
	manager := live.NewManager(engine, st, cache, live.Config{
		Threshold:      cfg.Matching.Threshold,
		MinDetScore:    cfg.Matching.MinDetScore,
		VotesToConfirm: cfg.Live.VotesToConfirm,
		RecognizeEvery: cfg.Live.RecognizeEvery,
		MarkCooldown:   cfg.Live.MarkCooldown,
		IdleTTL:        cfg.Live.IdleTTL,
	}, log)

	deps := web.Deps{
		Engine:    engine,
		Store:     st,
		Cache:     cache,
		Scanner:   scanner,
		Registrar: registrar,
		Live:      manager,
		Liveness:  livenessCfg,
		Log:       log,
	}

	if cfg.Database.URL != "" {
		if err := attachAudit(ctx, cfg, log, &deps); err != nil {
			return err
		}
		defer postgres.GetGlobalPool().Close()
	} else {
		fmt.Printf("DATABASE_URL not set, audit persistence disabled\n")
	}

	// Expire idle live sessions and refresh the gallery when slot files
	// change on disk.
	go manager.Run(ctx)
	go func() {
		if err := cache.Watch(ctx, cfg.Store.Root); err != nil && ctx.Err() == nil {
			log.Warn("gallery watch stopped", zap.Error(err))
		}
	}()

	server := web.NewServer(deps, cfg.Web.Host, cfg.Web.Port, cfg.Web.APIKey)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	if cfg.Web.APIKey == "" {
		fmt.Println("Warning: ROLLCALL_API_KEY not set, the API is open")
	}
	fmt.Printf("Starting rollcall API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
