package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/campusware/rollcall/internal/config"
	"github.com/campusware/rollcall/internal/gallery"
	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/match"
	"github.com/campusware/rollcall/internal/pipeline"
	"github.com/campusware/rollcall/internal/store"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image>",
	Short: "Match a capture against the enrolled gallery",
	Long: `Match a single capture against every enrolled identity and print the
ranked neighbors. This is a dry lookup: nothing is marked and no audit
event is written.

Examples:
  rollcall identify capture.jpg
  rollcall identify --top 5 capture.jpg
  rollcall identify --threshold 0.55 capture.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().Int("top", 3, "Number of neighbors to rank")
	identifyCmd.Flags().Float64("threshold", 0, "Accept threshold (defaults to the configured value)")
	identifyCmd.Flags().Bool("json", false, "Output as JSON")
}

// IdentifyResult reports a one-shot gallery lookup for a single capture.
type IdentifyResult struct {
	Accepted   bool           `json:"accepted"`
	Threshold  float32        `json:"threshold"`
	EngineMode string         `json:"engine_mode"`
	FaceScore  float32        `json:"face_score"`
	Matches    []match.Result `json:"matches"`
}

func runIdentify(cmd *cobra.Command, args []string) error {
	top := mustGetInt(cmd, "top")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	threshold := cfg.Matching.Threshold
	if t := mustGetFloat64(cmd, "threshold"); t > 0 {
		threshold = float32(t)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding image: %w", err)
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

	faces, err := engine.Detect(ctx, img)
	if err != nil {
		return fmt.Errorf("detecting faces: %w", err)
	}
	face, ok := pipeline.BestFace(faces)
	if !ok {
		return fmt.Errorf("no face detected in %s", args[0])
	}

	st := store.New(cfg.Store.Root, cfg.Store.MaxSamples, log)
	g, err := gallery.NewCache(log).Get(st)
	if err != nil {
		return fmt.Errorf("loading gallery: %w", err)
	}

	matches := match.TopK(g, face.Embedding, top)
	result := IdentifyResult{
		Threshold:  threshold,
		EngineMode: engine.Mode(),
		FaceScore:  face.Score,
		Matches:    matches,
	}
	if len(matches) > 0 {
		result.Accepted = matches[0].Accepted(threshold)
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("Engine: %s (%d-dim embeddings)\n", engine.Mode(), engine.Dim())
	fmt.Printf("Face detected (score %.2f)\n", face.Score)
	if len(matches) == 0 {
		fmt.Println("\nGallery is empty or the probe cannot be ranked.")
		return nil
	}

	fmt.Println()
	for i, m := range matches {
		marker := " "
		if m.Accepted(threshold) {
			marker = "*"
		}
		fmt.Printf("  %d. %-24s %-6s similarity %.3f %s\n", i+1, m.Identity, m.View, m.Similarity, marker)
	}
	if result.Accepted {
		fmt.Printf("\nMatch: %s (threshold %.2f)\n", matches[0].Identity, threshold)
	} else {
		fmt.Printf("\nNo match above threshold %.2f\n", threshold)
	}
	return nil
}
