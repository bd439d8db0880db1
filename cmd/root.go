package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Face recognition attendance for campus spaces",
	Long: `Rollcall matches camera captures against an enrolled face gallery and
marks attendance. It runs on premise: embeddings live on the local
filesystem, recognition uses a local inference sidecar when one is
reachable and an on-CPU detector otherwise, and an optional PostgreSQL
database keeps the audit trail.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// serviceLogger builds the logger handed to long-running components.
// The --debug flag switches to the human-readable development config.
func serviceLogger(cmd *cobra.Command) (*zap.Logger, error) {
	if mustGetBool(cmd, "debug") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// cliLogger keeps one-shot commands quiet unless --debug is set, so log
// lines do not interleave with command output.
func cliLogger(cmd *cobra.Command) *zap.Logger {
	if mustGetBool(cmd, "debug") {
		if log, err := zap.NewDevelopment(); err == nil {
			return log
		}
	}
	return zap.NewNop()
}
