// Package main implements the review-pipeline CLI: multi-tool AI code
// review with normalized reports and a deterministic merge gate.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/casepot/multi-model-review-pipeline/internal/config"
	"github.com/casepot/multi-model-review-pipeline/internal/gate"
	"github.com/casepot/multi-model-review-pipeline/internal/render"
)

// version is stamped at release build time via -ldflags.
var version = "dev"

var (
	// Global flags
	verbose    bool
	plain      bool
	configPath string
	reportsDir string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "review-pipeline",
	Short: "Multi-tool AI review pipeline with a deterministic merge gate",
	Long: `review-pipeline runs several AI review tools against a pull request,
normalizes whatever each produced into one report schema, and gates the
change on the merged result.

The provider set is fixed: claude, codex, gemini. Each runs as a direct
child process (never through a shell), its raw output is persisted before
any parsing, and a tool that crashes, times out, or prints garbage degrades
only its own slot. The gate fails closed: a missing or unusable report is a
failed slot, never a skipped one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zcfg.OutputPaths = []string{"stderr"}
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// versionCmd prints the version string
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("review-pipeline %s\n", version)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Disable styled terminal output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Pipeline configuration file")
	rootCmd.PersistentFlags().StringVar(&reportsDir, "reports-dir", "", "Override the configured reports directory")

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(testSummaryCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, gate.ErrGateFailed) {
			// The verdict is already on screen; the exit code carries it.
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultConfigPath is the --config default. REVIEW_PIPELINE_CONFIG
// replaces it when set; an explicit flag wins over both.
func defaultConfigPath() string {
	if p := os.Getenv("REVIEW_PIPELINE_CONFIG"); p != "" {
		return p
	}
	return "review-pipeline.yaml"
}

// loadConfig resolves the effective configuration for this invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if reportsDir != "" {
		cfg.ReportsDir = reportsDir
	}
	return cfg, nil
}

func newRenderer() *render.Renderer {
	return render.New(os.Stdout, plain)
}
