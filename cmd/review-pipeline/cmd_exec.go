package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/casepot/multi-model-review-pipeline/internal/pipeline"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

// execCmd reruns a single provider slot
var execCmd = &cobra.Command{
	Use:   "exec <tool>",
	Short: "Run one review tool and rewrite its slot report",
	Long: `Runs a single provider and rewrites its slot report without touching
the aggregate artifacts. Use it to retry a degraded slot, then re-run
"gate" to pick up the new report.`,
	Args: cobra.ExactArgs(1),
	RunE: execSlot,
}

func init() {
	execCmd.Flags().StringVar(&promptFile, "prompt-file", "", "Review prompt file (default: config prompt_file, then stdin)")
}

func execSlot(cmd *cobra.Command, args []string) error {
	tool := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	prompt, err := readPrompt(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	out, err := pipeline.ExecuteSlot(ctx, pipeline.Options{
		Config: cfg,
		Prompt: prompt,
		Logger: logger,
	}, tool)
	if err != nil {
		return err
	}

	layout := workspace.NewLayout(cfg.ReportsDir)
	if out.Report != nil {
		fmt.Printf("report written to %s\n", layout.ReportPath(tool))
		if out.Report.Error != "" {
			fmt.Printf("slot degraded: %s\n", out.Report.Error)
		}
	}
	if out.Err != nil {
		return fmt.Errorf("%s: %w", tool, out.Err)
	}
	return nil
}
