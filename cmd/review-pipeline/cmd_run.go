package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/casepot/multi-model-review-pipeline/internal/config"
	"github.com/casepot/multi-model-review-pipeline/internal/gate"
	"github.com/casepot/multi-model-review-pipeline/internal/pipeline"
	"github.com/casepot/multi-model-review-pipeline/internal/provider"
)

var (
	promptFile string
	onlyTools  []string
	dryRun     bool
)

// runCmd executes the full pipeline
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every enabled review tool and evaluate the gate",
	Long: `Executes each enabled provider concurrently, normalizes its output into
the shared report schema, writes one report per slot, and evaluates the
review gate over the result.

The review prompt comes from --prompt-file, then the configured
prompt_file, then stdin. The exit code mirrors the gate: 0 for pass,
1 for fail.`,
	RunE: runReview,
}

func init() {
	runCmd.Flags().StringVar(&promptFile, "prompt-file", "", "Review prompt file (default: config prompt_file, then stdin)")
	runCmd.Flags().StringSliceVar(&onlyTools, "only", nil, "Restrict the run to the named tools (repeatable)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print command descriptors without spawning anything")
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	prompt, err := readPrompt(cfg)
	if err != nil {
		return err
	}

	if dryRun {
		return printDescriptors(cfg, prompt)
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

	res, err := pipeline.Run(ctx, pipeline.Options{
		Config: cfg,
		Prompt: prompt,
		Only:   onlyTools,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	r := newRenderer()
	if err := r.Summary(gate.RenderSummary(res.Summary)); err != nil {
		return err
	}
	r.Banner(res.Summary.Verdict)

	if !res.Summary.Passed() {
		return gate.ErrGateFailed
	}
	return nil
}

// readPrompt resolves the review prompt: explicit flag, configured file,
// stdin last. "-" always means stdin.
func readPrompt(cfg *config.Config) (string, error) {
	path := promptFile
	if path == "" {
		path = cfg.PromptFile
	}
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file: %w", err)
	}
	return string(data), nil
}

// printDescriptors shows what the run would exec, spawning nothing.
func printDescriptors(cfg *config.Config, prompt string) error {
	tools, err := pipeline.SelectTools(cfg, onlyTools)
	if err != nil {
		return err
	}
	for _, tool := range tools {
		d, err := provider.Build(tool, cfg, prompt)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		fmt.Printf("%s:\n", d.Tool)
		fmt.Printf("  binary:  %s\n", d.Binary)
		fmt.Printf("  argv:    %q\n", d.Args)
		fmt.Printf("  timeout: %s\n", d.Timeout)
		fmt.Printf("  report:  %s\n", d.ReportPath)
		if d.SideFile != "" {
			fmt.Printf("  side:    %s\n", d.SideFile)
		}
		if d.Stdin != "" {
			fmt.Printf("  stdin:   %d bytes\n", len(d.Stdin))
		}
	}
	return nil
}
