package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/casepot/multi-model-review-pipeline/internal/gate"
	"github.com/casepot/multi-model-review-pipeline/internal/pipeline"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

// gateCmd aggregates existing slot reports
var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Aggregate existing slot reports and evaluate the gate",
	Long: `Evaluates the review gate over the slot reports already on disk,
without running any tool. A configured slot with no report file counts as
failed, never skipped. The exit code mirrors the verdict.`,
	RunE: runGate,
}

func runGate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tools, err := pipeline.SelectTools(cfg, nil)
	if err != nil {
		return err
	}

	layout := workspace.NewLayout(cfg.ReportsDir)
	if err := layout.Ensure(); err != nil {
		return err
	}

	specs := make([]gate.SlotSpec, len(tools))
	for i, tool := range tools {
		pc, _ := cfg.Provider(tool)
		specs[i] = gate.SlotSpec{Tool: tool, Model: pc.Model}
	}

	summary := gate.Aggregate(layout, specs, time.Now())
	if err := gate.WriteArtifacts(layout, summary); err != nil {
		return err
	}

	r := newRenderer()
	if err := r.Summary(gate.RenderSummary(summary)); err != nil {
		return err
	}
	r.Banner(summary.Verdict)

	if !summary.Passed() {
		return gate.ErrGateFailed
	}
	return nil
}
