package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/casepot/multi-model-review-pipeline/internal/config"
	"github.com/casepot/multi-model-review-pipeline/internal/normalize"
	"github.com/casepot/multi-model-review-pipeline/internal/pipeline"
	"github.com/casepot/multi-model-review-pipeline/internal/provider"
	"github.com/casepot/multi-model-review-pipeline/internal/report"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

// normalizeCmd re-runs extraction on captured tool output
var normalizeCmd = &cobra.Command{
	Use:   "normalize <tool> [raw-file]",
	Short: "Re-run report extraction on raw tool output",
	Long: `Runs the extraction ladder over raw tool output and rewrites the slot
report. Reads the file argument when given, stdin otherwise.

The raw capture a run persisted for a tool lives at
<reports-dir>/raw/<tool>.txt, so a typical rerun is:

  review-pipeline normalize claude reports/raw/claude.txt`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runNormalize,
}

func runNormalize(cmd *cobra.Command, args []string) error {
	tool := args[0]
	if !config.KnownTool(tool) {
		return fmt.Errorf("%w: %q", provider.ErrUnknownTool, tool)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var raw []byte
	if len(args) == 2 {
		raw, err = os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read raw capture: %w", err)
		}
	} else {
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	pc, _ := cfg.Provider(tool)
	rep := normalize.Normalize(string(raw), normalize.Meta{
		Tool:  tool,
		Model: pc.Model,
		PR:    pipeline.PRFromConfig(cfg),
		Now:   time.Now(),
	})

	data, err := report.Encode(rep)
	if err != nil {
		return err
	}

	layout := workspace.NewLayout(cfg.ReportsDir)
	if err := layout.Ensure(); err != nil {
		return err
	}
	if err := layout.WriteFile(layout.ReportPath(tool), data); err != nil {
		return err
	}

	if rep.Error != "" {
		fmt.Printf("report written to %s (tagged %s)\n", layout.ReportPath(tool), rep.Error)
	} else {
		fmt.Printf("report written to %s\n", layout.ReportPath(tool))
	}
	return nil
}
