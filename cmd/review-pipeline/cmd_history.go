package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/casepot/multi-model-review-pipeline/internal/render"
	"github.com/casepot/multi-model-review-pipeline/internal/store"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

var (
	historyJSON  bool
	historyLimit int
)

// historyCmd lists recorded runs
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent recorded runs",
	Long: `Lists runs recorded in the ledger, newest first. Recording is off by
default; enable it with ledger.enabled in the configuration.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Emit rows as JSON")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum rows to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.Ledger.Path
	if path == "" {
		path = workspace.NewLayout(cfg.ReportsDir).LedgerPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if historyJSON {
			fmt.Println("[]")
		} else {
			fmt.Println("No recorded runs.")
		}
		return nil
	}

	ledger, err := store.Open(path, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	runs, err := ledger.Recent(historyLimit)
	if err != nil {
		return err
	}

	if historyJSON {
		if runs == nil {
			runs = []store.Run{}
		}
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	table := render.NewTable("Run", "When", "Verdict", "Providers", "Must-fix", "Findings", "Duration")
	for _, run := range runs {
		table.AddRow(
			shortID(run.ID),
			run.CreatedAt.Local().Format("2006-01-02 15:04"),
			run.Verdict,
			strings.Join(run.Providers, ","),
			strconv.Itoa(run.MustFix),
			strconv.Itoa(run.Findings),
			(time.Duration(run.DurationMs) * time.Millisecond).String(),
		)
	}
	newRenderer().Table(table)
	return nil
}

// shortID keeps listings readable; the JSON output carries the full id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
