package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/casepot/multi-model-review-pipeline/internal/testsummary"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

var (
	junitPath    string
	coveragePath string
	summaryOut   string
)

// testSummaryCmd generates the test context artifact
var testSummaryCmd = &cobra.Command{
	Use:   "test-summary",
	Short: "Generate the test summary artifact from JUnit and coverage files",
	Long: `Parses a JUnit XML file and an optional coverage JSON file into the
compact summary document reviewers receive as context: totals, category
buckets, the first few failures, pass rate, and coverage percentage.`,
	RunE: runTestSummary,
}

func init() {
	testSummaryCmd.Flags().StringVar(&junitPath, "junit", "", "JUnit XML input (default: config tests.junit_path)")
	testSummaryCmd.Flags().StringVar(&coveragePath, "coverage", "", "Coverage JSON input (default: config tests.coverage_path)")
	testSummaryCmd.Flags().StringVar(&summaryOut, "out", "test-summary.json", "Output path; relative paths land inside the reports directory")
}

func runTestSummary(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	junit := junitPath
	if junit == "" {
		junit = cfg.Tests.JUnitPath
	}
	if junit == "" {
		return fmt.Errorf("no JUnit input: pass --junit or set tests.junit_path")
	}
	coverage := coveragePath
	if coverage == "" {
		coverage = cfg.Tests.CoveragePath
	}

	sum, err := testsummary.Generate(junit, coverage)
	if err != nil {
		return err
	}
	data, err := sum.Encode()
	if err != nil {
		return err
	}

	out := summaryOut
	if filepath.IsAbs(out) {
		if err := os.WriteFile(out, data, 0644); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	} else {
		layout := workspace.NewLayout(cfg.ReportsDir)
		if err := layout.Ensure(); err != nil {
			return err
		}
		if err := layout.WriteFile(out, data); err != nil {
			return err
		}
		out = filepath.Join(cfg.ReportsDir, out)
	}

	fmt.Printf("test summary written to %s\n", out)
	return nil
}
