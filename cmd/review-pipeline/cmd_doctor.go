package main

import (
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/casepot/multi-model-review-pipeline/internal/config"
	"github.com/casepot/multi-model-review-pipeline/internal/provider"
	"github.com/casepot/multi-model-review-pipeline/internal/render"
)

// doctorCmd diagnoses binary resolution
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Show how each review tool binary resolves and whether it exists",
	Long: `Prints, for every whitelisted tool, the resolution source (config,
path, manifest, or fallback), the resolved binary, and whether that binary
exists. Useful before a long run on a fresh machine.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	table := render.NewTable("Tool", "Enabled", "Source", "Binary", "Found")
	for _, tool := range config.Tools() {
		pc, _ := cfg.Provider(tool)
		path, source := provider.Resolve(tool, pc.Binary)

		enabled := "no"
		if pc.IsEnabled() {
			enabled = "yes"
		}
		found := "no"
		if binaryExists(path) {
			found = "yes"
		}
		table.AddRow(tool, enabled, string(source), path, found)
	}
	newRenderer().Table(table)
	return nil
}

// binaryExists checks a resolved path on disk, or PATH for a bare name.
func binaryExists(path string) bool {
	if strings.ContainsRune(path, os.PathSeparator) {
		info, err := os.Stat(path)
		return err == nil && !info.IsDir()
	}
	_, err := exec.LookPath(path)
	return err == nil
}
