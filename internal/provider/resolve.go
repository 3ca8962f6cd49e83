package provider

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/casepot/multi-model-review-pipeline/internal/config"
)

// Source identifies how a binary path was chosen.
type Source string

const (
	SourceConfig   Source = "config"   // explicit path from configuration
	SourcePath     Source = "path"     // found on PATH
	SourceManifest Source = "manifest" // well-known install location
	SourceFallback Source = "fallback" // bare name, left for exec to find
)

// manifest lists well-known install locations per tool, tried in order
// after PATH lookup fails. Entries are relative to the home directory unless
// absolute.
var manifest = map[string][]string{
	config.ToolClaude: {
		".claude/local/claude",
		".local/bin/claude",
		".npm-global/bin/claude",
		"/usr/local/bin/claude",
		"/opt/homebrew/bin/claude",
	},
	config.ToolCodex: {
		".local/bin/codex",
		".npm-global/bin/codex",
		".cargo/bin/codex",
		"/usr/local/bin/codex",
		"/opt/homebrew/bin/codex",
	},
	config.ToolGemini: {
		".local/bin/gemini",
		".npm-global/bin/gemini",
		"/usr/local/bin/gemini",
		"/opt/homebrew/bin/gemini",
	},
}

// Resolve locates the binary for a tool and reports how it was found.
// Resolution order: explicit config path, PATH lookup, manifest locations,
// bare name. The candidate is always handled as a single opaque path; no
// shell interpretation happens at any step.
func Resolve(tool, explicit string) (string, Source) {
	if explicit != "" {
		return explicit, SourceConfig
	}

	if path, err := exec.LookPath(tool); err == nil {
		return path, SourcePath
	}

	home, _ := os.UserHomeDir()
	for _, loc := range manifest[tool] {
		candidate := loc
		if !filepath.IsAbs(candidate) {
			if home == "" {
				continue
			}
			candidate = filepath.Join(home, candidate)
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, SourceManifest
		}
	}

	return tool, SourceFallback
}

// ResolveBinary returns only the resolved path.
func ResolveBinary(tool, explicit string) string {
	path, _ := Resolve(tool, explicit)
	return path
}
