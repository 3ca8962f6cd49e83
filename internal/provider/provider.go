// Package provider turns a whitelisted tool identifier plus the resolved
// configuration into an executable command descriptor. Building a descriptor
// never launches a process; it is a pure description of what the runner will
// exec.
package provider

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/casepot/multi-model-review-pipeline/internal/config"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

// ErrUnknownTool is returned for identifiers outside the fixed whitelist.
// Unknown identifiers are fatal for the invocation, never silently skipped.
var ErrUnknownTool = errors.New("unknown review tool")

// Descriptor fully describes one tool invocation. Argv is passed to exec as
// a vector; nothing in the descriptor is ever interpreted by a shell.
type Descriptor struct {
	Tool       string
	Binary     string
	Args       []string
	Env        map[string]string
	Stdin      string
	Timeout    time.Duration
	RawPath    string
	ReportPath string

	// SideFile is set only for the argument-based provider, which writes its
	// definitive answer to this file instead of stdout.
	SideFile string
}

// EnvList renders the environment map as sorted KEY=VALUE pairs. Sorting
// keeps descriptors deterministic for identical inputs.
func (d *Descriptor) EnvList() []string {
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+d.Env[k])
	}
	return out
}

// Build constructs the descriptor for one tool. It returns (nil, nil) when
// the tool is known but disabled, and ErrUnknownTool for identifiers outside
// the whitelist.
func Build(tool string, cfg *config.Config, prompt string) (*Descriptor, error) {
	if !config.KnownTool(tool) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	pc, ok := cfg.Provider(tool)
	if !ok {
		// Whitelisted tools always have a resolved entry after config load;
		// a missing one means the caller bypassed config.Load.
		return nil, fmt.Errorf("%w: %q has no resolved configuration", ErrUnknownTool, tool)
	}
	if !pc.IsEnabled() {
		return nil, nil
	}

	layout := workspace.NewLayout(cfg.ReportsDir)
	d := &Descriptor{
		Tool:       tool,
		Binary:     ResolveBinary(tool, pc.Binary),
		Env:        BuildEnv(os.Environ()),
		Timeout:    pc.Timeout(),
		RawPath:    layout.RawPath(tool),
		ReportPath: layout.ReportPath(tool),
	}

	switch tool {
	case config.ToolClaude:
		d.Args = []string{"-p", "--output-format", "json", "--model", pc.Model}
		d.Args = append(d.Args, pc.ExtraArgs...)
		d.Stdin = prompt

	case config.ToolCodex:
		// Argument-based provider: the prompt rides in argv and the answer
		// is read from the side file after exit. Stdin stays empty and is
		// closed immediately.
		d.SideFile = layout.SidePath(tool)
		d.Args = []string{
			"exec",
			"--model", pc.Model,
			"--sandbox", "read-only",
			"--color", "never",
			"--output-last-message", d.SideFile,
		}
		d.Args = append(d.Args, pc.ExtraArgs...)
		d.Args = append(d.Args, prompt)

	case config.ToolGemini:
		d.Args = []string{"-p", "--output-format", "json", "--model", pc.Model}
		d.Args = append(d.Args, pc.ExtraArgs...)
		d.Stdin = prompt

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}

	return d, nil
}
