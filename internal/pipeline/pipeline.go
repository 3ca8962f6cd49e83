// Package pipeline orchestrates a full review run: one child process per
// enabled provider, normalization of whatever came back, slot report
// writes, gate evaluation, and the run ledger. Slots settle independently;
// a broken tool degrades its own slot and nothing else.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/casepot/multi-model-review-pipeline/internal/config"
	"github.com/casepot/multi-model-review-pipeline/internal/gate"
	"github.com/casepot/multi-model-review-pipeline/internal/normalize"
	"github.com/casepot/multi-model-review-pipeline/internal/provider"
	"github.com/casepot/multi-model-review-pipeline/internal/report"
	"github.com/casepot/multi-model-review-pipeline/internal/runner"
	"github.com/casepot/multi-model-review-pipeline/internal/store"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

// Options configures one pipeline run.
type Options struct {
	Config *config.Config

	// Prompt is the review prompt delivered to every provider.
	Prompt string

	// Only restricts the run to the named tools. Empty means every enabled
	// provider. Naming an unknown or disabled tool is an error.
	Only []string

	// Runner tunes process execution; the zero value uses defaults.
	Runner runner.Config

	Logger *zap.Logger

	// Now fixes the timestamp used for placeholder reports and the ledger
	// row. Zero means wall clock.
	Now time.Time
}

// Outcome describes how one provider slot settled. Err being set never
// means the run failed; the gate decides what a degraded slot costs.
type Outcome struct {
	Tool     string
	Err      error
	TimedOut bool

	// ExitCode is the tool's exit code, -1 when no process completed.
	ExitCode int

	// Report is the normalized report written for this slot, nil when the
	// slot was rejected before any write.
	Report *report.Report
}

// RunResult carries everything a caller needs after a full run.
type RunResult struct {
	RunID    string
	Summary  *gate.Summary
	Outcomes []Outcome
	Duration time.Duration
}

// Run executes the full pipeline. The returned error is fatal (setup,
// cancellation, artifact writes); per-tool failures land in Outcomes and
// the gate verdict instead.
func Run(ctx context.Context, opts Options) (*RunResult, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	tools, err := SelectTools(cfg, opts.Only)
	if err != nil {
		return nil, err
	}

	layout := workspace.NewLayout(cfg.ReportsDir)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	started := time.Now()
	run := runner.NewWithConfig(layout, opts.Runner)

	log.Info("starting review run",
		zap.String("run_id", runID),
		zap.Strings("tools", tools))

	// Settle-all fan-out: every slot records an outcome, none aborts the
	// group. The group context only dies with the parent.
	outcomes := make([]Outcome, len(tools))
	g, gctx := errgroup.WithContext(ctx)
	for i, tool := range tools {
		g.Go(func() error {
			outcomes[i] = runSlot(gctx, cfg, layout, run, tool, opts.Prompt, now, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	specs := make([]gate.SlotSpec, len(tools))
	for i, tool := range tools {
		pc, _ := cfg.Provider(tool)
		specs[i] = gate.SlotSpec{Tool: tool, Model: pc.Model}
	}
	summary := gate.Aggregate(layout, specs, now)

	if err := gate.WriteArtifacts(layout, summary); err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:    runID,
		Summary:  summary,
		Outcomes: outcomes,
		Duration: time.Since(started),
	}

	recordRun(cfg, layout, result, now, log)

	log.Info("review run complete",
		zap.String("run_id", runID),
		zap.String("verdict", summary.Verdict),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// ExecuteSlot runs a single provider and writes its slot report, without
// touching the gate. Used for slot-level reruns.
func ExecuteSlot(ctx context.Context, opts Options, tool string) (*Outcome, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	if !config.KnownTool(tool) {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownTool, tool)
	}
	if pc, ok := cfg.Provider(tool); !ok || !pc.IsEnabled() {
		return nil, fmt.Errorf("provider %q is disabled in config", tool)
	}

	layout := workspace.NewLayout(cfg.ReportsDir)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	run := runner.NewWithConfig(layout, opts.Runner)
	outcome := runSlot(ctx, cfg, layout, run, tool, opts.Prompt, now, log)
	return &outcome, nil
}

// PRFromConfig converts the configured pull request context into the
// report-level record every normalized report carries.
func PRFromConfig(cfg *config.Config) report.PRInfo {
	return report.PRInfo{
		Repository: cfg.PR.Repository,
		Number:     cfg.PR.Number,
		HeadSHA:    cfg.PR.HeadSHA,
		Branch:     cfg.PR.Branch,
		URL:        cfg.PR.URL,
	}
}

// SelectTools resolves the slot list: every enabled provider, optionally
// restricted by an explicit selection.
func SelectTools(cfg *config.Config, only []string) ([]string, error) {
	enabled := cfg.EnabledTools()
	if len(only) == 0 {
		if len(enabled) == 0 {
			return nil, fmt.Errorf("no providers enabled in config")
		}
		return enabled, nil
	}

	requested := make(map[string]bool, len(only))
	for _, tool := range only {
		if !config.KnownTool(tool) {
			return nil, fmt.Errorf("%w: %q", provider.ErrUnknownTool, tool)
		}
		requested[tool] = true
	}

	enabledSet := make(map[string]bool, len(enabled))
	for _, tool := range enabled {
		enabledSet[tool] = true
	}
	for tool := range requested {
		if !enabledSet[tool] {
			return nil, fmt.Errorf("provider %q is disabled in config", tool)
		}
	}

	// Selection never reorders slots.
	var tools []string
	for _, tool := range enabled {
		if requested[tool] {
			tools = append(tools, tool)
		}
	}
	return tools, nil
}

// runSlot takes one provider from descriptor to written slot report. Every
// failure mode short of a security violation still produces a report; a
// security violation produces no filesystem write at all.
func runSlot(ctx context.Context, cfg *config.Config, layout *workspace.Layout, run *runner.Runner, tool, prompt string, now time.Time, log *zap.Logger) Outcome {
	out := Outcome{Tool: tool, ExitCode: -1}
	slog := log.With(zap.String("tool", tool))

	d, err := provider.Build(tool, cfg, prompt)
	if err != nil {
		out.Err = err
		slog.Error("descriptor rejected", zap.Error(err))
		return out
	}
	if d == nil {
		out.Err = fmt.Errorf("provider %q is disabled in config", tool)
		return out
	}

	pc, _ := cfg.Provider(tool)
	meta := normalize.Meta{
		Tool:  tool,
		Model: pc.Model,
		PR:    PRFromConfig(cfg),
		Now:   now,
	}

	res, runErr := run.Run(ctx, d)
	switch {
	case runErr == nil:
		out.ExitCode = res.ExitCode
		payload := res.Payload()

		var rep *report.Report
		if res.ExitCode != 0 && strings.TrimSpace(payload) == "" {
			msg := fmt.Sprintf("Tool exited with code %d without producing output.", res.ExitCode)
			if res.Signal != "" {
				msg = fmt.Sprintf("Tool was terminated by signal %s without producing output.", res.Signal)
			}
			rep = placeholderReport(meta, report.TagExecutionFailed, msg)
		} else {
			rep = normalize.Normalize(payload, meta)
		}
		out.Report = rep
		if err := writeSlotReport(layout, d.ReportPath, rep); err != nil {
			out.Err = err
			slog.Error("failed to write slot report", zap.Error(err))
		}

	case runner.IsTimeout(runErr):
		out.Err = runErr
		out.TimedOut = true
		rep := placeholderReport(meta, report.TagTimeout,
			fmt.Sprintf("Tool exceeded its %s budget and was terminated.", d.Timeout))
		out.Report = rep
		if err := writeSlotReport(layout, d.ReportPath, rep); err != nil {
			slog.Error("failed to write slot report", zap.Error(err))
		}

	case errors.Is(runErr, context.Canceled):
		out.Err = runErr

	default:
		out.Err = runErr
		var pathErr *workspace.PathError
		if errors.As(runErr, &pathErr) {
			// Security violation: the slot fails with no report and no raw
			// capture, and the gate records it as missing.
			slog.Error("slot rejected before spawn", zap.Error(runErr))
			return out
		}

		slog.Error("tool failed to start", zap.Error(runErr))
		rep := placeholderReport(meta, report.TagExecutionFailed,
			"Tool could not be started: "+runErr.Error())
		out.Report = rep
		if err := writeSlotReport(layout, d.ReportPath, rep); err != nil {
			slog.Error("failed to write slot report", zap.Error(err))
		}
	}

	return out
}

func placeholderReport(meta normalize.Meta, tag, summary string) *report.Report {
	rep := report.NewPlaceholder(meta.Tool, meta.Model, tag, meta.Now)
	rep.PR = meta.PR
	rep.Summary = summary
	return rep
}

func writeSlotReport(layout *workspace.Layout, path string, rep *report.Report) error {
	data, err := report.Encode(rep)
	if err != nil {
		return err
	}
	if err := layout.WriteFile(path, data); err != nil {
		return fmt.Errorf("failed to write slot report: %w", err)
	}
	return nil
}

// recordRun appends the ledger row. Ledger failures are logged and
// swallowed; history is not worth failing a finished run over.
func recordRun(cfg *config.Config, layout *workspace.Layout, result *RunResult, now time.Time, log *zap.Logger) {
	if !cfg.Ledger.Enabled {
		return
	}

	path := cfg.Ledger.Path
	if path == "" {
		path = layout.LedgerPath()
	}

	ledger, err := store.Open(path, log)
	if err != nil {
		log.Warn("run ledger unavailable", zap.Error(err))
		return
	}
	defer ledger.Close()

	findings := 0
	providers := make([]string, 0, len(result.Summary.Slots))
	for _, slot := range result.Summary.Slots {
		providers = append(providers, slot.Tool)
		if slot.Report != nil {
			findings += len(slot.Report.Findings)
		}
	}

	row := store.Run{
		ID:         result.RunID,
		CreatedAt:  now,
		Verdict:    result.Summary.Verdict,
		Providers:  providers,
		MustFix:    len(result.Summary.MustFix),
		Findings:   findings,
		DurationMs: result.Duration.Milliseconds(),
	}
	if err := ledger.Record(row); err != nil {
		log.Warn("failed to record run", zap.Error(err))
	}
}
