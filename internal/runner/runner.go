// Package runner executes tool descriptors as direct child processes. It
// owns the invocation-level guarantees: no shell, credential stripping at
// spawn time, bounded capture, graceful termination on timeout, and the raw
// output hitting disk before anything tries to parse it.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/casepot/multi-model-review-pipeline/internal/provider"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

// RawPlaceholder is persisted when a tool produced no output at all. The
// raw capture file always exists after a Run attempt, whatever happened.
const RawPlaceholder = "(no output captured)"

// TimeoutError reports that a tool exceeded its wall-clock budget. The
// process received a termination signal and, after the grace window, a kill.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s CLI timed out after %v", e.Tool, e.Timeout)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Result captures one completed tool invocation. A non-zero exit code is not
// an error here; policy belongs to the caller.
type Result struct {
	Tool       string
	ExitCode   int
	Signal     string
	Stdout     string
	Stderr     string
	SideText   string
	Duration   time.Duration
	StartedAt  time.Time
	FinishedAt time.Time
	Truncated  bool
	RawPath    string
}

// Payload returns the text the normalizer should work on: the side file
// answer when the provider wrote one, else stdout, else stderr.
func (r *Result) Payload() string {
	if r.SideText != "" {
		return r.SideText
	}
	if r.Stdout != "" {
		return r.Stdout
	}
	return r.Stderr
}

// Config tunes runner behavior.
type Config struct {
	// MaxOutputBytes caps each captured stream.
	MaxOutputBytes int64

	// TermGrace is the window between the termination signal and the kill.
	TermGrace time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns the stock runner settings: 10 MiB capture cap and a
// five second grace window.
func DefaultConfig() Config {
	return Config{
		MaxOutputBytes: 10 * 1024 * 1024,
		TermGrace:      5 * time.Second,
		Logger:         zap.NewNop(),
	}
}

// Runner executes descriptors against a single reports layout.
type Runner struct {
	layout *workspace.Layout
	cfg    Config
}

// New creates a runner with default settings.
func New(layout *workspace.Layout) *Runner {
	return NewWithConfig(layout, DefaultConfig())
}

// NewWithConfig creates a runner with custom settings.
func NewWithConfig(layout *workspace.Layout, cfg Config) *Runner {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultConfig().MaxOutputBytes
	}
	if cfg.TermGrace <= 0 {
		cfg.TermGrace = DefaultConfig().TermGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{layout: layout, cfg: cfg}
}

// Run executes one descriptor. The raw capture is persisted before Run
// returns on every path, including timeouts and spawn failures. Timeouts
// reject with a TimeoutError rather than returning a partial result.
func (r *Runner) Run(ctx context.Context, d *provider.Descriptor) (*Result, error) {
	log := r.cfg.Logger.With(zap.String("tool", d.Tool))

	// Containment is checked before anything is spawned. A descriptor that
	// points outside the reports dir is a security violation, not an I/O
	// problem to retry.
	if err := r.validateDestinations(d); err != nil {
		return nil, err
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if d.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, d.Binary, d.Args...)
	cmd.Env = envList(provider.StripCredentials(cloneEnv(d.Env)))

	// Graceful escalation: termination signal on deadline, kill after the
	// grace window if the tool ignores it.
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = r.cfg.TermGrace

	// Stdin is written once and closed. An empty payload leaves stdin
	// connected to the null device, which reads as immediate EOF.
	if d.Stdin != "" {
		cmd.Stdin = strings.NewReader(d.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: r.cfg.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: r.cfg.MaxOutputBytes}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	result := &Result{
		Tool:      d.Tool,
		ExitCode:  -1,
		RawPath:   d.RawPath,
		StartedAt: time.Now(),
	}

	log.Debug("starting tool process",
		zap.String("binary", d.Binary),
		zap.Int("args", len(d.Args)),
		zap.Duration("timeout", d.Timeout))

	runErr := cmd.Run()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Truncated = stdoutLimited.truncated || stderrLimited.truncated

	// Raw capture lands on disk before any parsing or side-file logic, for
	// every outcome. This is the forensic record of what the tool said.
	if err := r.persistRaw(d, result); err != nil {
		return nil, err
	}

	if execCtx.Err() == context.DeadlineExceeded {
		log.Warn("tool timed out",
			zap.Duration("timeout", d.Timeout),
			zap.Duration("grace", r.cfg.TermGrace))
		return nil, &TimeoutError{Tool: d.Tool, Timeout: d.Timeout}
	}
	if execCtx.Err() == context.Canceled {
		log.Debug("tool invocation canceled")
		return nil, fmt.Errorf("%s invocation canceled: %w", d.Tool, execCtx.Err())
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// The tool ran and returned non-zero. Record it; the caller
			// decides what that means.
			result.ExitCode = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				result.Signal = ws.Signal().String()
			}
			log.Debug("tool exited non-zero",
				zap.Int("exit_code", result.ExitCode),
				zap.String("signal", result.Signal))
		} else {
			log.Error("tool failed to run", zap.Error(runErr))
			return nil, fmt.Errorf("failed to run %s: %w", d.Tool, runErr)
		}
	} else {
		result.ExitCode = 0
	}

	r.readSideFile(d, result, log)

	log.Debug("tool completed",
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
		zap.Int("stdout_bytes", len(result.Stdout)),
		zap.Bool("truncated", result.Truncated))

	return result, nil
}

// validateDestinations checks every output path in the descriptor against
// the reports dir before the process starts.
func (r *Runner) validateDestinations(d *provider.Descriptor) error {
	for _, path := range []string{d.RawPath, d.ReportPath, d.SideFile} {
		if path == "" {
			continue
		}
		if _, err := r.layout.Resolve(path); err != nil {
			return fmt.Errorf("descriptor for %s rejected: %w", d.Tool, err)
		}
	}
	return nil
}

// persistRaw writes stdout if non-empty, else stderr, else the placeholder.
func (r *Runner) persistRaw(d *provider.Descriptor, result *Result) error {
	raw := result.Stdout
	if raw == "" {
		raw = result.Stderr
	}
	if raw == "" {
		raw = RawPlaceholder
	}
	if err := r.layout.WriteFile(d.RawPath, []byte(raw)); err != nil {
		return fmt.Errorf("failed to persist raw output for %s: %w", d.Tool, err)
	}
	return nil
}

// readSideFile loads the argument-based provider's answer file. A missing
// or empty side file falls back to captured stdout.
func (r *Runner) readSideFile(d *provider.Descriptor, result *Result, log *zap.Logger) {
	if d.SideFile == "" {
		return
	}
	data, err := r.layout.ReadFile(d.SideFile)
	if err != nil {
		log.Debug("side file not readable, using captured stdout", zap.Error(err))
		return
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		log.Debug("side file empty, using captured stdout")
		return
	}
	result.SideText = text
}

// cloneEnv copies the descriptor environment so stripping never mutates the
// caller's map.
func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// envList renders an environment map as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// limitedWriter caps total bytes written, reporting full writes upstream so
// the child never sees a short-write error.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		toWrite := p[:remaining]
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(toWrite)
		lw.written += int64(written)
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
