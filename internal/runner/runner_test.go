package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/casepot/multi-model-review-pipeline/internal/provider"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests use /bin/sh fixtures")
	}
}

func newTestRunner(t *testing.T, cfg Config) (*Runner, *workspace.Layout) {
	t.Helper()
	layout := workspace.NewLayout(t.TempDir())
	if err := layout.Ensure(); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	return NewWithConfig(layout, cfg), layout
}

func shellDescriptor(layout *workspace.Layout, tool, script string) *provider.Descriptor {
	return &provider.Descriptor{
		Tool:       tool,
		Binary:     "/bin/sh",
		Args:       []string{"-c", script},
		Env:        map[string]string{},
		Timeout:    30 * time.Second,
		RawPath:    layout.RawPath(tool),
		ReportPath: layout.ReportPath(tool),
	}
}

func TestRunCapturesStdout(t *testing.T) {
	requireUnix(t)
	r, layout := newTestRunner(t, DefaultConfig())
	d := shellDescriptor(layout, "claude", "echo hello")

	result, err := r.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", result.Stdout)
	}

	raw, err := os.ReadFile(layout.RawPath("claude"))
	if err != nil {
		t.Fatalf("raw capture missing: %v", err)
	}
	if strings.TrimSpace(string(raw)) != "hello" {
		t.Errorf("raw capture = %q, want stdout content", raw)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	requireUnix(t)
	r, layout := newTestRunner(t, DefaultConfig())
	d := shellDescriptor(layout, "gemini", "echo oops >&2; exit 3")

	result, err := r.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for non-zero exit", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if strings.TrimSpace(result.Stderr) != "oops" {
		t.Errorf("Stderr = %q, want oops", result.Stderr)
	}

	// Stdout was empty, so the raw capture falls back to stderr.
	raw, _ := os.ReadFile(layout.RawPath("gemini"))
	if strings.TrimSpace(string(raw)) != "oops" {
		t.Errorf("raw capture = %q, want stderr content", raw)
	}
	if result.Signal != "" {
		t.Errorf("Signal = %q, want empty for a plain exit", result.Signal)
	}
}

func TestRunRecordsTerminationSignal(t *testing.T) {
	requireUnix(t)
	r, layout := newTestRunner(t, DefaultConfig())
	d := shellDescriptor(layout, "claude", "kill -KILL $$")

	result, err := r.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for a signaled child", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for a signaled child", result.ExitCode)
	}
	if result.Signal != "killed" {
		t.Errorf("Signal = %q, want killed", result.Signal)
	}
}

func TestRunPersistsPlaceholderWhenSpawnFails(t *testing.T) {
	r, layout := newTestRunner(t, DefaultConfig())
	d := &provider.Descriptor{
		Tool:       "claude",
		Binary:     filepath.Join(t.TempDir(), "no-such-binary"),
		Args:       []string{"-p"},
		Env:        map[string]string{},
		Timeout:    5 * time.Second,
		RawPath:    layout.RawPath("claude"),
		ReportPath: layout.ReportPath("claude"),
	}

	_, err := r.Run(context.Background(), d)
	if err == nil {
		t.Fatal("Run() succeeded for missing binary, want error")
	}

	raw, readErr := os.ReadFile(layout.RawPath("claude"))
	if readErr != nil {
		t.Fatalf("raw capture missing after spawn failure: %v", readErr)
	}
	if string(raw) != RawPlaceholder {
		t.Errorf("raw capture = %q, want placeholder", raw)
	}
}

func TestRunTimeout(t *testing.T) {
	requireUnix(t)
	cfg := DefaultConfig()
	cfg.TermGrace = 500 * time.Millisecond
	r, layout := newTestRunner(t, cfg)

	d := shellDescriptor(layout, "codex", "sleep 30")
	d.Timeout = 100 * time.Millisecond

	start := time.Now()
	result, err := r.Run(context.Background(), d)
	elapsed := time.Since(start)

	if result != nil {
		t.Errorf("Run() result = %+v, want nil on timeout", result)
	}
	if !IsTimeout(err) {
		t.Fatalf("Run() error = %v, want TimeoutError", err)
	}
	var te *TimeoutError
	if errors.As(err, &te) && te.Tool != "codex" {
		t.Errorf("TimeoutError.Tool = %q, want codex", te.Tool)
	}

	// Escalation must finish within timeout + grace plus scheduling slack.
	if limit := d.Timeout + cfg.TermGrace + 3*time.Second; elapsed > limit {
		t.Errorf("Run() took %s, want under %s", elapsed, limit)
	}

	// Raw capture exists even for timed out invocations.
	if _, statErr := os.Stat(layout.RawPath("codex")); statErr != nil {
		t.Errorf("raw capture missing after timeout: %v", statErr)
	}
}

func TestRunTimeoutKillsTermIgnoringProcess(t *testing.T) {
	requireUnix(t)
	cfg := DefaultConfig()
	cfg.TermGrace = 300 * time.Millisecond
	r, layout := newTestRunner(t, cfg)

	d := shellDescriptor(layout, "codex", `trap "" TERM; sleep 30`)
	d.Timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := r.Run(context.Background(), d)
	elapsed := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("Run() error = %v, want TimeoutError", err)
	}
	if limit := d.Timeout + cfg.TermGrace + 3*time.Second; elapsed > limit {
		t.Errorf("kill escalation took %s, want under %s", elapsed, limit)
	}
}

func TestRunDeliversStdinOnceAndCloses(t *testing.T) {
	requireUnix(t)
	r, layout := newTestRunner(t, DefaultConfig())

	// cat only exits when stdin reaches EOF, so a completed run proves the
	// payload was written and the pipe closed.
	d := shellDescriptor(layout, "claude", "cat")
	d.Stdin = "review payload"

	result, err := r.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Stdout != "review payload" {
		t.Errorf("Stdout = %q, want stdin echoed back", result.Stdout)
	}
}

func TestRunEmptyStdinClosesImmediately(t *testing.T) {
	requireUnix(t)
	r, layout := newTestRunner(t, DefaultConfig())

	d := shellDescriptor(layout, "codex", "cat; echo done")
	d.Stdin = ""

	result, err := r.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "done" {
		t.Errorf("Stdout = %q, want done (cat must see EOF)", result.Stdout)
	}
}

func TestRunReadsSideFile(t *testing.T) {
	requireUnix(t)
	r, layout := newTestRunner(t, DefaultConfig())

	side := layout.SidePath("codex")
	d := shellDescriptor(layout, "codex",
		fmt.Sprintf("echo envelope-noise; echo final answer > %q", side))
	d.SideFile = side

	result, err := r.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.SideText != "final answer" {
		t.Errorf("SideText = %q, want side file content", result.SideText)
	}
	if result.Payload() != "final answer" {
		t.Errorf("Payload() = %q, want side file to win over stdout", result.Payload())
	}

	// The raw capture still records what stdout said.
	raw, _ := os.ReadFile(layout.RawPath("codex"))
	if !strings.Contains(string(raw), "envelope-noise") {
		t.Errorf("raw capture = %q, want stdout content", raw)
	}
}

func TestRunSideFileMissingFallsBackToStdout(t *testing.T) {
	requireUnix(t)
	r, layout := newTestRunner(t, DefaultConfig())

	d := shellDescriptor(layout, "codex", "echo only stdout")
	d.SideFile = layout.SidePath("codex")

	result, err := r.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.TrimSpace(result.Payload()) != "only stdout" {
		t.Errorf("Payload() = %q, want stdout fallback", result.Payload())
	}
}

func TestRunRejectsEscapingDestinations(t *testing.T) {
	requireUnix(t)
	r, layout := newTestRunner(t, DefaultConfig())

	marker := filepath.Join(t.TempDir(), "ran")
	d := shellDescriptor(layout, "claude", "touch "+marker)
	d.RawPath = filepath.Join("..", "escape.txt")

	_, err := r.Run(context.Background(), d)
	if err == nil {
		t.Fatal("Run() accepted escaping raw path, want error")
	}
	var pe *workspace.PathError
	if !errors.As(err, &pe) {
		t.Errorf("error = %v, want *workspace.PathError in chain", err)
	}
	if _, statErr := os.Stat(marker); statErr == nil {
		t.Error("process was spawned despite path violation")
	}
}

func TestRunStripsCredentialsAtSpawn(t *testing.T) {
	requireUnix(t)
	r, layout := newTestRunner(t, DefaultConfig())

	d := shellDescriptor(layout, "claude", `echo "tok=[$GITHUB_TOKEN] keep=[$REVIEW_KEEP]"`)
	// Credentials planted directly in the descriptor simulate an upstream
	// layer that failed to strip them.
	d.Env = map[string]string{
		"GITHUB_TOKEN": "ghp_leaked",
		"REVIEW_KEEP":  "yes",
	}

	result, err := r.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.Contains(result.Stdout, "ghp_leaked") {
		t.Errorf("credential reached child process: %q", result.Stdout)
	}
	if !strings.Contains(result.Stdout, "keep=[yes]") {
		t.Errorf("benign variable missing from child env: %q", result.Stdout)
	}
	// The caller's map is untouched.
	if d.Env["GITHUB_TOKEN"] != "ghp_leaked" {
		t.Error("Run mutated the descriptor env map")
	}
}

func TestRunTruncatesOversizeOutput(t *testing.T) {
	requireUnix(t)
	cfg := DefaultConfig()
	cfg.MaxOutputBytes = 64
	r, layout := newTestRunner(t, cfg)

	d := shellDescriptor(layout, "gemini",
		"for i in 1 2 3 4 5 6 7 8 9 10; do echo 0123456789012345; done")

	result, err := r.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(result.Stdout) != 64 {
		t.Errorf("len(Stdout) = %d, want capped at 64", len(result.Stdout))
	}
}

func TestResultPayloadPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{"side file wins", Result{SideText: "side", Stdout: "out", Stderr: "err"}, "side"},
		{"stdout next", Result{Stdout: "out", Stderr: "err"}, "out"},
		{"stderr last", Result{Stderr: "err"}, "err"},
		{"all empty", Result{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Payload(); got != tt.want {
				t.Errorf("Payload() = %q, want %q", got, tt.want)
			}
		})
	}
}
