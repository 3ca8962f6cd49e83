package gate

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/casepot/multi-model-review-pipeline/internal/report"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

var testNow = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func newTestLayout(t *testing.T) *workspace.Layout {
	t.Helper()
	layout := workspace.NewLayout(t.TempDir())
	if err := layout.Ensure(); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	return layout
}

func threeSlots() []SlotSpec {
	return []SlotSpec{
		{Tool: "claude", Model: "claude-sonnet-4-5"},
		{Tool: "codex", Model: "gpt-5-codex"},
		{Tool: "gemini", Model: "gemini-2.5-pro"},
	}
}

func readyReport(tool, model string) *report.Report {
	r := &report.Report{
		Tool:      tool,
		Model:     model,
		Timestamp: "2026-02-03T04:05:06Z",
		Summary:   "No issues found.",
		ExitCriteria: report.ExitCriteria{
			ReadyForPR: true,
		},
	}
	r.FillEmpty()
	r.RecomputeMetrics()
	return r
}

func writeReport(t *testing.T, layout *workspace.Layout, r *report.Report) {
	t.Helper()
	data, err := report.Encode(r)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if err := layout.WriteFile(layout.ReportPath(r.Tool), data); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
}

func TestAggregate_AllPass(t *testing.T) {
	layout := newTestLayout(t)
	writeReport(t, layout, readyReport("claude", "claude-sonnet-4-5"))
	writeReport(t, layout, readyReport("codex", "gpt-5-codex"))
	writeReport(t, layout, readyReport("gemini", "gemini-2.5-pro"))

	s := Aggregate(layout, threeSlots(), testNow)

	if s.Verdict != VerdictPass {
		t.Errorf("Verdict = %q, want pass", s.Verdict)
	}
	if s.ErrorCount() != 0 {
		t.Errorf("ErrorCount() = %d, want 0", s.ErrorCount())
	}
	for i, tool := range []string{"claude", "codex", "gemini"} {
		if s.Slots[i].Tool != tool || s.Slots[i].Status != StatusOK {
			t.Errorf("Slots[%d] = %s/%s, want %s/ok", i, s.Slots[i].Tool, s.Slots[i].Status, tool)
		}
	}
}

func TestAggregate_MissingReportFails(t *testing.T) {
	layout := newTestLayout(t)
	writeReport(t, layout, readyReport("claude", "claude-sonnet-4-5"))
	// codex produced raw output but no report file.
	if err := layout.WriteFile(layout.RawPath("codex"), []byte("crash log here")); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	specs := threeSlots()[:2]
	s := Aggregate(layout, specs, testNow)

	if s.Verdict != VerdictFail {
		t.Errorf("Verdict = %q, want fail", s.Verdict)
	}
	slot := s.Slots[1]
	if slot.Status != StatusFailed {
		t.Fatalf("codex slot status = %q, want failed", slot.Status)
	}
	if slot.Report == nil || slot.Report.Error != report.TagMissingReport {
		t.Errorf("placeholder = %+v, want missing_report tag", slot.Report)
	}
	if slot.RawBytes != int64(len("crash log here")) {
		t.Errorf("RawBytes = %d, want raw capture size annotated", slot.RawBytes)
	}
}

func TestAggregate_UnreadableReportFails(t *testing.T) {
	layout := newTestLayout(t)
	if err := layout.WriteFile(layout.ReportPath("claude"), []byte("{not json")); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	s := Aggregate(layout, threeSlots()[:1], testNow)
	if s.Slots[0].Status != StatusFailed {
		t.Errorf("status = %q, want failed for undecodable report", s.Slots[0].Status)
	}
	if s.Verdict != VerdictFail {
		t.Errorf("Verdict = %q, want fail", s.Verdict)
	}
}

func TestAggregate_MustFixUnion(t *testing.T) {
	layout := newTestLayout(t)

	claude := readyReport("claude", "claude-sonnet-4-5")
	claude.Findings = []report.Finding{
		// Blocking through severity alone.
		{Category: "security", Severity: "high", File: "auth.go", Lines: "10",
			Message: "Token logged", MustFix: false},
	}
	claude.RecomputeMetrics()

	codex := readyReport("codex", "gpt-5-codex")
	codex.Findings = []report.Finding{
		// Blocking through the explicit flag despite low severity.
		{Category: "correctness", Severity: "low", File: "sum.go", Lines: "3",
			Message: "Off by one", MustFix: true},
		{Category: "style", Severity: "low", File: "fmt.go", Lines: "9",
			Message: "Inconsistent naming", MustFix: false},
	}
	codex.RecomputeMetrics()

	writeReport(t, layout, claude)
	writeReport(t, layout, codex)
	writeReport(t, layout, readyReport("gemini", "gemini-2.5-pro"))

	s := Aggregate(layout, threeSlots(), testNow)

	if len(s.MustFix) != 2 {
		t.Fatalf("len(MustFix) = %d, want 2", len(s.MustFix))
	}
	if s.MustFix[0].Tool != "claude" || s.MustFix[0].Message != "Token logged" {
		t.Errorf("MustFix[0] = %+v, want claude's finding first (slot order)", s.MustFix[0])
	}
	if s.MustFix[1].Tool != "codex" || s.MustFix[1].Message != "Off by one" {
		t.Errorf("MustFix[1] = %+v, want codex's flagged finding", s.MustFix[1])
	}
	if s.Verdict != VerdictFail {
		t.Errorf("Verdict = %q, want fail while must-fix findings remain", s.Verdict)
	}
	if s.ErrorCount() != 0 {
		t.Errorf("ErrorCount() = %d, want 0 (must-fix is not an aggregation error)", s.ErrorCount())
	}
}

func TestAggregate_MustFixOrderingWithinSlot(t *testing.T) {
	layout := newTestLayout(t)

	r := readyReport("claude", "claude-sonnet-4-5")
	r.Findings = []report.Finding{
		{Category: "security", Severity: "critical", File: "b.go", Lines: "5", Message: "second"},
		{Category: "security", Severity: "critical", File: "a.go", Lines: "9", Message: "first"},
		{Category: "security", Severity: "critical", File: "b.go", Lines: "5", Message: "also second"},
	}
	r.RecomputeMetrics()
	writeReport(t, layout, r)

	s := Aggregate(layout, threeSlots()[:1], testNow)

	var got []string
	for _, f := range s.MustFix {
		got = append(got, f.File+":"+f.Lines+" "+f.Message)
	}
	want := []string{"a.go:9 first", "b.go:5 also second", "b.go:5 second"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("must-fix order mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_UncertainAssumptionsDeduped(t *testing.T) {
	layout := newTestLayout(t)

	claude := readyReport("claude", "claude-sonnet-4-5")
	claude.Assumptions = []report.Assumption{
		{Text: "config is loaded once", Status: report.StatusUncertain},
		{Text: "inputs are trusted", Status: report.StatusValidated},
	}
	codex := readyReport("codex", "gpt-5-codex")
	codex.Assumptions = []report.Assumption{
		{Text: "config is loaded once", Status: report.StatusUncertain},
		{Text: "single writer per file", Status: report.StatusUncertain},
	}
	writeReport(t, layout, claude)
	writeReport(t, layout, codex)
	writeReport(t, layout, readyReport("gemini", "gemini-2.5-pro"))

	s := Aggregate(layout, threeSlots(), testNow)

	want := []UncertainAssumption{
		{Tool: "claude", Text: "config is loaded once"},
		{Tool: "codex", Text: "single writer per file"},
	}
	if diff := cmp.Diff(want, s.Uncertain); diff != "" {
		t.Errorf("uncertain union mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_NotReadyFails(t *testing.T) {
	layout := newTestLayout(t)
	writeReport(t, layout, readyReport("claude", "claude-sonnet-4-5"))

	codex := readyReport("codex", "gpt-5-codex")
	codex.ExitCriteria.ReadyForPR = false
	codex.ExitCriteria.Reasons = []string{"tests not run"}
	writeReport(t, layout, codex)

	s := Aggregate(layout, threeSlots()[:2], testNow)
	if s.Verdict != VerdictFail {
		t.Errorf("Verdict = %q, want fail when a tool is not ready", s.Verdict)
	}
	if s.ErrorCount() != 0 || len(s.MustFix) != 0 {
		t.Errorf("errors=%d mustfix=%d, want readiness to be the only failure cause",
			s.ErrorCount(), len(s.MustFix))
	}
}

func TestAggregate_UnusableReportExcluded(t *testing.T) {
	layout := newTestLayout(t)

	empty := readyReport("claude", "claude-sonnet-4-5")
	empty.Summary = ""
	empty.Assumptions = []report.Assumption{
		{Text: "should not surface", Status: report.StatusUncertain},
	}
	writeReport(t, layout, empty)

	s := Aggregate(layout, threeSlots()[:1], testNow)

	if s.Slots[0].Status != StatusUnusable {
		t.Fatalf("status = %q, want unusable for no findings and no summary", s.Slots[0].Status)
	}
	if len(s.Uncertain) != 0 {
		t.Errorf("Uncertain = %v, want unusable report excluded from content", s.Uncertain)
	}
	if s.Verdict != VerdictFail {
		t.Errorf("Verdict = %q, want fail", s.Verdict)
	}
}

func TestAggregate_ValidationWarningsKeepReportIncluded(t *testing.T) {
	layout := newTestLayout(t)

	r := readyReport("claude", "claude-sonnet-4-5")
	r.Findings = []report.Finding{
		{Category: "security", Severity: "weird", File: "a.go", Message: "still counted"},
	}
	writeReport(t, layout, r)

	s := Aggregate(layout, threeSlots()[:1], testNow)

	slot := s.Slots[0]
	if slot.Status != StatusOK {
		t.Errorf("status = %q, want ok (warnings do not exclude)", slot.Status)
	}
	if len(slot.Warnings) == 0 {
		t.Error("Warnings empty, want invalid severity flagged")
	}
	if len(slot.Report.Findings) != 1 {
		t.Errorf("findings = %d, want report content kept", len(slot.Report.Findings))
	}
	if s.Verdict != VerdictFail {
		t.Errorf("Verdict = %q, want fail on validation warnings", s.Verdict)
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	layout := newTestLayout(t)
	writeReport(t, layout, readyReport("claude", "claude-sonnet-4-5"))
	// codex missing on purpose so placeholder timestamps are in play.
	writeReport(t, layout, readyReport("gemini", "gemini-2.5-pro"))

	first := Aggregate(layout, threeSlots(), testNow)
	second := Aggregate(layout, threeSlots(), testNow.Add(48*time.Hour))

	if diff := cmp.Diff(RenderSummary(first), RenderSummary(second)); diff != "" {
		t.Errorf("summary bytes differ across clocks (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Doc(), second.Doc()); diff != "" {
		t.Errorf("verdict docs differ across clocks (-first +second):\n%s", diff)
	}
}

func TestRenderSummary_GateLine(t *testing.T) {
	layout := newTestLayout(t)
	writeReport(t, layout, readyReport("claude", "claude-sonnet-4-5"))

	s := Aggregate(layout, threeSlots()[:1], testNow)
	out := string(RenderSummary(s))

	if !strings.HasSuffix(out, "GATE: pass\n") {
		t.Errorf("summary does not end with the gate line:\n%s", out)
	}
	if strings.Contains(out, testNow.Format("2006")) {
		t.Error("summary contains wall-clock content")
	}
}

func TestWriteArtifacts(t *testing.T) {
	layout := newTestLayout(t)
	writeReport(t, layout, readyReport("claude", "claude-sonnet-4-5"))

	s := Aggregate(layout, threeSlots()[:1], testNow)
	if err := WriteArtifacts(layout, s); err != nil {
		t.Fatalf("WriteArtifacts() error: %v", err)
	}

	gateBytes, err := os.ReadFile(layout.GatePath())
	if err != nil {
		t.Fatalf("gate.txt missing: %v", err)
	}
	// Exactly the token, no trailing newline. CI consumes this file with a
	// bare string comparison.
	if string(gateBytes) != "pass" {
		t.Errorf("gate.txt = %q, want %q", gateBytes, "pass")
	}

	var doc VerdictDoc
	verdictBytes, err := os.ReadFile(layout.VerdictPath())
	if err != nil {
		t.Fatalf("gate.json missing: %v", err)
	}
	if err := json.Unmarshal(verdictBytes, &doc); err != nil {
		t.Fatalf("gate.json does not parse: %v", err)
	}
	if doc.Verdict != VerdictPass || len(doc.Slots) != 1 {
		t.Errorf("doc = %+v", doc)
	}

	summaryBytes, err := os.ReadFile(layout.SummaryPath())
	if err != nil {
		t.Fatalf("summary.md missing: %v", err)
	}
	if !strings.Contains(string(summaryBytes), "# Review Gate Summary") {
		t.Errorf("summary.md content unexpected:\n%s", summaryBytes)
	}
}

func TestAggregate_DegradedSlotTagListed(t *testing.T) {
	layout := newTestLayout(t)
	writeReport(t, layout, readyReport("claude", "claude-sonnet-4-5"))
	timedOut := report.NewPlaceholder("codex", "gpt-5-codex", report.TagTimeout, testNow)
	timedOut.Summary = "Tool exceeded its 20m0s budget and was terminated."
	writeReport(t, layout, timedOut)
	writeReport(t, layout, readyReport("gemini", "gemini-2.5-pro"))

	s := Aggregate(layout, threeSlots(), testNow)

	if s.Verdict != VerdictFail {
		t.Errorf("Verdict = %q, want fail (timed-out slot is not ready)", s.Verdict)
	}
	if s.Slots[1].Status != StatusOK {
		t.Errorf("Slots[1].Status = %q, want ok (the placeholder loads fine)", s.Slots[1].Status)
	}

	rendered := string(RenderSummary(s))
	if !strings.Contains(rendered, "- codex: report tagged timeout") {
		t.Errorf("summary does not list the degraded slot:\n%s", rendered)
	}

	doc := s.Doc()
	if doc.Slots[1].Error != report.TagTimeout {
		t.Errorf("Doc slot error = %q, want %q", doc.Slots[1].Error, report.TagTimeout)
	}
}
