package normalize

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/casepot/multi-model-review-pipeline/internal/report"
)

func testMeta() Meta {
	return Meta{
		Tool:  "claude",
		Model: "claude-sonnet-4-5",
		PR: report.PRInfo{
			Repository: "casepot/widget",
			Number:     42,
			HeadSHA:    "abc1234",
			Branch:     "feature/retry",
			URL:        "https://github.com/casepot/widget/pull/42",
		},
		Now: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

func TestNormalizeWholeDocument(t *testing.T) {
	raw := `{
		"tool": "someone-else",
		"model": "other-model",
		"timestamp": "2026-01-15T10:30:00Z",
		"summary": "Reviewed the change.",
		"findings": [
			{"category": "security", "severity": "critical", "file": "auth.go",
			 "lines": "42", "message": "Token written to log", "must_fix": true}
		],
		"exit_criteria": {"ready_for_pr": false, "reasons": ["fix token logging"]}
	}`

	r := Normalize(raw, testMeta())

	// Identity always comes from the pipeline, not the tool's self-report.
	if r.Tool != "claude" {
		t.Errorf("Tool = %q, want claude", r.Tool)
	}
	if r.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q, want claude-sonnet-4-5", r.Model)
	}
	if r.PR.Number != 42 {
		t.Errorf("PR.Number = %d, want 42", r.PR.Number)
	}
	if r.Timestamp != "2026-01-15T10:30:00Z" {
		t.Errorf("Timestamp = %q, want the tool's valid timestamp kept", r.Timestamp)
	}
	if r.Summary != "Reviewed the change." {
		t.Errorf("Summary = %q", r.Summary)
	}
	if len(r.Findings) != 1 {
		t.Fatalf("len(Findings) = %d, want 1", len(r.Findings))
	}
	f := r.Findings[0]
	if f.Severity != report.SeverityCritical || f.Category != report.CategorySecurity {
		t.Errorf("finding = %+v, want critical/security", f)
	}
	if !f.MustFix {
		t.Error("MustFix = false, want true")
	}
	if r.Metrics.FindingsCount != 1 || r.Metrics.MustFixCount != 1 || r.Metrics.FilesReviewed != 1 {
		t.Errorf("Metrics = %+v, want recomputed 1/1/1", r.Metrics)
	}
	if r.ExitCriteria.ReadyForPR {
		t.Error("ReadyForPR = true, want false")
	}
	if r.Error != "" {
		t.Errorf("Error = %q, want none", r.Error)
	}
}

func TestNormalizeReplacesInvalidTimestamp(t *testing.T) {
	meta := testMeta()
	r := Normalize(`{"summary": "ok", "timestamp": "yesterday"}`, meta)
	if want := meta.Now.UTC().Format(time.RFC3339); r.Timestamp != want {
		t.Errorf("Timestamp = %q, want pipeline clock %q", r.Timestamp, want)
	}
}

func TestNormalizeClaudeEnvelope(t *testing.T) {
	raw := `{"type":"result","subtype":"success","is_error":false,` +
		`"result":"{\"summary\":\"Looks good.\",\"findings\":[],\"exit_criteria\":{\"ready_for_pr\":true}}",` +
		`"session_id":"abc"}`

	r := Normalize(raw, testMeta())
	if r.Summary != "Looks good." {
		t.Errorf("Summary = %q, want the unwrapped payload", r.Summary)
	}
	if !r.ExitCriteria.ReadyForPR {
		t.Error("ReadyForPR = false, want true")
	}
	if r.Error != "" {
		t.Errorf("Error = %q, want none", r.Error)
	}
}

func TestNormalizeGeminiEnvelope(t *testing.T) {
	raw := `{"response": {"summary": "Fine by me.", "findings": []}, "stats": {"tokens": 12}}`

	r := Normalize(raw, testMeta())
	if r.Summary != "Fine by me." {
		t.Errorf("Summary = %q, want the unwrapped object payload", r.Summary)
	}
}

func TestNormalizeConfigEcho(t *testing.T) {
	raw := `{
		"version": 1,
		"reports_dir": "reports",
		"providers": {"claude": {"enabled": true, "model": "claude-sonnet-4-5"}}
	}`

	r := Normalize(raw, testMeta())
	if r.Error != report.TagInvalidFormat {
		t.Fatalf("Error = %q, want %q", r.Error, report.TagInvalidFormat)
	}
	if !strings.Contains(r.Summary, "configuration") {
		t.Errorf("Summary = %q, want mention of configuration echo", r.Summary)
	}
	if r.ExitCriteria.ReadyForPR {
		t.Error("ReadyForPR = true, want false for a config echo")
	}
}

func TestNormalizeFencedBlock(t *testing.T) {
	raw := "Here is my review of the change.\n\n" +
		"```json\n" +
		`{"summary": "Fenced verdict.", "findings": [{"severity": "medium", "category": "testing", "message": "Missing edge case"}]}` +
		"\n```\n\nLet me know if you need more detail."

	r := Normalize(raw, testMeta())
	if r.Summary != "Fenced verdict." {
		t.Errorf("Summary = %q, want content of the json fence", r.Summary)
	}
	if len(r.Findings) != 1 || r.Findings[0].Message != "Missing edge case" {
		t.Errorf("Findings = %+v, want the fenced finding intact", r.Findings)
	}
}

func TestNormalizePrefersJSONTaggedFence(t *testing.T) {
	raw := "```\n" +
		`{"note": "not a report"}` +
		"\n```\n\n```json\n" +
		`{"summary": "From the tagged fence.", "findings": []}` +
		"\n```"

	r := Normalize(raw, testMeta())
	if r.Summary != "From the tagged fence." {
		t.Errorf("Summary = %q, want the json-tagged fence to win", r.Summary)
	}
}

func TestNormalizeFenceRoundTrip(t *testing.T) {
	doc := `{"summary": "Round trip.", "findings": [` +
		`{"category": "correctness", "severity": "high", "file": "sum.go", "lines": "10-12", "message": "Off by one"}` +
		`], "exit_criteria": {"ready_for_pr": false}}`

	direct := Normalize(doc, testMeta())
	fenced := Normalize("Preamble.\n\n```json\n"+doc+"\n```\n", testMeta())

	dj, err := report.Encode(direct)
	if err != nil {
		t.Fatalf("Encode(direct): %v", err)
	}
	fj, err := report.Encode(fenced)
	if err != nil {
		t.Fatalf("Encode(fenced): %v", err)
	}
	if !bytes.Equal(dj, fj) {
		t.Errorf("fenced document normalized differently from the bare one:\ndirect:\n%s\nfenced:\n%s", dj, fj)
	}
}

// A report that happens to carry config-like keys (version, pr) must not be
// mistaken for a configuration echo: report keys take precedence.
func TestNormalizeReportCarryingConfigKeys(t *testing.T) {
	payload := `{\"version\": 1, \"pr\": {\"number\": 42},` +
		`\"summary\": \"Versioned report.\", \"findings\": [],` +
		`\"exit_criteria\": {\"ready_for_pr\": true}}`
	raw := `{"type":"result","result":"` + payload + `"}`

	r := Normalize(raw, testMeta())
	if r.Error == report.TagInvalidFormat {
		t.Fatal("nested report misclassified as a configuration echo")
	}
	if r.Summary != "Versioned report." {
		t.Errorf("Summary = %q, want the nested report's summary", r.Summary)
	}
	if !r.ExitCriteria.ReadyForPR {
		t.Error("ReadyForPR = false, want true from the nested report")
	}
}

func TestNormalizeClaudeEventStream(t *testing.T) {
	raw := `{"type":"system","subtype":"init"}` + "\n" +
		`{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}` + "\n" +
		`{"type":"result","is_error":false,"result":"{\"summary\":\"Stream result.\",\"findings\":[]}"}`

	r := Normalize(raw, testMeta())
	if r.Summary != "Stream result." {
		t.Errorf("Summary = %q, want payload of the final result event", r.Summary)
	}
}

func TestNormalizeCodexEventStream(t *testing.T) {
	answer := "Here is the review:\n```json\n" +
		`{"summary": "Codex verdict.", "findings": []}` + "\n```"
	raw := `{"id":"0","msg":{"type":"task_started"}}` + "\n" +
		fmt.Sprintf(`{"id":"1","msg":{"type":"agent_message","message":%s}}`, strconv.Quote(answer)) + "\n" +
		`{"id":"2","msg":{"type":"task_complete"}}`

	r := Normalize(raw, testMeta())
	if r.Summary != "Codex verdict." {
		t.Errorf("Summary = %q, want fenced report inside the agent message", r.Summary)
	}
}

func TestNormalizeReportEmbeddedInProse(t *testing.T) {
	raw := `Sure! Here is my take. {"summary": "Inline.", "findings": [{"severity": "low", "category": "style", "file": "a.go", "message": "Has {braces} in a string"}]} Hope that helps.`

	r := Normalize(raw, testMeta())
	if r.Summary != "Inline." {
		t.Errorf("Summary = %q, want the embedded object recovered", r.Summary)
	}
	if len(r.Findings) != 1 || r.Findings[0].Message != "Has {braces} in a string" {
		t.Errorf("Findings = %+v, want braces inside strings preserved", r.Findings)
	}
}

func TestNormalizeRepairsTruncatedOutput(t *testing.T) {
	raw := `{"findings": [{"severity": "hig`

	r := Normalize(raw, testMeta())
	if r.Error != "" {
		t.Fatalf("Error = %q, want repair to succeed without a tag", r.Error)
	}
	if len(r.Findings) != 1 {
		t.Fatalf("len(Findings) = %d, want the partial finding recovered", len(r.Findings))
	}
	// "hig" is unusable after repair and falls to the least severe bucket.
	if r.Findings[0].Severity != report.SeverityLow {
		t.Errorf("Severity = %q, want low", r.Findings[0].Severity)
	}
	if r.Metrics.FindingsCount != 1 || r.Metrics.MustFixCount != 0 {
		t.Errorf("Metrics = %+v, want 1 finding, 0 must-fix", r.Metrics)
	}
}

func TestNormalizeRepairsTruncatedEnvelope(t *testing.T) {
	raw := `{"type":"result","result":"{\"summary\": \"All goo`

	r := Normalize(raw, testMeta())
	if r.Summary != "All goo" {
		t.Errorf("Summary = %q, want double repair through the envelope", r.Summary)
	}
	if r.Error != "" {
		t.Errorf("Error = %q, want none", r.Error)
	}
}

func TestNormalizeUnparseableProse(t *testing.T) {
	raw := "I was unable to review this diff because the context was too large."

	r := Normalize(raw, testMeta())
	if r.Error != report.TagUnparseable {
		t.Fatalf("Error = %q, want %q", r.Error, report.TagUnparseable)
	}
	if !strings.Contains(r.Summary, "I was unable to review") {
		t.Errorf("Summary = %q, want the diagnostic snippet embedded", r.Summary)
	}
	if r.ExitCriteria.ReadyForPR {
		t.Error("ReadyForPR = true, want false")
	}
	if r.Findings == nil || r.Assumptions == nil || r.Evidence == nil {
		t.Error("placeholder has nil collections, want empty slices")
	}
}

func TestNormalizeSnippetIsBounded(t *testing.T) {
	raw := strings.Repeat("x", 5000)
	r := Normalize(raw, testMeta())
	if r.Error != report.TagUnparseable {
		t.Fatalf("Error = %q, want %q", r.Error, report.TagUnparseable)
	}
	if len(r.Summary) > 600 {
		t.Errorf("len(Summary) = %d, want diagnostic capped near 500", len(r.Summary))
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   \n\t  "} {
		r := Normalize(raw, testMeta())
		if r.Error != report.TagNoOutput {
			t.Errorf("Normalize(%q).Error = %q, want %q", raw, r.Error, report.TagNoOutput)
		}
	}
}

func TestNormalizeEnvelopeDepthCapped(t *testing.T) {
	raw := `{"done": true}`
	for i := 0; i < 8; i++ {
		raw = fmt.Sprintf(`{"result": %s}`, raw)
	}

	r := Normalize(raw, testMeta())
	if r == nil {
		t.Fatal("Normalize returned nil")
	}
	if r.Error != report.TagUnparseable {
		t.Errorf("Error = %q, want %q once unwrap depth is exhausted", r.Error, report.TagUnparseable)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := map[string]string{
		"full report": `{"summary": "Done.", "timestamp": "2026-01-15T10:30:00Z",
			"findings": [{"severity": "high", "category": "correctness", "file": "b.go", "lines": "7", "message": "Off by one", "must_fix": false}],
			"assumptions": [{"text": "single writer", "status": "uncertain"}],
			"exit_criteria": {"ready_for_pr": false, "reasons": ["high finding open"]}}`,
		"claude envelope":    `{"type":"result","result":"{\"summary\":\"Wrapped.\",\"findings\":[]}"}`,
		"truncated fragment": `{"findings": [{"severity": "hig`,
		"plain prose":        "No structured output here at all.",
		"config echo":        `{"version": 1, "reports_dir": "reports", "providers": {}}`,
	}

	meta := testMeta()
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			first := Normalize(raw, meta)
			enc1, err := report.Encode(first)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}

			second := Normalize(string(enc1), meta)
			enc2, err := report.Encode(second)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}

			if !bytes.Equal(enc1, enc2) {
				t.Errorf("normalization is not idempotent\nfirst:\n%s\nsecond:\n%s", enc1, enc2)
			}
		})
	}
}
