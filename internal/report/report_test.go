package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFindingBlocking(t *testing.T) {
	tests := []struct {
		name    string
		finding Finding
		want    bool
	}{
		{"must_fix flag", Finding{Severity: SeverityLow, MustFix: true}, true},
		{"critical severity", Finding{Severity: SeverityCritical}, true},
		{"high severity", Finding{Severity: SeverityHigh}, true},
		{"medium severity", Finding{Severity: SeverityMedium}, false},
		{"low severity", Finding{Severity: SeverityLow}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.finding.Blocking(); got != tt.want {
				t.Errorf("Blocking() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnusable(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   bool
	}{
		{"empty report", Report{}, true},
		{"whitespace summary only", Report{Summary: "  \n"}, true},
		{"summary present", Report{Summary: "looked at the diff"}, false},
		{"findings present", Report{Findings: []Finding{{Message: "x"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.Unusable(); got != tt.want {
				t.Errorf("Unusable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	r := &Report{
		Tool:      "claude",
		Model:     "claude-sonnet-4-5",
		Timestamp: "2025-06-01T00:00:00Z",
		Summary:   "one finding",
		Findings: []Finding{{
			Category: CategoryCorrectness,
			Severity: SeverityHigh,
			File:     "internal/api/server.go",
			Lines:    "42",
			Message:  "nil deref on error path",
			MustFix:  true,
		}},
	}

	first, err := Encode(r)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	second, err := Encode(r)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("Encode() not byte-identical across calls")
	}
	if !bytes.HasSuffix(first, []byte("\n")) {
		t.Error("Encode() missing trailing newline")
	}
}

func TestEncodeNeverNullLists(t *testing.T) {
	data, err := Encode(&Report{Tool: "codex", Model: "gpt-5-codex"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if strings.Contains(string(data), "null") {
		t.Errorf("encoded report contains null:\n%s", data)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	exitCode := 0
	coverage := 87.5
	want := &Report{
		Tool:      "gemini",
		Model:     "gemini-2.5-pro",
		Timestamp: "2025-06-01T12:30:00Z",
		PR: PRInfo{
			Repository: "casepot/service",
			Number:     118,
			HeadSHA:    "abc123",
			Branch:     "fix/timeouts",
			URL:        "https://github.com/casepot/service/pull/118",
		},
		Summary: "two findings, tests pass",
		Assumptions: []Assumption{{
			Text:     "retry loop only runs on 5xx",
			Status:   StatusUncertain,
			Evidence: []string{"internal/client/retry.go:88"},
		}},
		Findings: []Finding{{
			Category:   CategorySecurity,
			Severity:   SeverityCritical,
			File:       "internal/auth/token.go",
			Lines:      "10-20",
			Message:    "token logged at debug level",
			Suggestion: "redact before logging",
			Evidence:   []string{"internal/auth/token.go:14"},
			MustFix:    true,
		}},
		Tests: TestRecord{
			Executed: true,
			Command:  "go test ./...",
			ExitCode: &exitCode,
			Summary:  "312 passed",
			Coverage: &coverage,
		},
		Evidence:     []string{},
		ExitCriteria: ExitCriteria{ReadyForPR: false, Reasons: []string{"must-fix open"}},
	}
	want.RecomputeMetrics()

	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRecomputeMetrics(t *testing.T) {
	r := &Report{
		Findings: []Finding{
			{File: "a.go", Severity: SeverityHigh},
			{File: "a.go", Severity: SeverityLow},
			{File: "b.go", Severity: SeverityLow, MustFix: true},
			{File: "", Severity: SeverityMedium},
		},
		Metrics: Metrics{FilesReviewed: 1},
	}
	r.RecomputeMetrics()

	if r.Metrics.FindingsCount != 4 {
		t.Errorf("FindingsCount = %d, want 4", r.Metrics.FindingsCount)
	}
	if r.Metrics.MustFixCount != 2 {
		t.Errorf("MustFixCount = %d, want 2", r.Metrics.MustFixCount)
	}
	if r.Metrics.FilesReviewed != 2 {
		t.Errorf("FilesReviewed = %d, want 2", r.Metrics.FilesReviewed)
	}
}

func TestRecomputeMetricsKeepsLargerFileCount(t *testing.T) {
	r := &Report{
		Findings: []Finding{{File: "a.go", Severity: SeverityLow}},
		Metrics:  Metrics{FilesReviewed: 9},
	}
	r.RecomputeMetrics()
	if r.Metrics.FilesReviewed != 9 {
		t.Errorf("FilesReviewed = %d, want 9 (tool-reported count kept)", r.Metrics.FilesReviewed)
	}
}

func TestNewPlaceholder(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	r := NewPlaceholder("codex", "gpt-5-codex", TagMissingReport, now)

	if r.Tool != "codex" || r.Model != "gpt-5-codex" {
		t.Errorf("identity = %s/%s, want codex/gpt-5-codex", r.Tool, r.Model)
	}
	if r.Error != TagMissingReport {
		t.Errorf("Error = %q, want %q", r.Error, TagMissingReport)
	}
	if r.ExitCriteria.ReadyForPR {
		t.Error("placeholder must not be ready for PR")
	}
	if r.Timestamp != "2025-06-01T08:00:00Z" {
		t.Errorf("Timestamp = %q", r.Timestamp)
	}
	if r.Findings == nil || r.Assumptions == nil {
		t.Error("placeholder lists must be empty, not nil")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Report {
		r := NewPlaceholder("claude", "claude-sonnet-4-5", "", time.Now())
		r.Error = ""
		r.Summary = "fine"
		return r
	}

	tests := []struct {
		name    string
		mutate  func(*Report)
		wantHit string // substring expected in an issue, "" means no issues
	}{
		{"conformant", func(r *Report) {}, ""},
		{"missing tool", func(r *Report) { r.Tool = "" }, "tool: required"},
		{"missing model", func(r *Report) { r.Model = "" }, "model: required"},
		{"bad timestamp", func(r *Report) { r.Timestamp = "yesterday" }, "not RFC 3339"},
		{"bad severity", func(r *Report) {
			r.Findings = []Finding{{Severity: "catastrophic", Category: CategoryOther, Message: "m"}}
		}, "severity: invalid"},
		{"bad category", func(r *Report) {
			r.Findings = []Finding{{Severity: SeverityLow, Category: "vibes", Message: "m"}}
		}, "category: invalid"},
		{"missing message", func(r *Report) {
			r.Findings = []Finding{{Severity: SeverityLow, Category: CategoryOther}}
		}, "message: required"},
		{"bad assumption status", func(r *Report) {
			r.Assumptions = []Assumption{{Text: "t", Status: "maybe"}}
		}, "status: invalid"},
		{"unknown error tag", func(r *Report) { r.Error = "exploded" }, "unknown tag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			issues := Validate(r)
			if tt.wantHit == "" {
				if len(issues) != 0 {
					t.Errorf("Validate() = %v, want none", issues)
				}
				return
			}
			found := false
			for _, issue := range issues {
				if strings.Contains(issue, tt.wantHit) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want issue containing %q", issues, tt.wantHit)
			}
		})
	}
}
