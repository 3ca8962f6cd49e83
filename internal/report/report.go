// Package report defines the normalized review report schema. Every tool's
// output, however mangled, converges to exactly this shape before the
// aggregator sees it. The schema is the contract between the per-tool
// pipeline stages and the gate.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// Report is the single normalized review document produced per tool.
type Report struct {
	Tool         string       `json:"tool"`
	Model        string       `json:"model"`
	Timestamp    string       `json:"timestamp"`
	PR           PRInfo       `json:"pr"`
	Summary      string       `json:"summary"`
	Assumptions  []Assumption `json:"assumptions"`
	Findings     []Finding    `json:"findings"`
	Tests        TestRecord   `json:"tests"`
	Metrics      Metrics      `json:"metrics"`
	Evidence     []string     `json:"evidence"`
	ExitCriteria ExitCriteria `json:"exit_criteria"`
	Error        string       `json:"error,omitempty"`
}

// PRInfo carries the pull request context the review ran against.
type PRInfo struct {
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	HeadSHA    string `json:"head_sha"`
	Branch     string `json:"branch"`
	URL        string `json:"url"`
}

// Assumption records a belief the reviewer formed about the change, with its
// verification status.
type Assumption struct {
	Text          string   `json:"text"`
	Status        string   `json:"status"`
	Evidence      []string `json:"evidence"`
	Falsification string   `json:"falsification,omitempty"`
}

// Finding is a single review finding. Evidence entries are flattened to
// "file:locus" strings; Lines holds the canonical locus for the finding
// itself ("12", "10-20", or a free-form location).
type Finding struct {
	Category   string   `json:"category"`
	Severity   string   `json:"severity"`
	File       string   `json:"file"`
	Lines      string   `json:"lines"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion"`
	Evidence   []string `json:"evidence"`
	MustFix    bool     `json:"must_fix"`
}

// TestRecord describes whether and how the reviewer executed tests.
type TestRecord struct {
	Executed bool     `json:"executed"`
	Command  string   `json:"command,omitempty"`
	ExitCode *int     `json:"exit_code,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Coverage *float64 `json:"coverage,omitempty"`
}

// Metrics carries derived counters. The normalizer recomputes these from the
// findings list so tools cannot misreport them.
type Metrics struct {
	FilesReviewed int `json:"files_reviewed"`
	FindingsCount int `json:"findings_count"`
	MustFixCount  int `json:"must_fix_count"`
}

// ExitCriteria is the reviewer's merge recommendation.
type ExitCriteria struct {
	ReadyForPR bool     `json:"ready_for_pr"`
	Reasons    []string `json:"reasons"`
}

// =============================================================================
// ENUMS
// =============================================================================

// Severity levels, ordered from most to least severe.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Finding categories.
const (
	CategorySecurity        = "security"
	CategoryCorrectness     = "correctness"
	CategoryPerformance     = "performance"
	CategoryMaintainability = "maintainability"
	CategoryTesting         = "testing"
	CategoryStyle           = "style"
	CategoryDocs            = "docs"
	CategoryOther           = "other"
)

// Assumption statuses.
const (
	StatusValidated = "validated"
	StatusUncertain = "uncertain"
	StatusFalsified = "falsified"
)

// Error tags attached to degraded reports. Tags classify the failure mode;
// the summary carries the human-readable detail.
const (
	TagExecutionFailed = "execution_failed"
	TagTimeout         = "timeout"
	TagNoOutput        = "no_output"
	TagMissingReport   = "missing_report"
	TagUnparseable     = "unparseable_output"
	TagInvalidFormat   = "invalid_output_format"
)

// Severities returns the valid severity values in rank order.
func Severities() []string {
	return []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// Categories returns the valid finding categories.
func Categories() []string {
	return []string{
		CategorySecurity, CategoryCorrectness, CategoryPerformance,
		CategoryMaintainability, CategoryTesting, CategoryStyle,
		CategoryDocs, CategoryOther,
	}
}

// ValidSeverity reports whether s is a canonical severity value.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// ValidCategory reports whether c is a canonical category value.
func ValidCategory(c string) bool {
	switch c {
	case CategorySecurity, CategoryCorrectness, CategoryPerformance,
		CategoryMaintainability, CategoryTesting, CategoryStyle,
		CategoryDocs, CategoryOther:
		return true
	}
	return false
}

// ValidStatus reports whether s is a canonical assumption status.
func ValidStatus(s string) bool {
	switch s {
	case StatusValidated, StatusUncertain, StatusFalsified:
		return true
	}
	return false
}

// Blocking reports whether a finding forces the gate shut: an explicit
// must-fix flag or a critical/high severity.
func (f Finding) Blocking() bool {
	return f.MustFix || f.Severity == SeverityCritical || f.Severity == SeverityHigh
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// NewPlaceholder builds a degraded not-ready report carrying an error tag.
// Used when a tool produced nothing usable or a slot has no report at all.
func NewPlaceholder(tool, model, tag string, now time.Time) *Report {
	r := &Report{
		Tool:      tool,
		Model:     model,
		Timestamp: now.UTC().Format(time.RFC3339),
		Error:     tag,
	}
	r.FillEmpty()
	return r
}

// FillEmpty replaces nil collections with empty ones so the encoded JSON
// never contains null lists.
func (r *Report) FillEmpty() {
	if r.Assumptions == nil {
		r.Assumptions = []Assumption{}
	}
	if r.Findings == nil {
		r.Findings = []Finding{}
	}
	if r.Evidence == nil {
		r.Evidence = []string{}
	}
	if r.ExitCriteria.Reasons == nil {
		r.ExitCriteria.Reasons = []string{}
	}
	for i := range r.Assumptions {
		if r.Assumptions[i].Evidence == nil {
			r.Assumptions[i].Evidence = []string{}
		}
	}
	for i := range r.Findings {
		if r.Findings[i].Evidence == nil {
			r.Findings[i].Evidence = []string{}
		}
	}
}

// RecomputeMetrics rebuilds the derived counters from the findings list.
// FilesReviewed is preserved when the tool reported a larger number, since
// clean files leave no findings behind.
func (r *Report) RecomputeMetrics() {
	files := make(map[string]struct{})
	mustFix := 0
	for _, f := range r.Findings {
		if f.File != "" {
			files[f.File] = struct{}{}
		}
		if f.Blocking() {
			mustFix++
		}
	}
	r.Metrics.FindingsCount = len(r.Findings)
	r.Metrics.MustFixCount = mustFix
	if len(files) > r.Metrics.FilesReviewed {
		r.Metrics.FilesReviewed = len(files)
	}
}

// Unusable reports whether the document carries no reviewable content at
// all: no findings and no summary. Unusable reports are excluded from
// content aggregation (the slot still fails the gate).
func (r *Report) Unusable() bool {
	return len(r.Findings) == 0 && strings.TrimSpace(r.Summary) == ""
}

// =============================================================================
// ENCODING
// =============================================================================

// Encode renders the report as canonical JSON: two-space indent, fixed field
// order, trailing newline. Encoding the same report twice is byte-identical.
func Encode(r *Report) ([]byte, error) {
	r.FillEmpty()
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a report document. Unknown fields are ignored; schema
// conformance is checked separately by Validate.
func Decode(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}
