package report

import (
	"fmt"
	"time"
)

// Validate checks schema conformance and returns a list of human-readable
// issues. An empty list means the report conforms. Issues are warnings, not
// errors: the aggregator records them and keeps the report unless it is
// Unusable.
func Validate(r *Report) []string {
	var issues []string

	if r.Tool == "" {
		issues = append(issues, "tool: required")
	}
	if r.Model == "" {
		issues = append(issues, "model: required")
	}
	if r.Timestamp == "" {
		issues = append(issues, "timestamp: required")
	} else if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
		issues = append(issues, fmt.Sprintf("timestamp: not RFC 3339: %q", r.Timestamp))
	}

	if r.Findings == nil {
		issues = append(issues, "findings: list missing")
	}
	for i, f := range r.Findings {
		if !ValidSeverity(f.Severity) {
			issues = append(issues, fmt.Sprintf("findings[%d].severity: invalid value %q", i, f.Severity))
		}
		if !ValidCategory(f.Category) {
			issues = append(issues, fmt.Sprintf("findings[%d].category: invalid value %q", i, f.Category))
		}
		if f.Message == "" {
			issues = append(issues, fmt.Sprintf("findings[%d].message: required", i))
		}
	}

	if r.Assumptions == nil {
		issues = append(issues, "assumptions: list missing")
	}
	for i, a := range r.Assumptions {
		if !ValidStatus(a.Status) {
			issues = append(issues, fmt.Sprintf("assumptions[%d].status: invalid value %q", i, a.Status))
		}
		if a.Text == "" {
			issues = append(issues, fmt.Sprintf("assumptions[%d].text: required", i))
		}
	}

	if r.Error != "" {
		switch r.Error {
		case TagExecutionFailed, TagTimeout, TagNoOutput, TagMissingReport,
			TagUnparseable, TagInvalidFormat:
		default:
			issues = append(issues, fmt.Sprintf("error: unknown tag %q", r.Error))
		}
	}

	return issues
}
