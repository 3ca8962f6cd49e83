package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/casepot/multi-model-review-pipeline/internal/report"
)

// backfill builds a canonical report from a parsed candidate object. Tool,
// model, and PR context always come from meta, severities and categories are
// folded onto the fixed enums, and missing fields get neutral defaults.
// Recognized data is supplemented and canonicalized, never discarded.
func backfill(obj map[string]any, meta Meta) *report.Report {
	r := &report.Report{
		Tool:      meta.Tool,
		Model:     meta.Model,
		PR:        meta.PR,
		Timestamp: canonicalTimestamp(asString(obj["timestamp"]), meta.Now),
		Summary:   strings.TrimSpace(asString(obj["summary"])),
		Error:     strings.TrimSpace(asString(obj["error"])),
	}

	if list, ok := obj["assumptions"].([]any); ok {
		for _, entry := range list {
			switch a := entry.(type) {
			case map[string]any:
				r.Assumptions = append(r.Assumptions, report.Assumption{
					Text:          strings.TrimSpace(asString(a["text"])),
					Status:        mapStatus(asString(a["status"])),
					Evidence:      flattenEvidenceList(a["evidence"]),
					Falsification: strings.TrimSpace(asString(a["falsification"])),
				})
			case string:
				if text := strings.TrimSpace(a); text != "" {
					r.Assumptions = append(r.Assumptions, report.Assumption{
						Text:   text,
						Status: report.StatusUncertain,
					})
				}
			}
		}
	}

	if list, ok := obj["findings"].([]any); ok {
		for _, entry := range list {
			switch f := entry.(type) {
			case map[string]any:
				r.Findings = append(r.Findings, report.Finding{
					Category:   mapCategory(asString(f["category"])),
					Severity:   mapSeverity(asString(f["severity"])),
					File:       strings.TrimSpace(asString(f["file"])),
					Lines:      canonicalLines(firstPresent(f, "lines", "line")),
					Message:    strings.TrimSpace(asString(f["message"])),
					Suggestion: strings.TrimSpace(asString(f["suggestion"])),
					Evidence:   flattenEvidenceList(f["evidence"]),
					MustFix:    asBool(f["must_fix"]),
				})
			case string:
				if msg := strings.TrimSpace(f); msg != "" {
					r.Findings = append(r.Findings, report.Finding{
						Category: report.CategoryOther,
						Severity: report.SeverityLow,
						Message:  msg,
					})
				}
			}
		}
	}

	if tests, ok := obj["tests"].(map[string]any); ok {
		r.Tests.Executed = asBool(tests["executed"])
		r.Tests.Command = strings.TrimSpace(asString(tests["command"]))
		r.Tests.Summary = strings.TrimSpace(asString(tests["summary"]))
		if n, ok := tests["exit_code"].(float64); ok {
			code := int(n)
			r.Tests.ExitCode = &code
		}
		if n, ok := tests["coverage"].(float64); ok {
			cov := n
			r.Tests.Coverage = &cov
		}
	}

	if metrics, ok := obj["metrics"].(map[string]any); ok {
		if n, ok := metrics["files_reviewed"].(float64); ok && n > 0 {
			r.Metrics.FilesReviewed = int(n)
		}
	}

	r.Evidence = flattenEvidenceList(obj["evidence"])

	if ec, ok := obj["exit_criteria"].(map[string]any); ok {
		r.ExitCriteria.ReadyForPR = asBool(ec["ready_for_pr"])
		r.ExitCriteria.Reasons = asStringSlice(ec["reasons"])
	}

	r.FillEmpty()
	r.RecomputeMetrics()
	return r
}

// canonicalTimestamp keeps a parseable RFC 3339 timestamp and replaces
// anything else with the pipeline clock.
func canonicalTimestamp(ts string, now time.Time) string {
	ts = strings.TrimSpace(ts)
	if ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return now.UTC().Format(time.RFC3339)
}

// mapSeverity folds a tool-reported severity onto the fixed scale. Matching
// is case-insensitive on substrings so "High", "HIGH PRIORITY", and
// "severity: high" all land on high. Unrecognized values fall to low.
func mapSeverity(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "critical"), strings.Contains(lower, "blocker"):
		return report.SeverityCritical
	case strings.Contains(lower, "high"), strings.Contains(lower, "major"):
		return report.SeverityHigh
	case strings.Contains(lower, "medium"), strings.Contains(lower, "moderate"):
		return report.SeverityMedium
	default:
		return report.SeverityLow
	}
}

// mapCategory folds a tool-reported category onto the fixed set, falling
// back to the catch-all bucket.
func mapCategory(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "secur"), strings.Contains(lower, "vuln"):
		return report.CategorySecurity
	case strings.Contains(lower, "correct"), strings.Contains(lower, "bug"), strings.Contains(lower, "logic"):
		return report.CategoryCorrectness
	case strings.Contains(lower, "perf"):
		return report.CategoryPerformance
	case strings.Contains(lower, "maintain"), strings.Contains(lower, "refactor"), strings.Contains(lower, "complex"):
		return report.CategoryMaintainability
	case strings.Contains(lower, "test"):
		return report.CategoryTesting
	case strings.Contains(lower, "style"), strings.Contains(lower, "format"), strings.Contains(lower, "lint"):
		return report.CategoryStyle
	case strings.Contains(lower, "doc"):
		return report.CategoryDocs
	default:
		return report.CategoryOther
	}
}

// mapStatus folds an assumption status onto the fixed set. Unrecognized
// values become uncertain, which keeps them visible in the gate summary.
func mapStatus(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "valid") && !strings.Contains(lower, "invalid"):
		return report.StatusValidated
	case strings.Contains(lower, "fals"), strings.Contains(lower, "reject"), strings.Contains(lower, "invalid"):
		return report.StatusFalsified
	default:
		return report.StatusUncertain
	}
}

// canonicalLines folds the line locus shapes tools emit into one string
// form: 42, "42", "10-20", and {"start":10,"end":20} are all accepted.
func canonicalLines(v any) string {
	switch locus := v.(type) {
	case string:
		return strings.TrimSpace(locus)
	case float64:
		return formatNumber(locus)
	case map[string]any:
		start, hasStart := locus["start"].(float64)
		end, hasEnd := locus["end"].(float64)
		switch {
		case hasStart && hasEnd:
			return formatNumber(start) + "-" + formatNumber(end)
		case hasStart:
			return formatNumber(start)
		case hasEnd:
			return formatNumber(end)
		}
	}
	return ""
}

// flattenEvidence folds one evidence entry to the canonical "file:locus"
// string form.
func flattenEvidence(v any) string {
	switch ev := v.(type) {
	case string:
		return strings.TrimSpace(ev)
	case map[string]any:
		file := strings.TrimSpace(asString(ev["file"]))
		locus := canonicalLines(firstPresent(ev, "lines", "line", "locus", "location"))
		switch {
		case file != "" && locus != "":
			return file + ":" + locus
		case file != "":
			return file
		case locus != "":
			return locus
		}
		if text := strings.TrimSpace(asString(ev["text"])); text != "" {
			return text
		}
		return stringify(ev)
	default:
		return stringify(v)
	}
}

func flattenEvidenceList(v any) []string {
	switch list := v.(type) {
	case []any:
		var out []string
		for _, entry := range list {
			if s := flattenEvidence(entry); s != "" {
				out = append(out, s)
			}
		}
		return out
	case nil:
		return nil
	default:
		if s := flattenEvidence(v); s != "" {
			return []string{s}
		}
		return nil
	}
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asBool coerces JSON booleans. Null and absent values become false; the
// schema has no tri-state booleans.
func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStringSlice(v any) []string {
	switch list := v.(type) {
	case []any:
		var out []string
		for _, entry := range list {
			if s := strings.TrimSpace(stringify(entry)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(list); s != "" {
			return []string{s}
		}
	}
	return nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return formatNumber(val)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
