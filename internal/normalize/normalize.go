// Package normalize converts raw review-tool output into the canonical
// report schema. Tools emit JSON wrapped in envelopes, markdown fences, or
// event streams, surround it with prose, and frequently truncate it
// mid-structure. This package tries a fixed ladder of extraction strategies
// and degrades to an error-tagged placeholder instead of failing: Normalize
// always returns a schema-conformant report, never an error.
package normalize

import (
	"strings"
	"time"

	"github.com/casepot/multi-model-review-pipeline/internal/report"
)

// maxUnwrapDepth bounds recursive extraction through envelopes and event
// payloads so self-referencing output cannot loop.
const maxUnwrapDepth = 5

// Meta carries the identity the pipeline knows independently of the tool's
// output. Tool and model always overwrite whatever the tool claims about
// itself.
type Meta struct {
	Tool  string
	Model string
	PR    report.PRInfo
	Now   time.Time
}

// Normalize extracts a report from raw tool output. Every input yields a
// report: unusable output produces a placeholder tagged with the failure
// mode rather than an error.
func Normalize(raw string, meta Meta) *report.Report {
	if meta.Now.IsZero() {
		meta.Now = time.Now()
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return placeholder(meta, report.TagNoOutput,
			"Tool produced no output on stdout, stderr, or its answer file.")
	}

	obj, v := extractObject(text, maxUnwrapDepth)
	switch v {
	case verdictReport:
		return backfill(obj, meta)
	case verdictConfigEcho:
		return placeholder(meta, report.TagInvalidFormat,
			"Tool echoed configuration instead of producing a review report.")
	default:
		return placeholder(meta, report.TagUnparseable,
			"Could not extract a structured report from tool output: "+snippet(text, 500))
	}
}

type verdict int

const (
	verdictNone verdict = iota
	verdictReport
	verdictConfigEcho
)

// extractObject runs the extraction ladder over text: whole-document parse,
// fenced code blocks, line-delimited event streams, balanced bracket scan,
// then truncation repair. First strategy to yield a parseable object wins.
func extractObject(text string, depth int) (map[string]any, verdict) {
	if depth <= 0 {
		return nil, verdictNone
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, verdictNone
	}

	if obj, ok := parseObject(text); ok {
		return classify(obj, depth)
	}

	for _, body := range fencedBlocks(text) {
		if obj, ok := parseObject(body); ok {
			return classify(obj, depth)
		}
	}

	if payload, ok := eventStreamResult(text); ok {
		switch v := payload.(type) {
		case string:
			return extractObject(v, depth-1)
		case map[string]any:
			return classify(v, depth)
		}
	}

	complete, truncated := scanBalanced(text)
	if complete != "" {
		if obj, ok := parseObject(complete); ok {
			return classify(obj, depth)
		}
	} else if truncated != nil {
		if obj, ok := parseObject(repairTruncated(truncated)); ok {
			return classify(obj, depth)
		}
	}

	return nil, verdictNone
}

// classify decides what a successfully parsed object is: a structured-output
// envelope to unwrap, a config echo, or a candidate report. Envelopes unwrap
// one level per pass and the payload re-enters extraction.
func classify(obj map[string]any, depth int) (map[string]any, verdict) {
	if depth <= 0 {
		return nil, verdictNone
	}

	if !hasReportKeys(obj) {
		if inner, ok := envelopePayload(obj); ok {
			switch v := inner.(type) {
			case string:
				return extractObject(v, depth-1)
			case map[string]any:
				return classify(v, depth-1)
			}
		}
		if isConfigEcho(obj) {
			return nil, verdictConfigEcho
		}
	}

	return obj, verdictReport
}

// hasReportKeys reports whether the object carries any of the keys that only
// appear in review reports. An object with one of these is never treated as
// an envelope or a config echo.
func hasReportKeys(obj map[string]any) bool {
	for _, key := range []string{"findings", "summary", "assumptions", "exit_criteria"} {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}

// envelopePayload recognizes the wrappers the CLIs emit in structured-output
// mode: claude wraps the answer as {"type":"result","result":...} and gemini
// as {"response":...}. Only string and object payloads are extractable.
func envelopePayload(obj map[string]any) (any, bool) {
	for _, key := range []string{"result", "response"} {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch v.(type) {
		case string, map[string]any:
			return v, true
		}
	}
	return nil, false
}

// isConfigEcho detects a tool echoing the pipeline configuration back
// instead of reviewing. Keyed on fields that appear in config documents and
// never in reports; only reached when hasReportKeys is false.
func isConfigEcho(obj map[string]any) bool {
	if _, ok := obj["providers"]; ok {
		return true
	}
	if _, ok := obj["reports_dir"]; ok {
		return true
	}
	if _, ok := obj["prompt_file"]; ok {
		return true
	}
	if v, ok := obj["version"]; ok {
		if _, isNum := v.(float64); isNum {
			if _, ok := obj["pr"]; ok {
				return true
			}
		}
	}
	return false
}

func placeholder(meta Meta, tag, summary string) *report.Report {
	r := report.NewPlaceholder(meta.Tool, meta.Model, tag, meta.Now)
	r.PR = meta.PR
	r.Summary = summary
	return r
}

// snippet truncates s to maxLen characters, adding "..." if truncated.
func snippet(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
