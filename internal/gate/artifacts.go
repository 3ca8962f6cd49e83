package gate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

// VerdictDoc is the machine-readable verdict written to gate.json. CI
// annotations and the run ledger consume this instead of parsing the
// markdown summary.
type VerdictDoc struct {
	Verdict        string       `json:"verdict"`
	Slots          []SlotStatus `json:"slots"`
	ErrorCount     int          `json:"error_count"`
	MustFixCount   int          `json:"must_fix_count"`
	UncertainCount int          `json:"uncertain_count"`
}

// SlotStatus is the per-slot portion of the verdict document.
type SlotStatus struct {
	Tool     string   `json:"tool"`
	Status   string   `json:"status"`
	Findings int      `json:"findings_count"`
	MustFix  int      `json:"must_fix_count"`
	Ready    bool     `json:"ready_for_pr"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	RawBytes int64    `json:"raw_bytes,omitempty"`
}

// Doc builds the machine-readable verdict from the summary.
func (s *Summary) Doc() VerdictDoc {
	doc := VerdictDoc{
		Verdict:        s.Verdict,
		ErrorCount:     s.ErrorCount(),
		MustFixCount:   len(s.MustFix),
		UncertainCount: len(s.Uncertain),
	}
	for _, slot := range s.Slots {
		status := SlotStatus{
			Tool:     slot.Tool,
			Status:   slot.Status,
			Warnings: slot.Warnings,
			RawBytes: slot.RawBytes,
		}
		if slot.Report != nil {
			status.Findings = len(slot.Report.Findings)
			status.Ready = slot.Report.ExitCriteria.ReadyForPR
			status.Error = slot.Report.Error
			for _, f := range slot.Report.Findings {
				if f.Blocking() {
					status.MustFix++
				}
			}
		}
		doc.Slots = append(doc.Slots, status)
	}
	return doc
}

// RenderSummary renders the aggregate as a markdown document. The output is
// a pure function of the summary: identical inputs produce identical bytes,
// and no wall-clock content appears anywhere in it.
func RenderSummary(s *Summary) []byte {
	var b strings.Builder

	b.WriteString("# Review Gate Summary\n\n")

	b.WriteString("## Tools\n\n")
	b.WriteString("| Tool | Model | Status | Findings | Must-Fix | Ready |\n")
	b.WriteString("|------|-------|--------|----------|----------|-------|\n")
	for _, slot := range s.Slots {
		findings, mustFix := 0, 0
		ready := "no"
		if slot.Report != nil {
			findings = len(slot.Report.Findings)
			for _, f := range slot.Report.Findings {
				if f.Blocking() {
					mustFix++
				}
			}
			if slot.Report.ExitCriteria.ReadyForPR {
				ready = "yes"
			}
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %s |\n",
			slot.Tool, slot.Model, slot.Status, findings, mustFix, ready))
	}
	b.WriteString("\n")

	b.WriteString("## Problems\n\n")
	problems := 0
	for _, slot := range s.Slots {
		switch slot.Status {
		case StatusFailed:
			line := fmt.Sprintf("- %s: report missing or unreadable", slot.Tool)
			if slot.RawBytes > 0 {
				line += fmt.Sprintf(" (raw capture preserved: %d bytes)", slot.RawBytes)
			}
			b.WriteString(line + "\n")
			problems++
		case StatusUnusable:
			b.WriteString(fmt.Sprintf("- %s: report unusable (no findings and no summary)\n", slot.Tool))
			problems++
		default:
			// Loaded reports can still carry a degradation tag from the
			// invocation (timeout, execution_failed, unparseable_output).
			if slot.Report != nil && slot.Report.Error != "" {
				b.WriteString(fmt.Sprintf("- %s: report tagged %s\n", slot.Tool, slot.Report.Error))
				problems++
			}
		}
		for _, w := range slot.Warnings {
			b.WriteString(fmt.Sprintf("- %s: %s\n", slot.Tool, w))
			problems++
		}
	}
	if problems == 0 {
		b.WriteString("None.\n")
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("## Must-Fix Findings (%d)\n\n", len(s.MustFix)))
	if len(s.MustFix) == 0 {
		b.WriteString("None.\n")
	}
	for _, f := range s.MustFix {
		loc := f.File
		if f.Lines != "" {
			loc += ":" + f.Lines
		}
		if loc == "" {
			loc = "(no location)"
		}
		b.WriteString(fmt.Sprintf("- [%s] %s/%s %s: %s\n", f.Tool, f.Severity, f.Category, loc, f.Message))
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("## Uncertain Assumptions (%d)\n\n", len(s.Uncertain)))
	if len(s.Uncertain) == 0 {
		b.WriteString("None.\n")
	}
	for _, a := range s.Uncertain {
		b.WriteString(fmt.Sprintf("- [%s] %s\n", a.Tool, a.Text))
	}
	b.WriteString("\n")

	b.WriteString("## Gate\n\n")
	b.WriteString("GATE: " + s.Verdict + "\n")

	return []byte(b.String())
}

// WriteArtifacts writes summary.md, gate.txt, and gate.json atomically
// inside the reports directory. gate.txt carries the bare verdict token
// with no trailing newline. A write failure here is a pipeline fault, not a
// gate verdict; callers must treat it as fatal.
func WriteArtifacts(layout *workspace.Layout, s *Summary) error {
	if err := layout.WriteFile(layout.SummaryPath(), RenderSummary(s)); err != nil {
		return fmt.Errorf("failed to write summary artifact: %w", err)
	}

	if err := layout.WriteFile(layout.GatePath(), []byte(s.Verdict)); err != nil {
		return fmt.Errorf("failed to write gate artifact: %w", err)
	}

	data, err := json.MarshalIndent(s.Doc(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	if err := layout.WriteFile(layout.VerdictPath(), append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write verdict artifact: %w", err)
	}
	return nil
}
