// Package gate folds the per-tool review reports into a single pass or fail
// verdict and renders the aggregate artifacts. Every enabled provider owns
// one slot; a slot with no report still participates as a failure, so a
// crashed tool can never be silently dropped from the verdict.
package gate

import (
	"errors"
	"os"
	"sort"
	"time"

	"github.com/casepot/multi-model-review-pipeline/internal/report"
	"github.com/casepot/multi-model-review-pipeline/internal/workspace"
)

// ErrGateFailed is returned by commands whose exit code mirrors the verdict.
// It marks a failing gate, not a broken pipeline.
var ErrGateFailed = errors.New("review gate failed")

// Slot statuses.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"   // report file missing or unreadable
	StatusUnusable = "unusable" // loaded but carries no findings and no summary
)

// Verdict values. gate.txt carries exactly one of these tokens.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// SlotSpec names one expected report: the tool that owes it and the model it
// was configured to run. Order of specs fixes the order of every aggregate
// listing.
type SlotSpec struct {
	Tool  string
	Model string
}

// Slot is one provider's contribution to the aggregate.
type Slot struct {
	Tool     string
	Model    string
	Status   string
	Report   *report.Report
	Warnings []string
	RawBytes int64 // size of the preserved raw capture, when one exists
}

// BlockingFinding is a must-fix entry annotated with the tool that reported
// it.
type BlockingFinding struct {
	Tool string
	report.Finding
}

// UncertainAssumption is an unverified assumption annotated with the first
// tool that reported it.
type UncertainAssumption struct {
	Tool string
	Text string
}

// Summary is the aggregate outcome across all slots.
type Summary struct {
	Slots     []Slot
	MustFix   []BlockingFinding
	Uncertain []UncertainAssumption
	Verdict   string
}

// Aggregate loads one report per slot from the reports directory and folds
// them into a Summary. The result is a pure function of the files on disk
// and the slot order; now only feeds timestamps of in-memory placeholders
// and never reaches the rendered artifacts.
//
// Verdict rules, all required for pass:
//  1. Every slot is ok with zero validation warnings.
//  2. The must-fix union is empty.
//  3. Every slot's report declares exit_criteria.ready_for_pr == true.
func Aggregate(layout *workspace.Layout, specs []SlotSpec, now time.Time) *Summary {
	s := &Summary{}
	for _, spec := range specs {
		s.Slots = append(s.Slots, loadSlot(layout, spec, now))
	}

	seen := make(map[string]bool)
	for _, slot := range s.Slots {
		if slot.Status != StatusOK {
			continue
		}

		var blocking []BlockingFinding
		for _, f := range slot.Report.Findings {
			if f.Blocking() {
				blocking = append(blocking, BlockingFinding{Tool: slot.Tool, Finding: f})
			}
		}
		sort.SliceStable(blocking, func(i, j int) bool {
			if blocking[i].File != blocking[j].File {
				return blocking[i].File < blocking[j].File
			}
			if blocking[i].Lines != blocking[j].Lines {
				return blocking[i].Lines < blocking[j].Lines
			}
			return blocking[i].Message < blocking[j].Message
		})
		s.MustFix = append(s.MustFix, blocking...)

		for _, a := range slot.Report.Assumptions {
			if a.Status != report.StatusUncertain || a.Text == "" {
				continue
			}
			if seen[a.Text] {
				continue
			}
			seen[a.Text] = true
			s.Uncertain = append(s.Uncertain, UncertainAssumption{Tool: slot.Tool, Text: a.Text})
		}
	}

	s.Verdict = verdict(s)
	return s
}

// loadSlot reads and validates one report file. A missing or undecodable
// file yields a failed slot with a placeholder report; the byte length of
// any preserved raw capture is annotated for forensics.
func loadSlot(layout *workspace.Layout, spec SlotSpec, now time.Time) Slot {
	slot := Slot{Tool: spec.Tool, Model: spec.Model, Status: StatusOK}

	data, err := layout.ReadFile(layout.ReportPath(spec.Tool))
	if err != nil {
		return failedSlot(layout, spec, now)
	}
	r, err := report.Decode(data)
	if err != nil {
		return failedSlot(layout, spec, now)
	}

	// Validation runs on the decoded state so missing lists are reported
	// before FillEmpty papers over them.
	slot.Warnings = report.Validate(r)
	r.FillEmpty()
	slot.Report = r

	if r.Unusable() {
		slot.Status = StatusUnusable
	}
	return slot
}

func failedSlot(layout *workspace.Layout, spec SlotSpec, now time.Time) Slot {
	slot := Slot{
		Tool:   spec.Tool,
		Model:  spec.Model,
		Status: StatusFailed,
		Report: report.NewPlaceholder(spec.Tool, spec.Model, report.TagMissingReport, now),
	}
	if info, err := os.Stat(layout.RawPath(spec.Tool)); err == nil {
		slot.RawBytes = info.Size()
	}
	return slot
}

func verdict(s *Summary) string {
	if s.ErrorCount() > 0 {
		return VerdictFail
	}
	if len(s.MustFix) > 0 {
		return VerdictFail
	}
	for _, slot := range s.Slots {
		if slot.Report == nil || !slot.Report.ExitCriteria.ReadyForPR {
			return VerdictFail
		}
	}
	return VerdictPass
}

// ErrorCount totals the aggregation errors: slots that failed or were
// unusable, plus every validation warning.
func (s *Summary) ErrorCount() int {
	n := 0
	for _, slot := range s.Slots {
		if slot.Status != StatusOK {
			n++
		}
		n += len(slot.Warnings)
	}
	return n
}

// Passed reports whether the gate is open.
func (s *Summary) Passed() bool {
	return s.Verdict == VerdictPass
}
