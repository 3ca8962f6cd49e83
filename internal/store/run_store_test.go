package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestRunStoreRecordAndRecent(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open run store: %v", err)
	}
	defer s.Close()

	base := time.Date(2026, 2, 3, 4, 5, 0, 0, time.UTC)
	runs := []Run{
		{ID: "run-1", CreatedAt: base, Verdict: "pass", Providers: []string{"claude", "codex", "gemini"}, Findings: 2, DurationMs: 1200},
		{ID: "run-2", CreatedAt: base.Add(time.Minute), Verdict: "fail", Providers: []string{"claude"}, MustFix: 3, Findings: 7, DurationMs: 900},
		{ID: "run-3", CreatedAt: base.Add(2 * time.Minute), Verdict: "pass", Providers: []string{"codex"}, DurationMs: 400},
	}
	for _, r := range runs {
		if err := s.Record(r); err != nil {
			t.Fatalf("Record(%s) failed: %v", r.ID, err)
		}
	}

	got, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d runs, want 2", len(got))
	}
	if got[0].ID != "run-3" || got[1].ID != "run-2" {
		t.Errorf("Recent order = %s, %s; want newest first", got[0].ID, got[1].ID)
	}

	first := got[1]
	if first.Verdict != "fail" || first.MustFix != 3 || first.Findings != 7 || first.DurationMs != 900 {
		t.Errorf("Round-tripped run = %+v", first)
	}
	if !reflect.DeepEqual(first.Providers, []string{"claude"}) {
		t.Errorf("Providers = %v, want [claude]", first.Providers)
	}
	if !first.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v, want %v", first.CreatedAt, base.Add(time.Minute))
	}
}

func TestRunStoreReplacesSameID(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open run store: %v", err)
	}
	defer s.Close()

	run := Run{ID: "run-1", CreatedAt: time.Date(2026, 2, 3, 4, 5, 0, 0, time.UTC), Verdict: "fail", Providers: []string{"claude"}}
	if err := s.Record(run); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	run.Verdict = "pass"
	if err := s.Record(run); err != nil {
		t.Fatalf("Re-record failed: %v", err)
	}

	got, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent returned %d runs after re-record, want 1", len(got))
	}
	if got[0].Verdict != "pass" {
		t.Errorf("Verdict = %q, want replaced value", got[0].Verdict)
	}
}

func TestRunStoreEmpty(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open run store: %v", err)
	}
	defer s.Close()

	got, err := s.Recent(5)
	if err != nil {
		t.Fatalf("Recent on empty store failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent on empty store returned %d runs", len(got))
	}
}

func TestRunStoreDefaultsZeroTime(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open run store: %v", err)
	}
	defer s.Close()

	if err := s.Record(Run{ID: "run-1", Verdict: "pass", Providers: []string{"claude"}}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 || got[0].CreatedAt.IsZero() {
		t.Errorf("CreatedAt not defaulted: %+v", got)
	}
}

func TestRunStoreEmptyProviders(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open run store: %v", err)
	}
	defer s.Close()

	if err := s.Record(Run{ID: "run-1", Verdict: "fail"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got[0].Providers) != 0 {
		t.Errorf("Providers = %v, want none", got[0].Providers)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := s.Record(Run{ID: "run-1", Verdict: "pass"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Database file not created: %v", err)
	}
}
