// Package testsummary turns JUnit XML results and coverage JSON into the
// compact test-context document the review prompt embeds. Reviewers see
// what the test run actually did instead of trusting the diff.
package testsummary

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"strings"
)

// maxFailureDetails caps how many failing tests are listed in the summary.
const maxFailureDetails = 5

// Summary is the combined test-context document.
type Summary struct {
	Tests    *TestStats `json:"tests"`
	Coverage Coverage   `json:"coverage"`
	Success  bool       `json:"success"`
	PassRate *float64   `json:"pass_rate,omitempty"`
}

// TestStats aggregates one JUnit result file.
type TestStats struct {
	Total      int        `json:"total"`
	Passed     int        `json:"passed"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Duration   float64    `json:"duration"`
	Categories Categories `json:"categories"`
	Failures   []Failure  `json:"failures"`
}

// Categories buckets test cases by the kind of test their classname
// suggests.
type Categories struct {
	Unit        int `json:"unit"`
	Integration int `json:"integration"`
	E2E         int `json:"e2e"`
	Other       int `json:"other"`
}

// Failure describes one failing test case.
type Failure struct {
	Test    string `json:"test"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Coverage carries the overall line coverage when a coverage file was
// provided. Percentage stays null when coverage was not collected.
type Coverage struct {
	Enabled    bool     `json:"enabled"`
	Percentage *float64 `json:"percentage"`
}

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	XMLName  xml.Name     `xml:"testsuite"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     float64      `xml:"time,attr"`
	Cases    []junitCase  `xml:"testcase"`
	Nested   []junitSuite `xml:"testsuite"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *junitFailure `xml:"failure"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}

// ParseJUnit extracts test statistics from a JUnit XML document. Both a
// <testsuites> root and a bare <testsuite> root are accepted. Totals come
// from top-level suite attributes only, since nested suites already
// aggregate their children; cases are walked recursively.
func ParseJUnit(data []byte) (*TestStats, error) {
	var suites []junitSuite

	var multi junitSuites
	if err := xml.Unmarshal(data, &multi); err == nil {
		suites = multi.Suites
	} else {
		var single junitSuite
		if err := xml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to parse JUnit XML: %w", err)
		}
		suites = []junitSuite{single}
	}

	stats := &TestStats{}
	var totalTime float64
	for _, s := range suites {
		stats.Total += s.Tests
		stats.Failed += s.Failures + s.Errors
		stats.Skipped += s.Skipped
		totalTime += s.Time
	}
	stats.Passed = stats.Total - stats.Failed - stats.Skipped
	stats.Duration = round(totalTime, 2)

	walkSuites(suites, func(s junitSuite) {
		for _, c := range s.Cases {
			classname := strings.ToLower(c.ClassName)
			switch {
			case strings.Contains(classname, "unit"):
				stats.Categories.Unit++
			case strings.Contains(classname, "integration"):
				stats.Categories.Integration++
			case strings.Contains(classname, "e2e"), strings.Contains(classname, "end_to_end"):
				stats.Categories.E2E++
			default:
				stats.Categories.Other++
			}

			if c.Failure != nil && len(stats.Failures) < maxFailureDetails {
				f := Failure{
					Test:    c.ClassName + "." + c.Name,
					Message: c.Failure.Message,
					Type:    c.Failure.Type,
				}
				if f.Message == "" {
					f.Message = "No message"
				}
				if f.Type == "" {
					f.Type = "AssertionError"
				}
				stats.Failures = append(stats.Failures, f)
			}
		}
	})

	return stats, nil
}

func walkSuites(suites []junitSuite, fn func(junitSuite)) {
	for _, s := range suites {
		fn(s)
		walkSuites(s.Nested, fn)
	}
}

// ParseCoverage extracts the overall coverage percentage from a coverage
// JSON document. Both the "totals" and the older "summary" layouts are
// accepted; nil means the document carries no percentage.
func ParseCoverage(data []byte) (*float64, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse coverage JSON: %w", err)
	}

	for _, section := range []string{"totals", "summary"} {
		m, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		if pct, ok := m["percent_covered"].(float64); ok {
			return &pct, nil
		}
	}
	return nil, nil
}

// Generate reads the JUnit file and the optional coverage file and builds
// the combined summary. coveragePath may be empty or point to a missing
// file; coverage is then reported as disabled.
func Generate(junitPath, coveragePath string) (*Summary, error) {
	junitData, err := os.ReadFile(junitPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read JUnit file: %w", err)
	}
	stats, err := ParseJUnit(junitData)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Tests:   stats,
		Success: stats.Failed == 0,
	}

	if coveragePath != "" {
		if data, err := os.ReadFile(coveragePath); err == nil {
			pct, err := ParseCoverage(data)
			if err != nil {
				return nil, err
			}
			if pct != nil {
				rounded := round(*pct, 1)
				summary.Coverage = Coverage{Enabled: true, Percentage: &rounded}
			}
		}
	}

	if stats.Total > 0 {
		rate := round(float64(stats.Passed)/float64(stats.Total), 3)
		summary.PassRate = &rate
	}

	return summary, nil
}

// Encode renders the summary as indented JSON with a trailing newline.
func (s *Summary) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode test summary: %w", err)
	}
	return append(data, '\n'), nil
}

func round(f float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(f*shift) / shift
}
