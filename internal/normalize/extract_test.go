package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
)

func TestScanBalanced(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"object in prose", `leading text {"a": 1} trailing`, `{"a": 1}`},
		{"braces inside string", `{"m": "x{y}z"}`, `{"m": "x{y}z"}`},
		{"escaped quote in string", `{"m": "he said \"hi\" {"}`, `{"m": "he said \"hi\" {"}`},
		{"nested structures", `{"a": {"b": [1, {"c": 2}]}} extra`, `{"a": {"b": [1, {"c": 2}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, truncated := scanBalanced(tt.text)
			if truncated != nil {
				t.Fatalf("scanBalanced(%q) returned truncated candidate, want complete slice", tt.text)
			}
			if complete != tt.want {
				t.Errorf("scanBalanced(%q) = %q, want %q", tt.text, complete, tt.want)
			}
		})
	}
}

func TestScanBalancedNoObject(t *testing.T) {
	for _, text := range []string{"", "no json here", "[1, 2, 3]"} {
		complete, truncated := scanBalanced(text)
		if complete != "" || truncated != nil {
			t.Errorf("scanBalanced(%q) = (%q, %v), want nothing", text, complete, truncated)
		}
	}
}

func TestScanBalancedMismatchedCloser(t *testing.T) {
	// A wrong closer means corruption, not truncation. There is nothing to
	// repair.
	complete, truncated := scanBalanced(`{"a": ]}`)
	if complete != "" || truncated != nil {
		t.Errorf("scanBalanced = (%q, %v), want rejection of mismatched closer", complete, truncated)
	}
}

func TestScanBalancedTruncated(t *testing.T) {
	complete, truncated := scanBalanced(`{"a": [1, 2`)
	if complete != "" {
		t.Fatalf("complete = %q, want truncated candidate", complete)
	}
	if truncated == nil {
		t.Fatal("truncated = nil, want candidate with repair state")
	}
	if truncated.slice != `{"a": [1, 2` {
		t.Errorf("slice = %q", truncated.slice)
	}
	if string(truncated.open) != "}]" {
		t.Errorf("open = %q, want }] in push order", truncated.open)
	}
	if truncated.inString {
		t.Error("inString = true, want false")
	}
}

func TestRepairTruncated(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"open string", `{"a": "x`, `{"a": "x"}`},
		{"trailing comma", `{"a": 1,`, `{"a": 1}`},
		{"value-less key", `{"a":`, `{"a": null}`},
		{"open array", `{"list": [1, 2,`, `{"list": [1, 2]}`},
		{"dangling escape", `{"m": "end\`, `{"m": "end"}`},
		{"deep nesting", `{"findings": [{"severity": "hig`, `{"findings": [{"severity": "hig"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, truncated := scanBalanced(tt.text)
			if complete != "" || truncated == nil {
				t.Fatalf("scanBalanced(%q) = (%q, %v), want truncated candidate", tt.text, complete, truncated)
			}

			repaired := repairTruncated(truncated)
			if repaired != tt.want {
				t.Errorf("repairTruncated(%q) = %q, want %q", tt.text, repaired, tt.want)
			}
			if !json.Valid([]byte(repaired)) {
				t.Errorf("repaired candidate %q is not valid JSON", repaired)
			}
		})
	}
}

func TestFencedBlocks(t *testing.T) {
	text := "intro\n" +
		"```go\nfunc main() {}\n```\n" +
		"```\n{\"untagged\": true}\n```\n" +
		"```json\n{\"tagged\": true}\n```\n"

	blocks := fencedBlocks(text)
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2 (language fences skipped)", len(blocks))
	}
	if blocks[0] != `{"tagged": true}` {
		t.Errorf("blocks[0] = %q, want the json-tagged fence first", blocks[0])
	}
	if blocks[1] != `{"untagged": true}` {
		t.Errorf("blocks[1] = %q, want the untagged fence second", blocks[1])
	}
}

func TestFencedBlocksUnclosedFence(t *testing.T) {
	text := "result below\n```json\n{\"a\": 1}"
	blocks := fencedBlocks(text)
	if len(blocks) != 1 || blocks[0] != `{"a": 1}` {
		t.Errorf("blocks = %v, want content of the unclosed fence", blocks)
	}
}

func TestEventStreamResult(t *testing.T) {
	t.Run("claude result event", func(t *testing.T) {
		text := `{"type":"system"}` + "\n" +
			`{"type":"result","result":"the answer"}`
		payload, ok := eventStreamResult(text)
		if !ok {
			t.Fatal("eventStreamResult() found nothing")
		}
		if payload != "the answer" {
			t.Errorf("payload = %v, want the result value", payload)
		}
	})

	t.Run("codex agent message", func(t *testing.T) {
		text := `{"id":"0","msg":{"type":"task_started"}}` + "\n" +
			fmt.Sprintf(`{"id":"1","msg":{"type":"agent_message","message":%s}}`, strconv.Quote("final text")) + "\n" +
			`{"id":"2","msg":{"type":"token_count"}}`
		payload, ok := eventStreamResult(text)
		if !ok {
			t.Fatal("eventStreamResult() found nothing")
		}
		if payload != "final text" {
			t.Errorf("payload = %v, want the agent message", payload)
		}
	})

	t.Run("event that is a report", func(t *testing.T) {
		text := `{"type":"noise"}` + "\n" +
			`{"summary": "direct", "findings": []}`
		payload, ok := eventStreamResult(text)
		if !ok {
			t.Fatal("eventStreamResult() found nothing")
		}
		obj, isMap := payload.(map[string]any)
		if !isMap || obj["summary"] != "direct" {
			t.Errorf("payload = %v, want the report object itself", payload)
		}
	})

	t.Run("single line is not a stream", func(t *testing.T) {
		if _, ok := eventStreamResult(`{"type":"result","result":"x"}`); ok {
			t.Error("single line treated as a stream")
		}
	})

	t.Run("prose tail is not a stream", func(t *testing.T) {
		text := `{"type":"result","result":"x"}` + "\nplain trailing prose"
		if _, ok := eventStreamResult(text); ok {
			t.Error("text with non-JSON last line treated as a stream")
		}
	})
}
