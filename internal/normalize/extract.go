package normalize

import (
	"encoding/json"
	"strings"
)

// parseObject attempts to parse text as a single JSON object. Arrays,
// scalars, and null are not candidate reports.
func parseObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}
	if obj == nil {
		return nil, false
	}
	return obj, true
}

// fencedBlocks returns the contents of markdown code fences found in text,
// json-tagged blocks first in document order, then untagged ones. Fences
// tagged with another language are skipped. A fence left unclosed at the end
// of the text still contributes its content, since tools get cut off after
// the opening fence.
func fencedBlocks(text string) []string {
	var tagged, untagged []string

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "```") {
			continue
		}
		tag := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "```")))

		var body []string
		for i++; i < len(lines); i++ {
			if strings.TrimSpace(lines[i]) == "```" {
				break
			}
			body = append(body, lines[i])
		}

		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content == "" {
			continue
		}
		switch tag {
		case "json":
			tagged = append(tagged, content)
		case "":
			untagged = append(untagged, content)
		}
	}

	return append(tagged, untagged...)
}

// eventStreamResult scans a line-delimited JSON event stream backward for
// the event carrying the final payload. claude --output-format stream-json
// marks it {"type":"result","result":...}; the codex event stream wraps it
// as {"msg":{"type":"agent_message","message":...}}. A trailing event that
// is itself a full report is accepted directly. The text only counts as a
// stream when it has at least two non-empty lines and the last one parses
// as a JSON object.
func eventStreamResult(text string) (any, bool) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) < 2 {
		return nil, false
	}
	if _, ok := parseObject(lines[len(lines)-1]); !ok {
		return nil, false
	}

	for i := len(lines) - 1; i >= 0; i-- {
		event, ok := parseObject(lines[i])
		if !ok {
			continue
		}
		if hasReportKeys(event) {
			return event, true
		}
		if t, _ := event["type"].(string); t == "result" {
			if v, ok := event["result"]; ok {
				return v, true
			}
		}
		if msg, ok := event["msg"].(map[string]any); ok {
			if t, _ := msg["type"].(string); t == "agent_message" {
				if s, ok := msg["message"].(string); ok {
					return s, true
				}
			}
		}
	}

	return nil, false
}

// truncatedCandidate is an unbalanced bracket-scan result: the slice runs
// from the first '{' to the end of the text, together with the bracket
// stack and string state at the point the text ran out.
type truncatedCandidate struct {
	slice    string
	open     []byte
	inString bool
	escaped  bool
}

// scanBalanced finds the first '{' in text and walks to its matching '}'
// tracking string-literal and escape state, so brackets inside quoted
// strings do not count. On balance it returns the complete slice. When the
// text ends before the structure closes it returns a truncatedCandidate
// carrying repair state. A mismatched closer means the structure is corrupt
// rather than truncated, and yields neither.
func scanBalanced(text string) (string, *truncatedCandidate) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", nil
	}

	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", nil
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", &truncatedCandidate{
		slice:    text[start:],
		open:     stack,
		inString: inString,
		escaped:  escaped,
	}
}

// repairTruncated closes a candidate where the text was cut off: a dangling
// escape is dropped, an open string literal is terminated, a trailing
// separator is removed, a value-less key gets null, and the open brackets
// are closed innermost first. Interior content is never modified.
func repairTruncated(c *truncatedCandidate) string {
	s := c.slice
	if c.inString {
		if c.escaped {
			s = s[:len(s)-1]
		}
		s += `"`
	}

	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, ",")
	if strings.HasSuffix(s, ":") {
		s += " null"
	}

	var closers strings.Builder
	for i := len(c.open) - 1; i >= 0; i-- {
		closers.WriteByte(c.open[i])
	}
	return s + closers.String()
}
