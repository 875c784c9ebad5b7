// Package llmjson extracts structured objects from model output that may or
// may not be valid JSON. Models wrap objects in code fences, stop mid-stream,
// forget to escape quotes, or chat around the payload; every function here is
// total and the package never returns an error. Parsing a hopeless input
// yields an empty object, which streaming callers read as "nothing emitted
// yet".
package llmjson

import (
	"encoding/json"
	"strings"
)

// DefaultKey is the object key most prompts ask the model to answer under.
const DefaultKey = "answer"

// Parse extracts an object from model output using [DefaultKey] as the
// expected key marker.
func Parse(input string) map[string]any {
	return ParseWithKey(input, DefaultKey)
}

// ParseWithKey extracts an object from model output. key names the field the
// prompt asked for; it steers two recovery steps (prepending a lost opening
// brace, and the "answer null" rewrite) and may be empty.
//
// The stages run in order, each followed by a strict parse attempt:
// fence stripping and brace slicing, delimiter balancing for partial
// streams, string re-escaping, the "answer null" fixup, and comment and
// control-character stripping. The first attempt that yields an object wins.
func ParseWithKey(input, key string) map[string]any {
	s := strings.TrimSpace(input)
	if s == "" {
		return map[string]any{}
	}

	s = StripFences(s)
	if key != "" && !strings.HasPrefix(s, "{") && strings.Contains(s, `"`+key+`"`) {
		s = "{" + s
	}
	s = SliceBraces(s)

	if m, ok := parseStrict(s); ok {
		return m
	}
	if m, ok := parseStrict(Balance(s)); ok {
		return m
	}

	escaped := EscapeStrings(s)
	if m, ok := parseStrict(escaped); ok {
		return m
	}

	if key != "" && strings.Contains(input, "answer null") {
		return map[string]any{key: nil}
	}

	cleaned := EscapeStrings(StripComments(s))
	if m, ok := parseStrict(cleaned); ok {
		return m
	}
	if m, ok := parseStrict(Balance(cleaned)); ok {
		return m
	}
	// Last resort: balance the escaped form even though escaping may have
	// swallowed the real string terminator.
	if m, ok := parseStrict(Balance(escaped)); ok {
		return m
	}

	return map[string]any{}
}

// parseStrict decodes the first JSON value in s and requires it to be an
// object. Trailing content after the object is tolerated so that partial
// stream buffers with chatter after the payload still parse.
func parseStrict(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// StripFences removes a surrounding markdown code fence, dropping any
// chatter before the opening fence. Inputs without fences pass through.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, "```")
	if idx < 0 {
		return s
	}
	s = s[idx+3:]
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimPrefix(s, "JSON")
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// SliceBraces cuts s down to the span from the first '{' to the last '}'.
// If either is missing the input is returned unchanged so later recovery
// stages can still work on it.
func SliceBraces(s string) string {
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last < first {
		return s
	}
	return s[first : last+1]
}

// Balance closes delimiters a truncated stream left open: an unterminated
// string gets its closing quote, a dangling comma is dropped, a dangling
// colon gets a null, and open braces and brackets are closed innermost
// first.
func Balance(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
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
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	out := s
	if escaped {
		out = out[:len(out)-1]
	}
	if inString {
		out += `"`
	}
	out = strings.TrimRight(out, " \t\r\n")
	switch {
	case strings.HasSuffix(out, ","):
		out = out[:len(out)-1]
	case strings.HasSuffix(out, ":"):
		out += "null"
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

// EscapeStrings re-escapes raw newlines, tabs, and interior quote
// characters inside string values. A quote inside a string is treated as
// the terminator only when the next non-space byte could legally follow a
// string; otherwise it is escaped.
func EscapeStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			b.WriteByte(c)
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '"':
			if terminatesString(s[i+1:]) {
				inString = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// terminatesString reports whether rest can legally follow a closing quote.
func terminatesString(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ',', '}', ']', ':':
		return true
	}
	return false
}

// StripComments removes // line comments outside of strings, leftover fence
// markers, and stray control characters.
func StripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case c == '`':
			// fence leftovers
		case c < 0x20 && c != '\n' && c != '\t' && c != '\r':
			// stray control characters
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// String returns the string value under key, or "" when absent or not a
// string.
func String(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// Bool returns the boolean value under key, accepting the string forms
// "true" and "false" which some models emit.
func Bool(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}

// StringSlice returns the list of strings under key, dropping entries that
// are not strings or are blank.
func StringSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
