package llmjson

import (
	"reflect"
	"strings"
	"testing"
)

func TestParse_ValidFencedObject(t *testing.T) {
	t.Parallel()
	in := "Here is the result:\n```json\n{\"answer\": \"42\", \"citations\": [1, 2]}\n```\nLet me know if you need more."
	got := Parse(in)
	if String(got, "answer") != "42" {
		t.Errorf("answer = %q, want 42", String(got, "answer"))
	}
	if _, ok := got["citations"]; !ok {
		t.Error("citations key missing")
	}
}

func TestParse_TruncatedStream(t *testing.T) {
	t.Parallel()
	// A stream cut off mid string value must still surface the prefix.
	cases := []string{
		"```json\n{\"title\": \"Q2 review",
		"```json\n{\"title\": \"Q2 review\"",
		"{\"title\": \"Q2 review\",",
		"{\"title\": \"Q2 review\"}",
	}
	for _, in := range cases {
		got := ParseWithKey(in, "title")
		if String(got, "title") != "Q2 review" {
			t.Errorf("ParseWithKey(%q) title = %q, want %q", in, String(got, "title"), "Q2 review")
		}
	}
}

func TestParse_MissingLeadingBrace(t *testing.T) {
	t.Parallel()
	got := Parse(`"answer": "hello"}`)
	if String(got, "answer") != "hello" {
		t.Errorf("answer = %q, want hello", String(got, "answer"))
	}
}

func TestParse_UnescapedQuotesAndNewlines(t *testing.T) {
	t.Parallel()
	in := "{\"answer\": \"She said \"ship it\" and\nleft\"}"
	got := Parse(in)
	want := "She said \"ship it\" and\nleft"
	if String(got, "answer") != want {
		t.Errorf("answer = %q, want %q", String(got, "answer"), want)
	}
}

func TestParse_AnswerNullSentinel(t *testing.T) {
	t.Parallel()
	got := Parse(`I could not find anything so the answer null here.`)
	v, ok := got["answer"]
	if !ok || v != nil {
		t.Errorf("got %v, want explicit null answer", got)
	}
}

func TestParse_LineComments(t *testing.T) {
	t.Parallel()
	in := "{\n// the user asked for a title\n\"title\": \"Roadmap\" // done\n}"
	got := ParseWithKey(in, "title")
	if String(got, "title") != "Roadmap" {
		t.Errorf("title = %q, want Roadmap", String(got, "title"))
	}
}

func TestParse_Totality(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		"   \n\t  ",
		"no json here at all",
		"{{{{{",
		"}}}}}",
		"```json```",
		`{"a": }`,
		"\x00\x01\x02",
		strings.Repeat(`{"x":`, 50),
		`[1, 2, 3]`,
	}
	for _, in := range inputs {
		got := Parse(in)
		if got == nil {
			t.Errorf("Parse(%q) returned nil, must return an object", in)
		}
	}
}

func TestParse_TrailingContentAfterObject(t *testing.T) {
	t.Parallel()
	got := Parse(`{"answer": "done"} and then some trailing words`)
	if String(got, "answer") != "done" {
		t.Errorf("answer = %q, want done", String(got, "answer"))
	}
}

func TestBalance(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{`{"a": "b`, `{"a": "b"}`},
		{`{"a": ["x", "y`, `{"a": ["x", "y"]}`},
		{`{"a": "b",`, `{"a": "b"}`},
		{`{"a":`, `{"a":null}`},
		{`{}`, `{}`},
	}
	for _, tc := range cases {
		if got := Balance(tc.in); got != tc.want {
			t.Errorf("Balance(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStripFences(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"prefix text ```json\n{\"a\":1}\n``` suffix", `{"a":1}`},
		{"```json\n{\"a\":1}", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
	}
	for _, tc := range cases {
		if got := StripFences(tc.in); got != tc.want {
			t.Errorf("StripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAccessors(t *testing.T) {
	t.Parallel()
	m := map[string]any{
		"s":    "text",
		"b1":   true,
		"b2":   "True",
		"list": []any{"a", "", 3, "b"},
	}
	if String(m, "s") != "text" || String(m, "missing") != "" {
		t.Error("String accessor misbehaved")
	}
	if !Bool(m, "b1") || !Bool(m, "b2") || Bool(m, "missing") {
		t.Error("Bool accessor misbehaved")
	}
	if got := StringSlice(m, "list"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("StringSlice = %v, want [a b]", got)
	}
}
