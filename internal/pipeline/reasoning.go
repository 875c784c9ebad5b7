package pipeline

import (
	"strings"

	"github.com/korahq/kora/pkg/ai"
)

// Some models emit their chain of thought inline, wrapped in think tags at
// the start of the text channel, instead of using a native reasoning
// channel. splitReasoning rewrites such streams so that everything before
// the closing tag flows as Reasoning events and everything after as Text.
const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// splitReasoning transforms a driver stream in-flight. Streams that do not
// open with a think tag pass through unchanged. The tag may be split across
// chunk boundaries.
func splitReasoning(in <-chan ai.ConverseResponse) <-chan ai.ConverseResponse {
	out := make(chan ai.ConverseResponse, 32)
	go func() {
		defer close(out)

		var buf string
		deciding := true // still determining whether the stream opens with a think tag
		thinking := false

		flush := func() {
			if buf == "" {
				return
			}
			if thinking {
				out <- ai.ConverseResponse{Reasoning: buf}
			} else {
				out <- ai.ConverseResponse{Text: buf}
			}
			buf = ""
		}

		for ev := range in {
			if ev.Text == "" {
				if ev.Done {
					flush()
				}
				out <- ev
				continue
			}

			buf += ev.Text
			if deciding {
				trimmed := strings.TrimLeft(buf, " \t\r\n")
				if trimmed == "" || (len(trimmed) < len(thinkOpen) && strings.HasPrefix(thinkOpen, trimmed)) {
					continue // not enough bytes to decide yet
				}
				deciding = false
				if strings.HasPrefix(trimmed, thinkOpen) {
					thinking = true
					buf = trimmed[len(thinkOpen):]
				} else {
					buf = trimmed
				}
			}

			if thinking {
				if idx := strings.Index(buf, thinkClose); idx >= 0 {
					if idx > 0 {
						out <- ai.ConverseResponse{Reasoning: buf[:idx]}
					}
					buf = buf[idx+len(thinkClose):]
					thinking = false
				} else {
					// Hold back any suffix that could be the start of the
					// closing tag arriving in the next chunk.
					keep := partialSuffix(buf, thinkClose)
					if n := len(buf) - keep; n > 0 {
						out <- ai.ConverseResponse{Reasoning: buf[:n]}
						buf = buf[n:]
					}
					continue
				}
			}

			if buf != "" {
				out <- ai.ConverseResponse{Text: buf}
				buf = ""
			}
		}
		flush()
	}()
	return out
}

// partialSuffix returns the length of the longest proper prefix of token
// that s ends with.
func partialSuffix(s, token string) int {
	max := len(token) - 1
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, token[:n]) {
			return n
		}
	}
	return 0
}

// SplitReasoningText splits a completed synchronous response on the
// end-of-thinking sentinel. reasoning is empty when no sentinel is present.
func SplitReasoningText(text string) (reasoning, answer string) {
	idx := strings.Index(text, thinkClose)
	if idx < 0 {
		return "", text
	}
	reasoning = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text[:idx]), thinkOpen))
	answer = strings.TrimSpace(text[idx+len(thinkClose):])
	return reasoning, answer
}
