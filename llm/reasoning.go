package llm

import (
	"regexp"
	"strings"
)

// Reasoning delimiters emitted by reasoning models around hidden thoughts.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

var thinkSpan = regexp.MustCompile(`(?s)<think>.*?</think>`)

// RepairReasoning fixes the reasoning delimiters in a model reply.
//
// It returns ok=false for a reply that opens a reasoning block without
// closing it; such a reply is truncated and should be regenerated. A reply
// that only closes a block gets the opening delimiter prepended. When both
// delimiters are present every delimited span is removed.
func RepairReasoning(text string) (string, bool) {
	hasOpen := strings.Contains(text, ThinkOpen)
	hasClose := strings.Contains(text, ThinkClose)

	switch {
	case hasOpen && !hasClose:
		return "", false
	case hasClose && !hasOpen:
		return ThinkOpen + text, true
	case hasOpen && hasClose:
		return stripReasoning(text), true
	default:
		return text, true
	}
}

// stripReasoning removes paired spans, then whatever a stray delimiter still
// encloses: text before a dangling close and text after a dangling open.
func stripReasoning(text string) string {
	text = thinkSpan.ReplaceAllString(text, "")
	if i := strings.LastIndex(text, ThinkClose); i >= 0 {
		text = text[i+len(ThinkClose):]
	}
	if i := strings.Index(text, ThinkOpen); i >= 0 {
		text = text[:i]
	}
	return text
}
