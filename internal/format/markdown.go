// Package format turns assistant replies into plain text suitable for speech
// synthesis.
package format

import (
	"regexp"
	"strings"
)

// Bullet replaces list markers in stripped text.
const Bullet = "• "

type rule struct {
	re   *regexp.Regexp
	repl string
}

// rules are applied in order on every pass.
var rules = []rule{
	{regexp.MustCompile(`(?s)\*\*(.*?)\*\*`), "${1}"},
	{regexp.MustCompile(`(?s)\*(.*?)\*`), "${1}"},
	{regexp.MustCompile("(?s)`(.*?)`"), "${1}"},
	{regexp.MustCompile(`(?s)~~(.*?)~~`), "${1}"},
	{regexp.MustCompile(`#{1,6}\s*(.*)`), "${1}"},
	{regexp.MustCompile(`(?m)^\s*[-+*]\s+`), Bullet},
	{regexp.MustCompile(`(?m)^\s*\d+\.\s+`), Bullet},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`), "${1}"},
}

// StripMarkdown removes emphasis, inline code, strike-through, heading
// markers and link targets from s, turns list markers into bullets and trims
// surrounding whitespace.
//
// The rules are reapplied until the text stops changing, so
// StripMarkdown(StripMarkdown(s)) == StripMarkdown(s). Every rule that fires
// deletes at least one marker character, which bounds the number of passes.
func StripMarkdown(s string) string {
	for {
		next := strings.TrimSpace(pass(s))
		if next == s {
			return s
		}
		s = next
	}
}

func pass(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}
