package format

import (
	"math/rand/v2"
	"strings"
	"testing"
)

func TestStripMarkdown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"bold", "a **bold** word", "a bold word"},
		{"italic", "an *italic* word", "an italic word"},
		{"nested emphasis", "***both***", "both"},
		{"inline code", "run `go test` now", "run go test now"},
		{"strike", "~~old~~ new", "old new"},
		{"heading", "## Title", "Title"},
		{"dash list", "- one\n- two", "• one\n• two"},
		{"plus list", "+ one", "• one"},
		{"numbered list", "1. first\n2. second", "• first\n• second"},
		{"link", "see [the docs](https://example.com)", "see the docs"},
		{"multiline bold", "**a\nb**", "a\nb"},
		{"trim", "  \n text \n ", "text"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripMarkdown(tt.in); got != tt.want {
				t.Errorf("StripMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripMarkdown_Idempotent(t *testing.T) {
	t.Parallel()
	fixed := []string{
		"* * x",
		"**a*b**",
		"- - - x",
		"1. 2. 3. x",
		"# # ## heading",
		"[[a](b)](c)",
		"`*`*`",
		"-\n-\n-",
	}
	for _, in := range fixed {
		once := StripMarkdown(in)
		if twice := StripMarkdown(once); twice != once {
			t.Errorf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}

	const alphabet = "*_`~#-+1. []()\nab"
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		var b strings.Builder
		n := r.IntN(40)
		for j := 0; j < n; j++ {
			b.WriteByte(alphabet[r.IntN(len(alphabet))])
		}
		in := b.String()
		once := StripMarkdown(in)
		if twice := StripMarkdown(once); twice != once {
			t.Fatalf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}
