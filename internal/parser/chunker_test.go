package parser_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"notes-rag/internal/parser"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		size    int
		want    []string
	}{
		{name: "empty", content: "", size: 5, want: nil},
		{name: "shorter than size", content: "abc", size: 5, want: []string{"abc"}},
		{name: "exact multiple", content: "abcdef", size: 3, want: []string{"abc", "def"}},
		{name: "short tail", content: "abcdefg", size: 3, want: []string{"abc", "def", "g"}},
		{name: "multi-byte runes", content: "äöüß€", size: 2, want: []string{"äö", "üß", "€"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.ChunkText(tt.content, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("ChunkText() returned %d chunks %q, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChunkTextReassembles(t *testing.T) {
	inputs := []string{
		strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40),
		"single",
		"línea uno\nlínea dos\n\ttabbed",
		string([]byte{'a', 0xff, 'b', 0xfe}),
	}
	for _, content := range inputs {
		for _, size := range []int{1, 2, 7, 500, 10000} {
			chunks := parser.ChunkText(content, size)
			if joined := strings.Join(chunks, ""); joined != content {
				t.Fatalf("size %d: joined chunks differ from input", size)
			}
			for i, c := range chunks {
				if n := utf8.RuneCountInString(c); n > size {
					t.Errorf("size %d: chunk %d has %d characters", size, i, n)
				}
				if c == "" {
					t.Errorf("size %d: chunk %d is empty", size, i)
				}
			}
		}
	}
}

func TestChunkTextDefaultSize(t *testing.T) {
	chunks := parser.ChunkText(strings.Repeat("x", 1200), 0)
	if len(chunks) != 3 || len(chunks[0]) != 500 || len(chunks[2]) != 200 {
		t.Errorf("unexpected default chunking: %d chunks", len(chunks))
	}
}
