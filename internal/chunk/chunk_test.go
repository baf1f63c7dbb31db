package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type runeTokenizer struct{}

func (runeTokenizer) Count(s string) int { return len([]rune(s)) }

func genWords(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("word")
	}
	return b.String()
}

func TestChunk_RespectsTokenBound(t *testing.T) {
	c := Chunker{Tokenizer: runeTokenizer{}}
	text := genWords(2000)
	chunks := c.Chunk(text, Options{MaxTokens: 200})
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		require.LessOrEqualf(t, c.count(ch.Text), 200, "chunk %d exceeded bound", ch.Index)
	}
}

func TestChunk_IndexDensity(t *testing.T) {
	c := Chunker{Tokenizer: runeTokenizer{}}
	chunks := c.Chunk(genWords(500), Options{MaxTokens: 50})
	for i, ch := range chunks {
		require.Equal(t, i, ch.Index)
	}
}

func TestChunk_TracksSectionPath(t *testing.T) {
	c := Chunker{Tokenizer: runeTokenizer{}}
	text := "# Title\n\nintro paragraph.\n\n## Sub\n\nsub paragraph text."
	chunks := c.Chunk(text, Options{MaxTokens: 500})
	var found bool
	for _, ch := range chunks {
		if strings.Contains(ch.Text, "sub paragraph") {
			require.Equal(t, []string{"Title", "Sub"}, ch.SectionPath)
			found = true
		}
	}
	require.True(t, found, "expected to find the sub-section chunk")
}

func TestChunk_MergePeersCoalescesWithinBudget(t *testing.T) {
	c := Chunker{Tokenizer: runeTokenizer{}}
	text := "# Title\n\nshort one.\n\nshort two.\n\nshort three."
	merged := c.Chunk(text, Options{MaxTokens: 500, MergePeers: true})
	unmerged := c.Chunk(text, Options{MaxTokens: 500, MergePeers: false})
	require.Less(t, len(merged), len(unmerged))
}
