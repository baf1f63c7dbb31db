package documents

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuneTokenizer_CountsRunes(t *testing.T) {
	require.Equal(t, 5, RuneTokenizer{}.Count("héllo"))
	require.Equal(t, 0, RuneTokenizer{}.Count(""))
}

func TestWordTokenizer_ShortWordsAreOneToken(t *testing.T) {
	require.Equal(t, 3, WordTokenizer{}.Count("one two three"))
}

func TestWordTokenizer_LongWordsSplit(t *testing.T) {
	// 13 runes -> 1 + 12/6 = 3 tokens.
	require.Equal(t, 3, WordTokenizer{}.Count("extraordinary"))
}

func TestForName(t *testing.T) {
	require.Equal(t, "rune", ForName("rune").Name())
	require.Equal(t, "word", ForName("").Name())
	require.Equal(t, "word", ForName("anything-else").Name())
}
