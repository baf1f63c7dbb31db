package databases

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVectorLiteral(t *testing.T) {
	t.Parallel()
	require.Equal(t, "[]", vectorLiteral(nil))
	require.Equal(t, "[1,0.5,-2]", vectorLiteral([]float32{1, 0.5, -2}))
}

func TestPgvectorDistance_HigherIsCloserForEveryMetric(t *testing.T) {
	t.Parallel()
	for metric, wantOp := range map[string]string{
		"cosine":    "<=>",
		"l2":        "<->",
		"euclidean": "<->",
		"ip":        "<#>",
		"dot":       "<#>",
		"":          "<=>",
	} {
		p := &pgvectorStore{metric: metric}
		op, score := p.distance()
		require.Equal(t, wantOp, op, "metric %q", metric)
		require.NotEmpty(t, score)
	}
}
