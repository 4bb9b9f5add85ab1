package memory

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterEmbedding is a deterministic bag-of-letters embedding.
func letterEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 27)
	vec[26] = 1
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func TestVectorStore_IndexAndSearch(t *testing.T) {
	vs, err := NewVectorStore(t.TempDir(), letterEmbedding)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, vs.IndexTurn(ctx, "cli:1", "my dog is called rex", "nice dog"))
	require.NoError(t, vs.IndexTurn(ctx, "cli:1", "zzz zzz", "zzz"))

	n, err := vs.IndexNotes(ctx, "User prefers tea.\n\nLives in Berlin.")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = vs.IndexNotes(ctx, "User prefers tea.")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unchanged paragraphs are not indexed twice")
	assert.Equal(t, 4, vs.Count())

	res, err := vs.Search(ctx, "dog rex", 1, SourceConversations)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Contains(t, res[0].Content, "rex")
	assert.Equal(t, "cli:1", res[0].Session)

	all, err := vs.Search(ctx, "tea", 10, "all")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}

	_, err = vs.Search(ctx, "x", 1, "bogus")
	assert.Error(t, err)
}

func TestFormatResults(t *testing.T) {
	assert.Equal(t, "No memories found.", FormatResults(nil))

	out := FormatResults([]SearchResult{
		{Content: "chat", Source: SourceConversations, Timestamp: "2026-02-01T10:00:00Z"},
		{Content: "fact", Source: SourceNotes},
	})
	assert.Equal(t, "## Notes\n- [unknown] fact\n\n## Conversations\n- [2026-02-01] chat\n", out)
}
