package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParts(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "pic.png")
	txt := filepath.Join(dir, "notes.md")
	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(img, []byte{0x89, 'P', 'N', 'G'}, 0644))
	require.NoError(t, os.WriteFile(txt, []byte("# hi"), 0644))
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	parts := Parts([]string{img, txt, empty, filepath.Join(dir, "missing.png")})

	require.Len(t, parts, 3)
	assert.True(t, parts[0].IsImage())
	assert.Equal(t, "image/png", parts[0].MediaType)
	assert.Equal(t, "iVBORw==", parts[0].Data)
	assert.Equal(t, "--- notes.md ---\n# hi\n--- end of notes.md ---", parts[1].Text)
	assert.Equal(t, "[Empty file: empty.bin]", parts[2].Text)
}
