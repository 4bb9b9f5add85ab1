package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name, "SKILL.md"), []byte(content), 0644))
}

func TestSkillsLoader_ListAndLoad(t *testing.T) {
	workspace := t.TempDir()
	builtin := t.TempDir()

	writeSkill(t, filepath.Join(workspace, "skills"), "weather", "---\nname: weather\ndescription: Get the <forecast>\nalways: true\n---\nUse curl wttr.in\n")
	writeSkill(t, builtin, "weather", "---\nname: weather\ndescription: builtin copy\n---\nignored\n")
	writeSkill(t, builtin, "github", "---\n{\"name\": \"github\", \"description\": \"Use gh\", \"bins\": [\"definitely-not-a-real-binary\"]}\n---\nbody\n")
	writeSkill(t, builtin, "plain", "no frontmatter here")

	sl := NewSkillsLoader(workspace, builtin)
	all := sl.ListSkills()
	require.Len(t, all, 3)
	assert.Equal(t, "github", all[0].Name)
	assert.Equal(t, "plain", all[1].Name)
	assert.Equal(t, "weather", all[2].Name)
	assert.Equal(t, "workspace", all[2].Source)

	body, ok := sl.LoadSkill("weather")
	require.True(t, ok)
	assert.Equal(t, "Use curl wttr.in", body)

	_, ok = sl.LoadSkill("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"weather"}, sl.AlwaysSkills())
	assert.Contains(t, sl.LoadSkillsForContext([]string{"weather"}), "### Skill: weather")
}

func TestSkillsLoader_Summary(t *testing.T) {
	builtin := t.TempDir()
	writeSkill(t, builtin, "github", "---\nname: github\ndescription: Use gh & friends\nbins: [definitely-not-a-real-binary]\n---\n")

	summary := NewSkillsLoader(t.TempDir(), builtin).BuildSkillsSummary()

	assert.Contains(t, summary, `<skill available="false">`)
	assert.Contains(t, summary, "<description>Use gh &amp; friends</description>")
	assert.Contains(t, summary, "<requires>CLI: definitely-not-a-real-binary</requires>")
	assert.Empty(t, NewSkillsLoader(t.TempDir(), "").BuildSkillsSummary())
}
