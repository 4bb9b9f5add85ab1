package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const skillFile = "SKILL.md"

type SkillInfo struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Source      string   `json:"source"`
	Description string   `json:"description"`
	Always      bool     `json:"always"`
	Bins        []string `json:"bins,omitempty"`
	Env         []string `json:"env,omitempty"`
}

// Missing lists the binaries and environment variables the skill needs but
// the host lacks.
func (s SkillInfo) Missing() []string {
	var missing []string
	for _, b := range s.Bins {
		if _, err := exec.LookPath(b); err != nil {
			missing = append(missing, "CLI: "+b)
		}
	}
	for _, e := range s.Env {
		if os.Getenv(e) == "" {
			missing = append(missing, "ENV: "+e)
		}
	}
	return missing
}

// SkillsLoader discovers skills in workspace/skills/<name>/SKILL.md, falling
// back to a builtin directory. Workspace skills shadow builtin ones.
type SkillsLoader struct {
	workspaceDir string
	builtinDir   string
}

func NewSkillsLoader(workspace, builtinDir string) *SkillsLoader {
	return &SkillsLoader{
		workspaceDir: filepath.Join(workspace, "skills"),
		builtinDir:   builtinDir,
	}
}

func (sl *SkillsLoader) ListSkills() []SkillInfo {
	seen := make(map[string]bool)
	var out []SkillInfo
	for _, src := range []struct{ dir, name string }{{sl.workspaceDir, "workspace"}, {sl.builtinDir, "builtin"}} {
		if src.dir == "" {
			continue
		}
		entries, err := os.ReadDir(src.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || seen[e.Name()] {
				continue
			}
			path := filepath.Join(src.dir, e.Name(), skillFile)
			content, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			info := parseMetadata(string(content))
			if info.Name == "" {
				info.Name = e.Name()
			}
			info.Path = path
			info.Source = src.name
			seen[e.Name()] = true
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadSkill returns the skill body with frontmatter stripped.
func (sl *SkillsLoader) LoadSkill(name string) (string, bool) {
	for _, dir := range []string{sl.workspaceDir, sl.builtinDir} {
		if dir == "" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name, skillFile))
		if err == nil {
			return strings.TrimSpace(stripFrontmatter(string(content))), true
		}
	}
	return "", false
}

// AlwaysSkills returns the names of available skills marked always: true.
func (sl *SkillsLoader) AlwaysSkills() []string {
	var names []string
	for _, s := range sl.ListSkills() {
		if s.Always && len(s.Missing()) == 0 {
			names = append(names, s.Name)
		}
	}
	return names
}

// LoadSkillsForContext concatenates the named skills for the system prompt.
func (sl *SkillsLoader) LoadSkillsForContext(names []string) string {
	var parts []string
	for _, name := range names {
		if body, ok := sl.LoadSkill(name); ok {
			parts = append(parts, fmt.Sprintf("### Skill: %s\n\n%s", name, body))
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// BuildSkillsSummary returns an XML list of every skill for the system
// prompt. The model reads a skill's file with its tools when it needs it.
func (sl *SkillsLoader) BuildSkillsSummary() string {
	all := sl.ListSkills()
	if len(all) == 0 {
		return ""
	}

	lines := []string{"<skills>"}
	for _, s := range all {
		missing := s.Missing()
		lines = append(lines, fmt.Sprintf(`  <skill available="%t">`, len(missing) == 0))
		lines = append(lines, fmt.Sprintf("    <name>%s</name>", escapeXML(s.Name)))
		lines = append(lines, fmt.Sprintf("    <description>%s</description>", escapeXML(s.Description)))
		lines = append(lines, fmt.Sprintf("    <location>%s</location>", escapeXML(s.Path)))
		if len(missing) > 0 {
			lines = append(lines, fmt.Sprintf("    <requires>%s</requires>", escapeXML(strings.Join(missing, ", "))))
		}
		lines = append(lines, "  </skill>")
	}
	lines = append(lines, "</skills>")
	return strings.Join(lines, "\n")
}

var (
	frontmatterRe      = regexp.MustCompile(`(?s)^---\n(.*?)\n---`)
	frontmatterStripRe = regexp.MustCompile(`(?s)^---\n.*?\n---\n?`)
)

func parseMetadata(content string) SkillInfo {
	match := frontmatterRe.FindStringSubmatch(content)
	if len(match) < 2 {
		return SkillInfo{}
	}
	fm := match[1]

	var jsonMeta struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Always      bool     `json:"always"`
		Bins        []string `json:"bins"`
		Env         []string `json:"env"`
	}
	if err := json.Unmarshal([]byte(fm), &jsonMeta); err == nil {
		return SkillInfo{
			Name:        jsonMeta.Name,
			Description: jsonMeta.Description,
			Always:      jsonMeta.Always,
			Bins:        jsonMeta.Bins,
			Env:         jsonMeta.Env,
		}
	}

	kv := parseSimpleYAML(fm)
	return SkillInfo{
		Name:        kv["name"],
		Description: kv["description"],
		Always:      kv["always"] == "true",
		Bins:        splitList(kv["bins"]),
		Env:         splitList(kv["env"]),
	}
}

func stripFrontmatter(content string) string {
	return frontmatterStripRe.ReplaceAllString(content, "")
}

func parseSimpleYAML(content string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		result[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return result
}

// splitList accepts "a, b" and "[a, b]".
func splitList(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.Trim(strings.TrimSpace(part), `"'`); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
