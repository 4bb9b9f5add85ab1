package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
)

const maxExecOutput = 10000

var defaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdel\s+/[fq]\b`),
	regexp.MustCompile(`\brmdir\s+/s\b`),
	regexp.MustCompile(`\b(format|mkfs|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
}

var absPathPattern = regexp.MustCompile(`(?:^|[\s|>])(/[^\s"'|>]+)`)

// ExecTool runs shell commands in the workspace.
type ExecTool struct {
	workingDir string
	timeout    time.Duration
	restrict   bool
	pathAppend string
	deny       []*regexp.Regexp
}

func NewExecTool(workingDir string, restrict bool, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ExecTool{
		workingDir: workingDir,
		timeout:    timeout,
		restrict:   restrict,
		deny:       defaultDenyPatterns,
	}
}

// SetPathAppend extends PATH for spawned commands.
func (t *ExecTool) SetPathAppend(p string) {
	t.pathAppend = p
}

func (t *ExecTool) Name() string {
	return "exec"
}

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output. Use with caution."
}

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Timeout() time.Duration {
	return t.timeout
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	cwd := t.workingDir
	if wd, ok := args["working_dir"].(string); ok && wd != "" {
		cwd = wd
	}

	if msg := t.guard(command, cwd); msg != "" {
		return ErrorResult(msg)
	}

	shell, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/c"
	}

	cmd := exec.CommandContext(ctx, shell, flag, command)
	cmd.Dir = cwd
	if t.pathAppend != "" {
		cmd.Env = append(os.Environ(), "PATH="+os.Getenv("PATH")+string(os.PathListSeparator)+t.pathAppend)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return ErrorResult(fmt.Sprintf("Command timed out after %s", t.timeout)).WithError(ctx.Err())
	}

	var parts []string
	if stdout.Len() > 0 {
		parts = append(parts, stdout.String())
	}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		parts = append(parts, "STDERR:\n"+stderr.String())
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		parts = append(parts, fmt.Sprintf("\nExit code: %d", exitErr.ExitCode()))
	case err != nil:
		return ErrorResult(err.Error()).WithError(err)
	}

	output := strings.Join(parts, "\n")
	if output == "" {
		output = "(no output)"
	}
	if len(output) > maxExecOutput {
		output = output[:maxExecOutput] + fmt.Sprintf("\n... (truncated, %d more chars)", len(output)-maxExecOutput)
	}
	return NewToolResult(output)
}

// guard returns a refusal message, or "" when the command may run.
func (t *ExecTool) guard(command, cwd string) string {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, p := range t.deny {
		if p.MatchString(lower) {
			return "Command blocked by safety guard (dangerous pattern detected)"
		}
	}

	if !t.restrict {
		return ""
	}

	if strings.Contains(command, "../") || strings.Contains(command, `..\`) {
		return "Command blocked by safety guard (path traversal detected)"
	}

	root, err := filepath.Abs(t.workingDir)
	if err != nil {
		return "Command blocked by safety guard (workspace unresolved)"
	}
	if abs, err := filepath.Abs(cwd); err != nil || !within(root, abs) {
		return "Command blocked by safety guard (working dir outside workspace)"
	}
	for _, m := range absPathPattern.FindAllStringSubmatch(command, -1) {
		if !within(root, filepath.Clean(m[1])) {
			return "Command blocked by safety guard (path outside working dir)"
		}
	}
	return ""
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
