package tools

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecTool_RunsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	tool := NewExecTool(t.TempDir(), false, 5*time.Second)

	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hello"})

	assert.False(t, res.IsError)
	assert.Equal(t, "hello\n", res.ForLLM)
}

func TestExecTool_NonZeroExitIsReported(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	tool := NewExecTool(t.TempDir(), false, 5*time.Second)

	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo oops >&2; exit 3"})

	assert.False(t, res.IsError)
	assert.Contains(t, res.ForLLM, "STDERR:\noops")
	assert.True(t, strings.HasSuffix(res.ForLLM, "Exit code: 3"))
}

func TestExecTool_Guard(t *testing.T) {
	dir := t.TempDir()
	tool := NewExecTool(dir, true, time.Second)

	cases := map[string]string{
		"rm -rf build":       "dangerous pattern",
		"shutdown now":       "dangerous pattern",
		"cat ../secret":      "path traversal",
		"cat /etc/passwd":    "path outside working dir",
		"ls " + dir + "/sub": "",
	}
	for command, want := range cases {
		msg := tool.guard(command, dir)
		if want == "" {
			assert.Empty(t, msg, command)
			continue
		}
		assert.Contains(t, msg, want, command)
	}
}

func TestExecTool_TimeoutViaRegistry(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	r := NewToolRegistry()
	r.Register(NewExecTool(t.TempDir(), false, 50*time.Millisecond))

	out := r.Execute(context.Background(), "exec", map[string]interface{}{"command": "sleep 5"})

	assert.True(t, strings.HasPrefix(out, "Error executing exec:"), out)
	assert.True(t, strings.HasSuffix(out, RetryHint))
}
