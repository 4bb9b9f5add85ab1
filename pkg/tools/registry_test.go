package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name    string
	params  map[string]interface{}
	execute func(ctx context.Context, args map[string]interface{}) *ToolResult
	timeout time.Duration
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Parameters() map[string]interface{} {
	if s.params != nil {
		return s.params
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	return s.execute(ctx, args)
}

type timedStub struct{ *stubTool }

func (t timedStub) Timeout() time.Duration { return t.timeout }

func constant(name, out string) *stubTool {
	return &stubTool{name: name, execute: func(context.Context, map[string]interface{}) *ToolResult {
		return NewToolResult(out)
	}}
}

func TestToolRegistry_RegisterOverwritesByName(t *testing.T) {
	r := NewToolRegistry()
	r.Register(constant("a", "first"))
	r.Register(constant("b", "b"))
	r.Register(constant("a", "second"))

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"a", "b"}, r.List())
	assert.Equal(t, "second", r.Execute(context.Background(), "a", nil))

	r.Unregister("a")
	assert.False(t, r.Has("a"))
	assert.True(t, r.Has("b"))
	r.Unregister("missing")
	assert.Equal(t, []string{"b"}, r.List())
}

func TestToolRegistry_UnknownTool(t *testing.T) {
	r := NewToolRegistry()
	r.Register(constant("read_file", ""))
	r.Register(constant("exec", ""))

	out := r.Execute(context.Background(), "nope", nil)

	assert.Equal(t, "Error: Tool 'nope' not found. Available: read_file, exec"+RetryHint, out)
	assert.Equal(t, 1, strings.Count(out, "not found"))
}

func TestToolRegistry_UnknownToolListsRegistrationOrder(t *testing.T) {
	r := NewToolRegistry()
	for _, name := range []string{"web_search", "cron", "exec", "message"} {
		r.Register(constant(name, ""))
	}
	r.Unregister("cron")

	out := r.Execute(context.Background(), "nope", nil)

	assert.Contains(t, out, "Available: web_search, exec, message")
	assert.Equal(t, []string{"exec", "message", "web_search"}, r.List())
}

func TestToolRegistry_InvalidParameters(t *testing.T) {
	r := NewToolRegistry()
	called := false
	r.Register(&stubTool{
		name: "calc",
		params: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"expr": map[string]interface{}{"type": "string"},
				"n":    map[string]interface{}{"type": "integer", "minimum": 1},
			},
			"required": []string{"expr"},
		},
		execute: func(context.Context, map[string]interface{}) *ToolResult {
			called = true
			return NewToolResult("ok")
		},
	})

	out := r.Execute(context.Background(), "calc", map[string]interface{}{"n": float64(0)})

	assert.False(t, called)
	assert.True(t, strings.HasPrefix(out, "Error: Invalid parameters for tool 'calc': "))
	assert.Contains(t, out, "expr")
	assert.True(t, strings.HasSuffix(out, RetryHint))
}

func TestToolRegistry_ExecutionFailures(t *testing.T) {
	cases := []struct {
		name   string
		result *ToolResult
		want   string
	}{
		{"error result", ErrorResult("disk full"), "Error executing t: disk full" + RetryHint},
		{"wrapped error", NewToolResult("").WithError(errors.New("boom")), "Error executing t: boom" + RetryHint},
		{"already prefixed", ErrorResult("Error: bad path"), "Error: bad path" + RetryHint},
		{"success with error text", NewToolResult("Error reading file"), "Error reading file" + RetryHint},
		{"plain success", NewToolResult("4"), "4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewToolRegistry()
			res := tc.result
			r.Register(&stubTool{name: "t", execute: func(context.Context, map[string]interface{}) *ToolResult { return res }})

			out := r.Execute(context.Background(), "t", nil)
			assert.Equal(t, tc.want, out)
			assert.LessOrEqual(t, strings.Count(out, RetryHint), 1)
		})
	}
}

func TestToolRegistry_PanicIsRecovered(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&stubTool{name: "crash", execute: func(context.Context, map[string]interface{}) *ToolResult {
		panic("kaboom")
	}})

	var out string
	require.NotPanics(t, func() { out = r.Execute(context.Background(), "crash", nil) })
	assert.True(t, strings.HasPrefix(out, "Error executing crash:"))
	assert.Contains(t, out, "kaboom")
	assert.True(t, strings.HasSuffix(out, RetryHint))
}

func TestToolRegistry_TimeoutIsAnExecutionError(t *testing.T) {
	r := NewToolRegistry()
	r.Register(timedStub{&stubTool{
		name:    "slow",
		timeout: 30 * time.Millisecond,
		execute: func(context.Context, map[string]interface{}) *ToolResult {
			// ignores its context on purpose
			time.Sleep(2 * time.Second)
			return NewToolResult("late")
		},
	}})

	start := time.Now()
	res := r.ExecuteWithContext(context.Background(), "slow", nil, "", "")

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error executing slow: timed out after 30ms"+RetryHint, res.ForLLM)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestToolRegistry_ExecutionTargetReachesTool(t *testing.T) {
	r := NewToolRegistry()
	var channel, chatID string
	r.Register(&stubTool{name: "where", execute: func(ctx context.Context, _ map[string]interface{}) *ToolResult {
		channel, chatID = ExecutionTarget(ctx)
		return NewToolResult("ok")
	}})

	r.ExecuteWithContext(context.Background(), "where", nil, "telegram", "42")

	assert.Equal(t, "telegram", channel)
	assert.Equal(t, "42", chatID)
}

func TestToolRegistry_Definitions(t *testing.T) {
	r := NewToolRegistry()
	r.Register(NewThinkTool())
	r.Register(NewMessageTool())

	defs := r.ToProviderDefs()
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "think", defs[0].Function.Name)
	assert.Equal(t, "message", defs[1].Function.Name)

	schemas := r.GetDefinitions()
	require.Len(t, schemas, 2)
	fn := schemas[0]["function"].(map[string]interface{})
	assert.Equal(t, "think", fn["name"])

	summaries := r.GetSummaries()
	assert.True(t, strings.HasPrefix(summaries[0], "- `think` - "))
}

type checkedStub struct {
	*stubTool
	errs []string
}

func (c checkedStub) Validate(map[string]interface{}) []string { return c.errs }

func TestToolRegistry_ValidatorOverridesSchema(t *testing.T) {
	r := NewToolRegistry()
	r.Register(checkedStub{stubTool: constant("custom", "ran"), errs: []string{"path escapes workspace"}})
	r.Register(checkedStub{stubTool: &stubTool{
		name:    "lenient",
		params:  map[string]interface{}{"type": "object", "required": []string{"x"}},
		execute: func(context.Context, map[string]interface{}) *ToolResult { return NewToolResult("ran") },
	}})

	assert.Equal(t, "Error: Invalid parameters for tool 'custom': path escapes workspace"+RetryHint,
		r.Execute(context.Background(), "custom", nil))
	assert.Equal(t, "ran", r.Execute(context.Background(), "lenient", nil))
}
