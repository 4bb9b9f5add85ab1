package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArgs(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "minLength": 2},
			"count": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 10},
			"mode":  map[string]interface{}{"type": "string", "enum": []string{"fast", "full"}},
			"tags":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"meta": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"flag": map[string]interface{}{"type": "boolean"}},
				"required":   []interface{}{"flag"},
			},
		},
		"required": []interface{}{"query", "count"},
	}

	cases := []struct {
		name    string
		args    map[string]interface{}
		valid   bool
		mention string
	}{
		{name: "valid", args: map[string]interface{}{"query": "hi", "count": float64(3), "mode": "fast", "extra": true}, valid: true},
		{name: "integer given as int", args: map[string]interface{}{"query": "hi", "count": 3}, valid: true},
		{name: "missing required", args: map[string]interface{}{"query": "hi"}, mention: "count"},
		{name: "wrong type", args: map[string]interface{}{"query": 5.0, "count": float64(1)}},
		{name: "non-integer", args: map[string]interface{}{"query": "hi", "count": 1.5}},
		{name: "bool is not a number", args: map[string]interface{}{"query": "hi", "count": true}},
		{name: "range", args: map[string]interface{}{"query": "hi", "count": float64(11)}},
		{name: "enum", args: map[string]interface{}{"query": "hi", "count": float64(1), "mode": "slow"}},
		{name: "min length", args: map[string]interface{}{"query": "h", "count": float64(1)}},
		{name: "array items", args: map[string]interface{}{"query": "hi", "count": float64(1), "tags": []interface{}{"a", 2.0}}},
		{name: "nested object", args: map[string]interface{}{"query": "hi", "count": float64(1), "meta": map[string]interface{}{}}, mention: "flag"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := ValidateArgs(schema, tc.args)
			if tc.valid {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			if tc.mention != "" {
				assert.Contains(t, strings.Join(errs, "; "), tc.mention)
			}
		})
	}
}

func TestValidateArgs_NonObjectSchema(t *testing.T) {
	errs := ValidateArgs(map[string]interface{}{"type": "string"}, map[string]interface{}{})
	assert.Equal(t, []string{"schema must be object type, got string"}, errs)
	assert.Nil(t, ValidateArgs(nil, map[string]interface{}{"x": 1}))
}

func TestToolRegistry_SchemaCacheFollowsRegistration(t *testing.T) {
	r := NewToolRegistry()
	strict := &stubTool{
		name: "t",
		params: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"x": map[string]interface{}{"type": "string"}},
			"required":   []string{"x"},
		},
		execute: func(_ context.Context, _ map[string]interface{}) *ToolResult { return NewToolResult("ok") },
	}
	r.Register(strict)
	assert.True(t, strings.HasPrefix(r.Execute(context.Background(), "t", nil), "Error: Invalid parameters for tool 't': "))

	r.Register(constant("t", "ok"))
	assert.Equal(t, "ok", r.Execute(context.Background(), "t", nil))
}
