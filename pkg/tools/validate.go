package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/lsynpy/nanobot/pkg/logger"
)

// compileSchema resolves a tool's parameter schema. A nil result means the
// tool accepts any object.
func compileSchema(params map[string]interface{}) (*jsonschema.Resolved, error) {
	if params == nil {
		return nil, nil
	}
	if t, _ := params["type"].(string); t != "" && t != "object" {
		return nil, fmt.Errorf("schema must be object type, got %s", t)
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if schema.Type == "" && len(schema.Types) == 0 {
		schema.Type = "object"
	}
	return schema.Resolve(nil)
}

// ValidateArgs checks args against a tool's JSON-schema parameters.
// Unknown properties are allowed unless the schema forbids them.
func ValidateArgs(params map[string]interface{}, args map[string]interface{}) []string {
	resolved, err := compileSchema(params)
	if err != nil {
		return []string{err.Error()}
	}
	return validateResolved(resolved, args)
}

func validateResolved(resolved *jsonschema.Resolved, args map[string]interface{}) []string {
	if resolved == nil {
		return nil
	}
	// the validator expects decoded JSON values (float64, []any, map[string]any)
	data, err := json.Marshal(args)
	if err != nil {
		return []string{fmt.Sprintf("arguments are not valid JSON: %v", err)}
	}
	var instance map[string]interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return []string{fmt.Sprintf("arguments are not valid JSON: %v", err)}
	}
	if instance == nil {
		instance = map[string]interface{}{}
	}

	if err := resolved.Validate(instance); err != nil {
		return flattenErrors(err)
	}
	return nil
}

func flattenErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, flattenErrors(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

// schemaFor returns the resolved schema of a registered tool, compiling it
// on first use. A schema the validator cannot resolve disables validation
// for that tool.
func (r *ToolRegistry) schemaFor(tool Tool) (*jsonschema.Resolved, []string) {
	name := tool.Name()
	r.mu.RLock()
	resolved, ok := r.schemas[name]
	r.mu.RUnlock()
	if ok {
		return resolved, nil
	}

	params := tool.Parameters()
	resolved, err := compileSchema(params)
	if err != nil {
		if t, _ := params["type"].(string); t != "" && t != "object" {
			return nil, []string{err.Error()}
		}
		logger.WarnCF("tool", "Tool schema cannot be resolved, skipping validation", map[string]interface{}{
			"tool":  name,
			"error": err.Error(),
		})
		resolved = nil
	}

	r.mu.Lock()
	r.schemas[name] = resolved
	r.mu.Unlock()
	return resolved, nil
}

func toSlice(v interface{}) []interface{} {
	switch items := v.(type) {
	case []interface{}:
		return items
	case []string:
		out := make([]interface{}, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out
	}
	return nil
}
