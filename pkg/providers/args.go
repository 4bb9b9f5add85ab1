package providers

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/lsynpy/nanobot/pkg/logger"
)

// ParseToolArguments decodes a tool call's JSON arguments. Malformed JSON
// is repaired on a best-effort basis; anything that still does not decode
// to an object yields an empty map.
func ParseToolArguments(raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err == nil {
		args = nil
		if err := json.Unmarshal([]byte(repaired), &args); err == nil && args != nil {
			logger.DebugCF("provider", "Repaired malformed tool arguments", map[string]interface{}{
				"raw_length": len(raw),
			})
			return args
		}
	}

	logger.WarnCF("provider", "Discarding undecodable tool arguments", map[string]interface{}{
		"raw": truncate(raw, 200),
	})
	return map[string]interface{}{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
