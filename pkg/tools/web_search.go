package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	client     *resty.Client
	endpoint   string
	apiKey     string
	maxResults int
}

func NewWebSearchTool(apiKey string, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	client := resty.New().
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")
	return &WebSearchTool{client: client, endpoint: braveSearchURL, apiKey: apiKey, maxResults: maxResults}
}

// SetEndpoint points the tool at another Brave-compatible endpoint.
func (t *WebSearchTool) SetEndpoint(url string) {
	if url != "" {
		t.endpoint = url
	}
}

func (t *WebSearchTool) Name() string {
	return "web_search"
}

func (t *WebSearchTool) Description() string {
	return "Search the web. Returns titles, URLs and snippets."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
				"minLength":   1,
			},
			"count": map[string]interface{}{
				"type":        "integer",
				"description": "Results (1-10)",
				"minimum":     1,
				"maximum":     10,
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	count := t.maxResults
	if c, ok := args["count"].(float64); ok && c >= 1 {
		count = min(int(c), 10)
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("X-Subscription-Token", t.apiKey).
		SetQueryParams(map[string]string{
			"q":     query,
			"count": strconv.Itoa(count),
		}).
		Get(t.endpoint)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search request failed: %v", err)).WithError(err)
	}
	if resp.IsError() {
		return ErrorResult(fmt.Sprintf("search API returned %d: %s", resp.StatusCode(), truncateText(resp.String(), 200)))
	}

	results := gjson.GetBytes(resp.Body(), "web.results").Array()
	if len(results) == 0 {
		return NewToolResult(fmt.Sprintf("No results for: %s", query))
	}
	if len(results) > count {
		results = results[:count]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Results for: %s\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Get("title").String(), r.Get("url").String())
		if desc := r.Get("description").String(); desc != "" {
			fmt.Fprintf(&sb, "   %s\n", desc)
		}
	}
	return NewToolResult(strings.TrimRight(sb.String(), "\n"))
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
