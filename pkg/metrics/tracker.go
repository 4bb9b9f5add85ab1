package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lsynpy/nanobot/pkg/logger"
)

// UsageEvent records one provider call.
type UsageEvent struct {
	Timestamp    string   `json:"ts"`
	SessionKey   string   `json:"session"`
	Model        string   `json:"model"`
	InputTokens  int      `json:"in"`
	OutputTokens int      `json:"out"`
	CostUSD      float64  `json:"cost"`
	ToolsUsed    []string `json:"tools,omitempty"`
	Iteration    int      `json:"iter"`
	Error        bool     `json:"error,omitempty"`
}

// Totals aggregates every event recorded since start.
type Totals struct {
	Calls        int     `json:"calls"`
	Errors       int     `json:"errors"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Tracker appends usage events to a JSONL file and keeps running totals.
// A nil *Tracker is valid and records nothing.
type Tracker struct {
	filePath string
	mu       sync.Mutex
	totals   Totals
}

// NewTracker writes to workspace/metrics/usage.jsonl.
func NewTracker(workspace string) *Tracker {
	dir := filepath.Join(workspace, "metrics")
	os.MkdirAll(dir, 0755)
	return &Tracker{
		filePath: filepath.Join(dir, "usage.jsonl"),
	}
}

func (t *Tracker) Record(event UsageEvent) {
	if t == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().Format(time.RFC3339)
	}
	event.CostUSD = estimateCost(event.Model, event.InputTokens, event.OutputTokens)

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totals.Calls++
	if event.Error {
		t.totals.Errors++
	}
	t.totals.InputTokens += event.InputTokens
	t.totals.OutputTokens += event.OutputTokens
	t.totals.CostUSD += event.CostUSD

	f, err := os.OpenFile(t.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.WarnCF("metrics", "Cannot open usage log", map[string]interface{}{"error": err.Error()})
		return
	}
	defer f.Close()

	f.Write(append(data, '\n'))
}

func (t *Tracker) Totals() Totals {
	if t == nil {
		return Totals{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

// USD per million tokens (input, output).
type modelPricing struct {
	inputPerM  float64
	outputPerM float64
}

var pricing = []struct {
	prefix string
	price  modelPricing
}{
	{"claude-opus", modelPricing{15.0, 75.0}},
	{"claude-sonnet", modelPricing{3.0, 15.0}},
	{"claude-haiku", modelPricing{0.8, 4.0}},
	{"gpt-4o-mini", modelPricing{0.15, 0.6}},
	{"gpt-4o", modelPricing{2.5, 10.0}},
}

// estimateCost prices by model family. Unknown models cost nothing.
func estimateCost(model string, input, output int) float64 {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	for _, p := range pricing {
		if strings.HasPrefix(model, p.prefix) {
			return float64(input)*p.price.inputPerM/1e6 + float64(output)*p.price.outputPerM/1e6
		}
	}
	return 0
}
