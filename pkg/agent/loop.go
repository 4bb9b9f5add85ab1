// nanobot - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 nanobot contributors

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/logger"
	"github.com/lsynpy/nanobot/pkg/memory"
	"github.com/lsynpy/nanobot/pkg/metrics"
	"github.com/lsynpy/nanobot/pkg/providers"
	"github.com/lsynpy/nanobot/pkg/state"
	"github.com/lsynpy/nanobot/pkg/tools"
)

const (
	emptyResponseText = "I've completed processing but have no response to give."
	iterationNotice   = "\n\n[Stopped after reaching the maximum of %d tool iterations. Try breaking the task into smaller steps.]"
	indexTimeout      = 30 * time.Second
	heartbeatOK       = "HEARTBEAT_OK"
)

// thinkTagRe matches <think>...</think> reasoning blocks (including multiline).
var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

func stripThinkingTags(s string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(s, ""))
}

type AgentLoop struct {
	bus            *bus.MessageBus
	provider       providers.LLMProvider
	workspace      string
	maxIterations  int
	maxTokens      int
	temperature    float64
	sendProgress   bool
	sendToolHints  bool
	tools          *tools.ToolRegistry
	messageTool    *tools.MessageTool
	contextBuilder *ContextBuilder
	memory         *memory.MemoryStore
	history        *memory.HistoryStore
	vectorStore    *memory.VectorStore
	tracker        *metrics.Tracker
	state          *state.Manager

	modelMu sync.RWMutex
	model   string

	running  atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	runCtx   context.Context
	lanes    map[string]*lane
	sessions sync.Map // session key -> *sync.Mutex
	warmed   map[string]bool
	wg       sync.WaitGroup
}

// Option configures optional collaborators of an AgentLoop.
type Option func(*AgentLoop)

// WithHistoryStore persists every memory entry and warms new sessions
// from it.
func WithHistoryStore(h *memory.HistoryStore) Option {
	return func(al *AgentLoop) { al.history = h }
}

// WithVectorStore indexes finished turns and registers search_memory.
func WithVectorStore(vs *memory.VectorStore) Option {
	return func(al *AgentLoop) { al.vectorStore = vs }
}

func WithTracker(t *metrics.Tracker) Option {
	return func(al *AgentLoop) { al.tracker = t }
}

func WithStateManager(m *state.Manager) Option {
	return func(al *AgentLoop) { al.state = m }
}

// createToolRegistry registers the builtin tools.
func createToolRegistry(cfg *config.Config, workspace string, msgBus *bus.MessageBus, vectorStore *memory.VectorStore) (*tools.ToolRegistry, *tools.MessageTool) {
	registry := tools.NewToolRegistry()

	messageTool := tools.NewMessageTool()
	messageTool.SetSendCallback(func(channel, chatID, content string, metadata map[string]string) error {
		return msgBus.PublishOutbound(bus.OutboundMessage{
			Channel:  channel,
			ChatID:   chatID,
			Content:  content,
			Metadata: metadata,
		})
	})
	registry.Register(messageTool)
	registry.Register(tools.NewThinkTool())

	if cfg.Tools.Exec.Enabled {
		execTool := tools.NewExecTool(workspace, cfg.Agents.Defaults.RestrictToWorkspace,
			time.Duration(cfg.Tools.Exec.Timeout)*time.Second)
		if cfg.Tools.Exec.PathAppend != "" {
			execTool.SetPathAppend(cfg.Tools.Exec.PathAppend)
		}
		registry.Register(execTool)
	}

	if search := cfg.Tools.Web.Search; search.APIKey != "" {
		searchTool := tools.NewWebSearchTool(search.APIKey, search.MaxResults)
		searchTool.SetEndpoint(search.BaseURL)
		registry.Register(searchTool)
	}

	if vectorStore != nil {
		registry.Register(tools.NewMemorySearchTool(vectorStore))
	}

	return registry, messageTool
}

func NewAgentLoop(cfg *config.Config, msgBus *bus.MessageBus, provider providers.LLMProvider, opts ...Option) *AgentLoop {
	workspace := cfg.WorkspacePath()
	os.MkdirAll(workspace, 0755)

	defaults := cfg.Agents.Defaults
	al := &AgentLoop{
		bus:           msgBus,
		provider:      provider,
		workspace:     workspace,
		model:         defaults.Model,
		maxIterations: defaults.MaxToolIterations,
		maxTokens:     defaults.MaxTokens,
		temperature:   defaults.Temperature,
		sendProgress:  cfg.Channels.SendProgress,
		sendToolHints: cfg.Channels.SendToolHints,
		memory:        memory.NewMemoryStore(defaults.MemoryWindow),
		lanes:         make(map[string]*lane),
		warmed:        make(map[string]bool),
	}
	if al.model == "" {
		al.model = provider.GetDefaultModel()
	}
	for _, opt := range opts {
		opt(al)
	}
	if al.state == nil {
		al.state = state.NewManager(workspace)
	}
	if al.tracker == nil && cfg.Metrics.Enabled {
		al.tracker = metrics.NewTracker(workspace)
	}

	al.tools, al.messageTool = createToolRegistry(cfg, workspace, msgBus, al.vectorStore)
	al.contextBuilder = NewContextBuilder(workspace)
	al.contextBuilder.SetToolsRegistry(al.tools)

	return al
}

// Run consumes inbound messages until ctx is cancelled, Stop is called or
// the bus is closed. Each session gets its own lane; turns of different
// sessions run concurrently.
func (al *AgentLoop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	al.mu.Lock()
	al.cancel = cancel
	al.runCtx = ctx
	al.mu.Unlock()
	defer cancel()

	al.running.Store(true)
	defer al.running.Store(false)

	logger.InfoCF("agent", "Agent loop started", map[string]interface{}{
		"model":          al.Model(),
		"max_iterations": al.maxIterations,
		"memory_window":  al.memory.Capacity(),
	})

	for {
		msg, ok := al.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		al.dispatch(ctx, msg)
	}

	logger.InfoC("agent", "Agent loop stopped")
	return nil
}

// Stop cancels the running loop. In-flight turns are cancelled and publish
// nothing.
func (al *AgentLoop) Stop() {
	al.mu.Lock()
	cancel := al.cancel
	al.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every lane and background indexer has finished.
func (al *AgentLoop) Wait() {
	al.wg.Wait()
}

func (al *AgentLoop) IsRunning() bool {
	return al.running.Load()
}

func (al *AgentLoop) RegisterTool(tool tools.Tool) {
	al.tools.Register(tool)
}

func (al *AgentLoop) Tools() *tools.ToolRegistry {
	return al.tools
}

func (al *AgentLoop) Memory() *memory.MemoryStore {
	return al.memory
}

// SetModel changes the active model at runtime.
func (al *AgentLoop) SetModel(model string) {
	al.modelMu.Lock()
	defer al.modelMu.Unlock()
	al.model = model
}

func (al *AgentLoop) Model() string {
	al.modelMu.RLock()
	defer al.modelMu.RUnlock()
	return al.model
}

// ProcessDirect runs one turn outside the bus and returns the reply. Used
// by the CLI single-message mode and by cron.
func (al *AgentLoop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	msg := bus.InboundMessage{
		Channel:            "cli",
		SenderID:           "user",
		ChatID:             "direct",
		Content:            content,
		SessionKeyOverride: sessionKey,
		Timestamp:          time.Now(),
	}
	res, reply := al.process(ctx, msg, false)
	if res.State == Failed {
		return "", res.Err
	}
	return reply, nil
}

// ProcessMessage runs one turn for msg under its session lock and publishes
// the reply.
func (al *AgentLoop) ProcessMessage(ctx context.Context, msg bus.InboundMessage) TurnResult {
	res, _ := al.process(ctx, msg, true)
	return res
}

func (al *AgentLoop) process(ctx context.Context, msg bus.InboundMessage, publish bool) (res TurnResult, reply string) {
	key := msg.SessionKey()
	unlock := al.lockSession(key)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("agent", "Turn panicked", map[string]interface{}{
				"session_key": key,
				"panic":       fmt.Sprint(r),
			})
			res, reply = failed(res.Iterations, fmt.Errorf("panic: %v", r)), ""
		}
	}()

	channel, chatID := al.replyTarget(msg)

	logger.InfoCF("agent", fmt.Sprintf("Processing message from %s:%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80)),
		map[string]interface{}{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"sender_id":   msg.SenderID,
			"session_key": key,
		})

	if text, handled := al.handleCommand(ctx, key, msg.Content); handled {
		if publish {
			al.publish(channel, chatID, text, nil)
		}
		return TurnResult{State: Done, Content: text}, text
	}

	if al.messageTool != nil {
		al.messageTool.ConsumeSent(channel, chatID)
	}

	res = al.runTurn(ctx, key, msg, channel, chatID)
	if res.State == Failed {
		logger.ErrorCF("agent", "Turn failed", map[string]interface{}{
			"session_key": key,
			"iterations":  res.Iterations,
			"error":       errString(res.Err),
		})
		return res, ""
	}

	reply = res.Content
	if strings.TrimSpace(reply) == "" {
		reply = emptyResponseText
	}

	sentByTool := al.messageTool != nil && al.messageTool.ConsumeSent(channel, chatID)
	switch {
	case !publish:
	case sentByTool && strings.TrimSpace(res.Content) == "":
		logger.DebugCF("agent", "Reply already delivered by message tool", map[string]interface{}{
			"session_key": key,
		})
	case msg.Metadata["kind"] == "heartbeat" && strings.Contains(reply, heartbeatOK):
		logger.DebugCF("agent", "Heartbeat needs no attention", map[string]interface{}{
			"session_key": key,
		})
	case channel == "" || chatID == "":
		logger.WarnCF("agent", "No reply target for message", map[string]interface{}{
			"session_key": key,
			"channel":     msg.Channel,
		})
	default:
		al.publish(channel, chatID, reply, nil)
	}

	if !isInternalChannel(channel) && channel != "" && chatID != "" {
		if err := al.state.SetLastTarget(channel, chatID); err != nil {
			logger.WarnCF("agent", "Failed to record last channel", map[string]interface{}{"error": err.Error()})
		}
	}
	al.indexTurn(key, msg.Content, reply)

	logger.InfoCF("agent", fmt.Sprintf("Response: %s", truncate(reply, 120)), map[string]interface{}{
		"session_key":  key,
		"iterations":   res.Iterations,
		"truncated":    res.Truncated,
		"final_length": len(reply),
	})
	return res, reply
}

// runTurn drives the state machine for one inbound message. The session
// lock is held by the caller.
func (al *AgentLoop) runTurn(ctx context.Context, key string, msg bus.InboundMessage, channel, chatID string) TurnResult {
	al.warmSession(ctx, key)

	messages := al.contextBuilder.BuildMessages(al.memory.Window(key), msg.Content, msg.Media, channel, chatID)
	if err := al.remember(ctx, key, memory.MemoryEntry{Role: "user", Content: msg.Content}); err != nil {
		return failed(0, err)
	}

	var (
		turn       = Thinking
		iterations = 0
		content    string
		truncated  bool
		failures   = make(map[string]int)
	)

	for turn == Thinking {
		if err := ctx.Err(); err != nil {
			return failed(iterations, err)
		}

		model := al.Model()
		defs := al.tools.ToProviderDefs()
		logger.DebugCF("agent", "LLM request", map[string]interface{}{
			"iteration":      iterations + 1,
			"model":          model,
			"messages_count": len(messages),
			"tools_count":    len(defs),
		})

		resp := providers.SafeChat(ctx, al.provider, messages, defs, model, map[string]interface{}{
			"max_tokens":  al.maxTokens,
			"temperature": al.temperature,
		})
		al.recordUsage(key, model, resp, iterations+1)

		if err := ctx.Err(); err != nil {
			return failed(iterations, err)
		}

		switch {
		case resp.FinishReason == providers.FinishReasonError:
			content = resp.Content
			turn = Responding
		case !resp.HasToolCalls():
			content = stripThinkingTags(resp.Content)
			logger.InfoCF("agent", "LLM response without tool calls (direct answer)", map[string]interface{}{
				"iteration":     iterations + 1,
				"content_chars": len(content),
			})
			turn = Responding
		case iterations >= al.maxIterations:
			logger.WarnCF("agent", "Tool iteration limit reached", map[string]interface{}{
				"session_key": key,
				"max":         al.maxIterations,
			})
			content = stripThinkingTags(resp.Content) + fmt.Sprintf(iterationNotice, al.maxIterations)
			truncated = true
			turn = Responding
		default:
			turn = ExecutingTools
			var err error
			messages, err = al.executeTools(ctx, key, channel, chatID, resp, messages, failures)
			if err != nil {
				return failed(iterations, err)
			}
			iterations++
			turn = Thinking
		}
	}

	stored := content
	if strings.TrimSpace(stored) == "" {
		stored = emptyResponseText
	}
	if err := al.remember(ctx, key, memory.MemoryEntry{Role: "assistant", Content: stored}); err != nil {
		return failed(iterations, err)
	}

	return TurnResult{State: Done, Content: content, Iterations: iterations, Truncated: truncated}
}

// executeTools runs one batch in order, appending the request and every
// result to memory and to the in-flight message list.
func (al *AgentLoop) executeTools(ctx context.Context, key, channel, chatID string, resp *providers.LLMResponse, messages []providers.Message, failures map[string]int) ([]providers.Message, error) {
	calls := normalizeToolCalls(resp.ToolCalls)
	content := stripThinkingTags(resp.Content)

	names := make([]string, 0, len(calls))
	for _, tc := range calls {
		names = append(names, tc.Name)
	}
	logger.InfoCF("agent", "LLM requested tool calls", map[string]interface{}{
		"tools": names,
		"count": len(calls),
	})

	if err := al.remember(ctx, key, memory.MemoryEntry{Role: "assistant", Content: content, ToolCalls: calls}); err != nil {
		return messages, err
	}
	messages = al.contextBuilder.AddAssistantMessage(messages, content, calls)

	if al.sendProgress && content != "" {
		al.publish(channel, chatID, content, progressMetadata)
	}
	if al.sendToolHints {
		al.publish(channel, chatID, toolHint(calls), progressMetadata)
	}

	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			return messages, err
		}

		argsJSON, _ := json.Marshal(tc.Arguments)
		logger.InfoCF("agent", fmt.Sprintf("Tool call: %s(%s)", tc.Name, truncate(string(argsJSON), 200)),
			map[string]interface{}{
				"tool": tc.Name,
			})

		result := al.tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, channel, chatID)

		if result.IsError {
			sig := tc.Name + "|" + string(argsJSON)
			failures[sig]++
			if failures[sig] == 2 {
				logger.WarnCF("agent", "Tool failing repeatedly with the same arguments", map[string]interface{}{
					"session_key": key,
					"tool":        tc.Name,
				})
			}
		}

		if al.sendProgress && !result.Silent && result.ForUser != "" {
			al.publish(channel, chatID, result.ForUser, progressMetadata)
		}

		if err := al.remember(ctx, key, memory.MemoryEntry{
			Role:       "tool",
			Content:    result.ForLLM,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
		}); err != nil {
			return messages, err
		}
		messages = al.contextBuilder.AddToolResult(messages, tc.ID, tc.Name, result.ForLLM)
	}
	return messages, nil
}

// remember appends to the window and, when configured, the on-disk log.
// Only a window rejection is an error.
func (al *AgentLoop) remember(ctx context.Context, key string, entry memory.MemoryEntry) error {
	stored, err := al.memory.Append(key, entry)
	if err != nil {
		return fmt.Errorf("append %s entry: %w", entry.Role, err)
	}
	if al.history != nil {
		if err := al.history.Append(ctx, key, stored); err != nil {
			logger.WarnCF("agent", "Failed to persist history entry", map[string]interface{}{
				"session_key": key,
				"error":       err.Error(),
			})
		}
	}
	return nil
}

// warmSession loads the tail of the on-disk log the first time a session is
// seen in this process.
func (al *AgentLoop) warmSession(ctx context.Context, key string) {
	if al.history == nil {
		return
	}
	al.mu.Lock()
	done := al.warmed[key]
	al.warmed[key] = true
	al.mu.Unlock()
	if done || al.memory.Has(key) {
		return
	}

	entries, err := al.history.Recent(ctx, key, al.memory.Capacity())
	if err != nil {
		logger.WarnCF("agent", "Failed to load session history", map[string]interface{}{
			"session_key": key,
			"error":       err.Error(),
		})
		return
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if isResetMarker(entries[i]) {
			entries = entries[i+1:]
			break
		}
	}
	for _, e := range entries {
		if _, err := al.memory.Append(key, e); err != nil {
			logger.WarnCF("agent", "Skipping stored history entry", map[string]interface{}{
				"session_key": key,
				"error":       err.Error(),
			})
		}
	}
	if len(entries) > 0 {
		logger.InfoCF("agent", "Session restored from history", map[string]interface{}{
			"session_key": key,
			"entries":     len(entries),
		})
	}
}

// lifetime is the context of the current Run, or Background when the loop
// is driven through ProcessDirect only.
func (al *AgentLoop) lifetime() context.Context {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.runCtx != nil {
		return al.runCtx
	}
	return context.Background()
}

func (al *AgentLoop) indexTurn(key, user, reply string) {
	if al.vectorStore == nil || user == "" || reply == "" {
		return
	}
	al.wg.Add(1)
	go func() {
		defer al.wg.Done()
		ctx, cancel := context.WithTimeout(al.lifetime(), indexTimeout)
		defer cancel()
		if err := al.vectorStore.IndexTurn(ctx, key, user, reply); err != nil {
			logger.WarnCF("agent", "Failed to index turn", map[string]interface{}{
				"session_key": key,
				"error":       err.Error(),
			})
		}
	}()
}

func (al *AgentLoop) recordUsage(key, model string, resp *providers.LLMResponse, iteration int) {
	event := metrics.UsageEvent{
		SessionKey: key,
		Model:      model,
		Iteration:  iteration,
		Error:      resp.FinishReason == providers.FinishReasonError,
	}
	if resp.Usage != nil {
		event.InputTokens = resp.Usage.PromptTokens
		event.OutputTokens = resp.Usage.CompletionTokens
	}
	for _, tc := range resp.ToolCalls {
		event.ToolsUsed = append(event.ToolsUsed, tc.ToolName())
	}
	al.tracker.Record(event)
}

var progressMetadata = map[string]string{"type": "progress"}

func (al *AgentLoop) publish(channel, chatID, content string, metadata map[string]string) {
	if channel == "" || chatID == "" {
		return
	}
	var md map[string]string
	if metadata != nil {
		md = make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
	}
	if err := al.bus.PublishOutbound(bus.OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Content:  content,
		Metadata: md,
	}); err != nil {
		logger.WarnCF("agent", "Failed to publish outbound message", map[string]interface{}{
			"channel": channel,
			"error":   err.Error(),
		})
	}
}

// replyTarget returns where the reply for msg goes. System messages carry
// their origin as "channel:chat_id" in ChatID and otherwise go to the last
// active chat.
func (al *AgentLoop) replyTarget(msg bus.InboundMessage) (string, string) {
	if msg.Channel != "system" {
		return msg.Channel, msg.ChatID
	}
	if ch, chat, ok := strings.Cut(msg.ChatID, ":"); ok && ch != "" && chat != "" {
		return ch, chat
	}
	return al.state.LastTarget()
}

// GetStartupInfo returns information about loaded tools and skills for logging.
func (al *AgentLoop) GetStartupInfo() map[string]interface{} {
	names := al.tools.List()
	return map[string]interface{}{
		"model": al.Model(),
		"tools": map[string]interface{}{
			"count": len(names),
			"names": names,
		},
		"skills":         al.contextBuilder.GetSkillsInfo(),
		"sessions":       len(al.memory.Sessions()),
		"memory_window":  al.memory.Capacity(),
		"max_iterations": al.maxIterations,
	}
}

// normalizeToolCalls fills in names, ids and argument maps so that every
// call can be answered and replayed.
func normalizeToolCalls(calls []providers.ToolCall) []providers.ToolCall {
	out := make([]providers.ToolCall, 0, len(calls))
	for _, tc := range calls {
		name := tc.ToolName()
		args := tc.Arguments
		if args == nil && tc.Function != nil {
			args = providers.ParseToolArguments(tc.Function.Arguments)
		}
		if args == nil {
			args = map[string]interface{}{}
		}
		id := tc.ID
		if id == "" {
			id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
		out = append(out, providers.ToolCall{
			ID:        id,
			Type:      "function",
			Name:      name,
			Arguments: args,
		})
	}
	return out
}

// toolHint renders calls as `name("first arg")` for progress messages.
func toolHint(calls []providers.ToolCall) string {
	hints := make([]string, 0, len(calls))
	for _, tc := range calls {
		keys := make([]string, 0, len(tc.Arguments))
		for k := range tc.Arguments {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var first string
		for _, k := range keys {
			if s, ok := tc.Arguments[k].(string); ok {
				first = s
				break
			}
		}
		if first == "" {
			hints = append(hints, tc.Name)
			continue
		}
		hints = append(hints, fmt.Sprintf("%s(%q)", tc.Name, truncate(first, 40)))
	}
	return strings.Join(hints, ", ")
}

func isInternalChannel(channel string) bool {
	return channel == "cli" || channel == "system"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
