package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lsynpy/nanobot/pkg/logger"
)

const protocolVersion = "2024-11-05"

var ErrClientClosed = errors.New("mcp client closed")

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// ToolDefinition is a tool advertised by an MCP server.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// transport carries JSON-RPC messages to a server.
type transport interface {
	roundTrip(ctx context.Context, req jsonRPCRequest) (*jsonRPCResponse, error)
	send(ctx context.Context, req jsonRPCRequest) error
	Close() error
}

// Client is an MCP client over stdio or streamable HTTP. Calls may run
// concurrently.
type Client struct {
	t      transport
	nextID atomic.Int64
}

// NewClient speaks newline-delimited JSON-RPC over a reader/writer pair,
// typically a server process's stdout and stdin.
func NewClient(r io.Reader, w io.WriteCloser) *Client {
	return &Client{t: newStdioTransport(r, w)}
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	resp, err := c.t.roundTrip(ctx, jsonRPCRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	return c.t.send(ctx, jsonRPCRequest{JSONRPC: "2.0", Method: method})
}

// stdioTransport matches responses to pending calls by id.
type stdioTransport struct {
	w   io.WriteCloser
	wmu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *jsonRPCResponse
	closed  bool
	done    chan struct{}
}

func newStdioTransport(r io.Reader, w io.WriteCloser) *stdioTransport {
	t := &stdioTransport{
		w:       w,
		pending: make(map[int64]chan *jsonRPCResponse),
		done:    make(chan struct{}),
	}
	go t.readLoop(r)
	return t
}

func (t *stdioTransport) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			logger.DebugCF("mcp", "Ignoring non-JSON line from server", map[string]interface{}{"error": err.Error()})
			continue
		}
		if resp.ID == nil {
			// server notification
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[*resp.ID]
		delete(t.pending, *resp.ID)
		t.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
	t.shutdown()
}

func (t *stdioTransport) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
}

func (t *stdioTransport) send(_ context.Context, req jsonRPCRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to MCP server: %w", err)
	}
	return nil
}

func (t *stdioTransport) roundTrip(ctx context.Context, req jsonRPCRequest) (*jsonRPCResponse, error) {
	id := *req.ID
	ch := make(chan *jsonRPCResponse, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClientClosed
	}
	t.pending[id] = ch
	t.mu.Unlock()

	cleanup := func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}

	if err := t.send(ctx, req); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrClientClosed
	}
}

func (t *stdioTransport) Close() error {
	t.shutdown()
	return t.w.Close()
}

// Initialize performs the MCP handshake.
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "nanobot",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return c.notify(ctx, "notifications/initialized")
}

func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var result struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool and joins its text content. A result flagged
// isError is returned as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	raw, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return string(raw), nil
	}

	var texts []string
	for _, part := range result.Content {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	text := strings.Join(texts, "\n")
	if text == "" {
		text = "(no output)"
	}
	if result.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

func (c *Client) Close() error {
	return c.t.Close()
}
