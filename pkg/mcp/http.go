package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/lsynpy/nanobot/pkg/logger"
)

const sessionHeader = "Mcp-Session-Id"

// httpTransport implements the streamable HTTP transport: every message is
// a POST, answered either with a JSON body or an SSE stream.
type httpTransport struct {
	url    string
	client *resty.Client

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// NewHTTPClient connects to a server at url. headers are sent with every
// request.
func NewHTTPClient(url string, headers map[string]string) *Client {
	client := resty.New().
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json, text/event-stream")
	return &Client{t: &httpTransport{url: url, client: client}}
}

func (t *httpTransport) request(ctx context.Context) (*resty.Request, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClientClosed
	}
	req := t.client.R().SetContext(ctx)
	if t.sessionID != "" {
		req.SetHeader(sessionHeader, t.sessionID)
	}
	return req, nil
}

func (t *httpTransport) post(ctx context.Context, msg jsonRPCRequest) (*resty.Response, error) {
	req, err := t.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.SetBody(msg).Post(t.url)
	if err != nil {
		return nil, fmt.Errorf("post to MCP server: %w", err)
	}
	if id := resp.Header().Get(sessionHeader); id != "" {
		t.mu.Lock()
		t.sessionID = id
		t.mu.Unlock()
	}
	if resp.IsError() {
		return nil, fmt.Errorf("MCP server returned %s", resp.Status())
	}
	return resp, nil
}

func (t *httpTransport) send(ctx context.Context, msg jsonRPCRequest) error {
	_, err := t.post(ctx, msg)
	return err
}

func (t *httpTransport) roundTrip(ctx context.Context, msg jsonRPCRequest) (*jsonRPCResponse, error) {
	resp, err := t.post(ctx, msg)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(resp.Header().Get("Content-Type"), "text/event-stream") {
		return matchEvent(resp.Body(), *msg.ID)
	}
	var out jsonRPCResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("parse MCP response: %w", err)
	}
	return &out, nil
}

// matchEvent scans an SSE body for the response carrying id. Server
// requests and notifications on the same stream are skipped.
func matchEvent(body []byte, id int64) (*jsonRPCResponse, error) {
	var data strings.Builder
	flush := func() *jsonRPCResponse {
		defer data.Reset()
		if data.Len() == 0 {
			return nil
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			logger.DebugCF("mcp", "Ignoring non-JSON event from server", map[string]interface{}{"error": err.Error()})
			return nil
		}
		if resp.ID == nil || *resp.ID != id {
			return nil
		}
		return &resp
	}

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if resp := flush(); resp != nil {
				return resp, nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if resp := flush(); resp != nil {
		return resp, nil
	}
	return nil, fmt.Errorf("no response for request %d in event stream", id)
}

// Close ends the session. The DELETE is best effort.
func (t *httpTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	session := t.sessionID
	t.mu.Unlock()

	if session == "" {
		return nil
	}
	resp, err := t.client.R().SetHeader(sessionHeader, session).Delete(t.url)
	if err != nil {
		return err
	}
	if resp.IsError() && resp.StatusCode() != http.StatusMethodNotAllowed {
		return fmt.Errorf("close MCP session: %s", resp.Status())
	}
	return nil
}
