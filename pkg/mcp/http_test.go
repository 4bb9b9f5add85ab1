package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/tools"
)

type httpFake struct {
	calls   atomic.Int32
	deleted atomic.Bool
}

func (f *httpFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer secret" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method == http.MethodDelete {
		f.deleted.Store(r.Header.Get(sessionHeader) == "sess-1")
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Method != "initialize" && r.Header.Get(sessionHeader) != "sess-1" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID}
	switch req.Method {
	case "initialize":
		w.Header().Set(sessionHeader, "sess-1")
		resp["result"] = map[string]interface{}{"protocolVersion": protocolVersion}
	case "tools/list":
		resp["result"] = map[string]interface{}{
			"tools": []map[string]interface{}{{
				"name":        "lookup",
				"description": "Look up a word",
				"inputSchema": map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"word": map[string]interface{}{"type": "string"}},
					"required":   []string{"word"},
				},
			}},
		}
	case "tools/call":
		f.calls.Add(1)
		args := req.Params.(map[string]interface{})["arguments"].(map[string]interface{})
		resp["result"] = map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": "definition of " + args["word"].(string)}},
		}
		// answer on an event stream, after an unrelated notification
		data, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func TestManager_StartHTTPServer(t *testing.T) {
	fake := &httpFake{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewManager()
	err := m.Start(context.Background(), config.MCPServerConfig{
		Name:        "dict",
		Enabled:     true,
		URL:         srv.URL,
		Headers:     map[string]string{"Authorization": "Bearer secret"},
		ToolTimeout: 5,
	})
	require.NoError(t, err)

	reg := tools.NewToolRegistry()
	assert.Equal(t, 1, RegisterTools(m, reg))

	res := reg.ExecuteWithContext(context.Background(), "mcp_dict_lookup", map[string]interface{}{"word": "gopher"}, "cli", "direct")
	require.False(t, res.IsError, res.ForLLM)
	assert.Equal(t, "definition of gopher", res.ForLLM)
	assert.Equal(t, int32(1), fake.calls.Load())

	m.StopAll()
	assert.True(t, fake.deleted.Load())
}

func TestManager_StartHTTPServerRejected(t *testing.T) {
	srv := httptest.NewServer(&httpFake{})
	defer srv.Close()

	m := NewManager()
	err := m.Start(context.Background(), config.MCPServerConfig{Name: "dict", URL: srv.URL})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Empty(t, m.Servers())
}

func TestMatchEvent(t *testing.T) {
	body := []byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\n" +
		"data: \"id\":2,\"result\":{\"ok\":true}}\n")

	resp, err := matchEvent(body, 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))

	_, err = matchEvent(body, 3)
	assert.Error(t, err)
}

func TestHTTPClient_ClosedRejectsCalls(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", nil)
	require.NoError(t, c.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.ListTools(ctx)
	assert.ErrorIs(t, err, ErrClientClosed)
}
