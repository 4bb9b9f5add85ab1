package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsynpy/nanobot/pkg/agent"
	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/channels"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/cron"
	"github.com/lsynpy/nanobot/pkg/metrics"
	"github.com/lsynpy/nanobot/pkg/providers"
)

type idleProvider struct{}

func (idleProvider) Chat(context.Context, []providers.Message, []providers.ToolDefinition, string, map[string]interface{}) (*providers.LLMResponse, error) {
	return &providers.LLMResponse{Content: "ok"}, nil
}

func (idleProvider) GetDefaultModel() string { return "idle" }

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Workspace = t.TempDir()
	cfg.Agents.Defaults.Model = ""
	cfg.Tools.Exec.Enabled = false
	cfg.Cron.Enabled = true
	cfg.Cron.Jobs = []config.CronJobConfig{{ID: "daily", Schedule: "0 9 * * *", Message: "hi", Enabled: true}}

	mb := bus.NewMessageBus()
	ws := channels.NewWebSocketChannel(cfg.Channels.WebSocket, mb)
	require.NoError(t, ws.Start(context.Background()))
	t.Cleanup(func() { ws.Stop(context.Background()) })

	manager := channels.NewManager(mb)
	manager.Register(ws)

	cronSvc, err := cron.NewService(cfg, mb, nil)
	require.NoError(t, err)

	s := NewServer(cfg, Deps{
		Bus:       mb,
		Agent:     agent.NewAgentLoop(cfg, mb, idleProvider{}),
		Channels:  manager,
		Cron:      cronSvc,
		Tracker:   metrics.NewTracker(cfg.WorkspacePath()),
		WebSocket: ws,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Status(t *testing.T) {
	_, ts := newTestServer(t)

	body := getJSON(t, ts.URL+"/status")
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "channels")
	assert.Contains(t, body, "usage")

	busStats, ok := body["bus"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 0, busStats["inbound"])

	agentStats, ok := body["agent"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, agentStats["tools"], "message")
	assert.Equal(t, "idle", agentStats["model"])
}

func TestServer_Cron(t *testing.T) {
	_, ts := newTestServer(t)

	body := getJSON(t, ts.URL+"/cron")
	jobs, ok := body["jobs"].([]interface{})
	require.True(t, ok)
	require.Len(t, jobs, 1)
	assert.Equal(t, "daily", jobs[0].(map[string]interface{})["id"])
}

func TestServer_MountsWebSocket(t *testing.T) {
	_, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connected", frame["type"])
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	s := NewServer(cfg, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
