package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lsynpy/nanobot/pkg/agent"
	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/channels"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/cron"
	"github.com/lsynpy/nanobot/pkg/gateway"
	"github.com/lsynpy/nanobot/pkg/logger"
	"github.com/lsynpy/nanobot/pkg/mcp"
	"github.com/lsynpy/nanobot/pkg/memory"
	"github.com/lsynpy/nanobot/pkg/metrics"
	"github.com/lsynpy/nanobot/pkg/providers"
	"github.com/lsynpy/nanobot/pkg/state"
)

var version = "dev"

const logo = "🐈"

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "gateway":
		err = gatewayCmd(os.Args[2:])
	case "agent":
		err = agentCmd(os.Args[2:])
	case "status":
		err = statusCmd(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("%s nanobot %s\n", logo, version)
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s nanobot - personal AI agent\n\n", logo)
	fmt.Println("Usage: nanobot <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  gateway     Run the agent with all enabled channels, cron and the HTTP gateway")
	fmt.Println("  agent       Chat in the terminal, or send one message with -m")
	fmt.Println("  status      Show configuration and workspace status")
	fmt.Println("  version     Show version information")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.File != "" {
		if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
			return nil, fmt.Errorf("enable file logging: %w", err)
		}
	}
	return cfg, nil
}

// runtime holds everything both the gateway and the terminal agent need.
type runtime struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	agent    *agent.AgentLoop
	state    *state.Manager
	tracker  *metrics.Tracker
	history  *memory.HistoryStore
	mcp      *mcp.Manager
	channels *channels.Manager
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	provider, model, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, err
	}

	workspace := cfg.WorkspacePath()
	rt := &runtime{
		cfg:   cfg,
		bus:   bus.NewMessageBus(),
		state: state.NewManager(workspace),
		mcp:   mcp.NewManager(),
	}
	opts := []agent.Option{agent.WithStateManager(rt.state)}

	if cfg.Metrics.Enabled {
		rt.tracker = metrics.NewTracker(workspace)
		opts = append(opts, agent.WithTracker(rt.tracker))
	}

	if history, err := memory.NewHistoryStore(cfg.HistoryDBPath()); err != nil {
		logger.WarnCF("memory", "History store unavailable, continuing without it", map[string]interface{}{
			"path":  cfg.HistoryDBPath(),
			"error": err.Error(),
		})
	} else {
		rt.history = history
		opts = append(opts, agent.WithHistoryStore(history))
	}

	if mem := cfg.Tools.Memory; mem.SemanticSearch {
		embed := memory.NewOpenAIEmbedding(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, mem.EmbeddingModel)
		vs, err := memory.NewVectorStore(filepath.Join(workspace, "memory", "vectors"), embed)
		if err != nil {
			logger.WarnCF("memory", "Vector store unavailable, semantic search disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			opts = append(opts, agent.WithVectorStore(vs))
			go indexNotes(ctx, vs, filepath.Join(workspace, "memory", "MEMORY.md"))
		}
	}

	rt.agent = agent.NewAgentLoop(cfg, rt.bus, provider, opts...)
	rt.agent.SetModel(model)

	rt.mcp.StartFromConfig(ctx, cfg.Tools.MCPServers)
	if n := mcp.RegisterTools(rt.mcp, rt.agent.Tools()); n > 0 {
		logger.InfoCF("mcp", "Registered MCP tools", map[string]interface{}{"count": n})
	}

	rt.channels = channels.NewManager(rt.bus)
	logger.InfoCF("agent", "Agent initialized", rt.agent.GetStartupInfo())
	return rt, nil
}

// indexNotes embeds MEMORY.md paragraphs so search_memory can find them.
func indexNotes(ctx context.Context, vs *memory.VectorStore, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	n, err := vs.IndexNotes(ctx, string(data))
	if err != nil {
		logger.WarnCF("memory", "Failed to index memory notes", map[string]interface{}{"error": err.Error()})
		return
	}
	logger.InfoCF("memory", "Memory notes indexed", map[string]interface{}{"new": n, "documents": vs.Count()})
}

func (rt *runtime) close() {
	rt.mcp.StopAll()
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			logger.WarnCF("memory", "Failed to close history store", map[string]interface{}{"error": err.Error()})
		}
	}
	rt.bus.Close()
}

func gatewayCmd(args []string) error {
	fs := flag.NewFlagSet("gateway", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *debug {
		logger.SetLevel(logger.DEBUG)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ch := cfg.Channels
	if ch.Telegram.Enabled {
		rt.channels.Register(channels.NewTelegramChannel(ch.Telegram, rt.bus))
	}
	if ch.Discord.Enabled {
		rt.channels.Register(channels.NewDiscordChannel(ch.Discord, rt.bus))
	}
	if ch.Feishu.Enabled {
		rt.channels.Register(channels.NewFeishuChannel(ch.Feishu, rt.bus))
	}
	var ws *channels.WebSocketChannel
	if ch.WebSocket.Enabled {
		ws = channels.NewWebSocketChannel(ch.WebSocket, rt.bus)
		rt.channels.Register(ws)
	}
	if len(rt.channels.Names()) == 0 {
		logger.WarnC("gateway", "No channels enabled")
	}

	var cronSvc *cron.Service
	if cfg.Cron.Enabled || cfg.Gateway.Heartbeat.Enabled {
		if cronSvc, err = cron.NewService(cfg, rt.bus, rt.state); err != nil {
			return err
		}
	}

	server := gateway.NewServer(cfg, gateway.Deps{
		Bus:       rt.bus,
		Agent:     rt.agent,
		Channels:  rt.channels,
		Cron:      cronSvc,
		Tracker:   rt.tracker,
		WebSocket: ws,
	})

	fmt.Printf("%s Gateway started on %s\n", logo, cfg.Gateway.Addr())
	fmt.Printf("  Channels: %v\n", rt.channels.Names())
	fmt.Println("Press Ctrl+C to stop")

	if err := rt.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	if cronSvc != nil {
		cronSvc.Start(ctx)
		defer cronSvc.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.agent.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	err = g.Wait()
	rt.agent.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopErr := rt.channels.StopAll(stopCtx); stopErr != nil {
		logger.WarnCF("channels", "Channels did not stop cleanly", map[string]interface{}{"error": stopErr.Error()})
	}
	fmt.Println("\nGateway stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func agentCmd(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	message := fs.String("m", "", "send a single message and print the reply")
	session := fs.String("s", "cli:direct", "session key")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *debug {
		logger.SetLevel(logger.DEBUG)
	} else if cfg.Log.Level == "" || cfg.Log.Level == "info" {
		// keep the terminal readable
		logger.SetLevel(logger.WARN)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if *message != "" {
		reply, err := rt.agent.ProcessDirect(ctx, *message, *session)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n", logo, reply)
		return nil
	}

	cli := channels.NewCLIChannel(cfg.Channels.CLI, rt.bus)
	rt.channels.Register(cli)

	fmt.Printf("%s Interactive mode (type 'exit' or Ctrl+D to quit)\n\n", logo)
	if err := rt.channels.StartAll(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-cli.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	err = rt.agent.Run(runCtx)
	rt.agent.Wait()
	rt.channels.StopAll(context.Background())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func statusCmd(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}

	fmt.Printf("%s nanobot status\n\n", logo)
	printExists("Config", path)
	workspace := cfg.WorkspacePath()
	printExists("Workspace", workspace)
	printExists("Memory notes", filepath.Join(workspace, "memory", "MEMORY.md"))
	printExists("History", cfg.HistoryDBPath())
	printExists("Heartbeat", filepath.Join(workspace, "HEARTBEAT.md"))

	fmt.Printf("\nModel: %s\n", cfg.Agents.Defaults.Model)
	if _, model, err := providers.CreateProvider(cfg); err != nil {
		fmt.Printf("Provider: not ready (%v)\n", err)
	} else {
		fmt.Printf("Provider: ready (%s)\n", model)
	}

	ch := cfg.Channels
	fmt.Printf("Channels: telegram=%t discord=%t feishu=%t websocket=%t\n", ch.Telegram.Enabled, ch.Discord.Enabled, ch.Feishu.Enabled, ch.WebSocket.Enabled)
	fmt.Printf("Gateway: %s (heartbeat %t)\n", cfg.Gateway.Addr(), cfg.Gateway.Heartbeat.Enabled)
	fmt.Printf("Cron jobs: %d\n", len(cfg.Cron.Jobs))
	fmt.Printf("MCP servers: %d\n", len(cfg.Tools.MCPServers))

	if channel, chatID := state.NewManager(workspace).LastTarget(); channel != "" {
		fmt.Printf("Last chat: %s:%s\n", channel, chatID)
	}

	if cfg.Metrics.Enabled {
		printUsage(filepath.Join(workspace, "metrics", "usage.jsonl"))
	}
	return nil
}

func printExists(label, path string) {
	mark := "✗"
	if _, err := os.Stat(path); err == nil {
		mark = "✓"
	}
	fmt.Printf("%-13s %s %s\n", label+":", path, mark)
}

func printUsage(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	calls := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		calls++
	}
	fmt.Printf("Provider calls logged: %d\n", calls)
}
