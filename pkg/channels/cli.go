package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/logger"
)

const (
	cliChatID     = "direct"
	cliSessionKey = "cli:direct"
)

var exitCommands = map[string]bool{
	"exit": true, "quit": true, "/exit": true, "/quit": true, ":q": true,
}

// CLIChannel is an interactive terminal chat. Done is closed when the user
// leaves.
type CLIChannel struct {
	*BaseChannel
	cfg config.CLIConfig

	mu   sync.Mutex
	rl   *readline.Instance
	out  io.Writer
	done chan struct{}
	once sync.Once
}

func NewCLIChannel(cfg config.CLIConfig, msgBus *bus.MessageBus) *CLIChannel {
	return &CLIChannel{
		BaseChannel: NewBaseChannel("cli", msgBus, nil),
		cfg:         cfg,
		done:        make(chan struct{}),
	}
}

func (c *CLIChannel) Start(ctx context.Context) error {
	prompt := c.cfg.Prompt
	if prompt == "" {
		prompt = "You: "
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}

	c.mu.Lock()
	c.rl = rl
	c.out = rl.Stdout()
	c.mu.Unlock()

	c.setRunning(true)
	go c.readLoop(ctx)
	return nil
}

func (c *CLIChannel) readLoop(ctx context.Context) {
	defer c.finish()
	for ctx.Err() == nil {
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.WarnCF("channels", "CLI read failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			return
		}
		c.HandleMessage("user", cliChatID, line, nil, nil, cliSessionKey)
	}
}

func (c *CLIChannel) finish() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the user exits the prompt.
func (c *CLIChannel) Done() <-chan struct{} {
	return c.done
}

func (c *CLIChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return ErrNotRunning
	}
	if msg.IsProgress() {
		_, err := fmt.Fprintf(out, "  ↳ %s\n", msg.Content)
		return err
	}
	_, err := fmt.Fprintf(out, "\nnanobot: %s\n\n", msg.Content)
	return err
}

func (c *CLIChannel) Stop(_ context.Context) error {
	c.setRunning(false)
	c.mu.Lock()
	rl := c.rl
	c.mu.Unlock()
	c.finish()
	if rl != nil {
		return rl.Close()
	}
	return nil
}
