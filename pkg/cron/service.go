// Package cron publishes scheduled and heartbeat prompts to the agent as
// system messages.
package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/logger"
	"github.com/lsynpy/nanobot/pkg/state"
)

var ErrInvalidSchedule = errors.New("invalid cron schedule")

const (
	heartbeatFile       = "HEARTBEAT.md"
	heartbeatSessionKey = "heartbeat"
	heartbeatPrompt     = "Work through the tasks in HEARTBEAT.md below. If nothing needs attention, reply with just: HEARTBEAT_OK\n\n"
)

type job struct {
	config.CronJobConfig
	lastRun time.Time
}

// Service checks jobs once a minute and the heartbeat file at its own
// interval. Configured jobs are loaded only when cron is enabled.
type Service struct {
	bus       *bus.MessageBus
	state     *state.Manager
	workspace string
	heartbeat time.Duration

	mu   sync.Mutex
	jobs map[string]*job

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(cfg *config.Config, msgBus *bus.MessageBus, st *state.Manager) (*Service, error) {
	s := &Service{
		bus:       msgBus,
		state:     st,
		workspace: cfg.WorkspacePath(),
		jobs:      make(map[string]*job),
		now:       time.Now,
	}
	if hb := cfg.Gateway.Heartbeat; hb.Enabled && hb.IntervalS > 0 {
		s.heartbeat = time.Duration(hb.IntervalS) * time.Second
	}
	if !cfg.Cron.Enabled {
		return s, nil
	}
	for _, j := range cfg.Cron.Jobs {
		if _, err := s.AddJob(j); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func validSchedule(expr string) bool {
	g := gronx.New()
	return g.IsValid(expr)
}

func isDue(expr string, t time.Time) (bool, error) {
	g := gronx.New()
	return g.IsDue(expr, t)
}

// AddJob validates and registers a job, assigning an id when missing.
func (s *Service) AddJob(j config.CronJobConfig) (string, error) {
	if !validSchedule(j.Schedule) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSchedule, j.Schedule)
	}
	if j.ID == "" {
		j.ID = uuid.NewString()[:8]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = &job{CronJobConfig: j}
	return j.ID, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// ListJobs returns the jobs sorted by id.
func (s *Service) ListJobs() []config.CronJobConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.CronJobConfig, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.CronJobConfig)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Status reports each job with its next run time.
func (s *Service) Status() []map[string]interface{} {
	now := s.now()
	var out []map[string]interface{}
	for _, j := range s.ListJobs() {
		entry := map[string]interface{}{
			"id":       j.ID,
			"name":     j.Name,
			"schedule": j.Schedule,
			"enabled":  j.Enabled,
		}
		if next, err := gronx.NextTickAfter(j.Schedule, now, false); err == nil {
			entry["next_run"] = next.Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	return out
}

func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runJobs(ctx)

	if s.heartbeat > 0 {
		s.wg.Add(1)
		go s.runHeartbeat(ctx)
	}

	logger.InfoCF("cron", "Cron service started", map[string]interface{}{
		"jobs":      len(s.ListJobs()),
		"heartbeat": s.heartbeat.String(),
	})
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) runJobs(ctx context.Context) {
	defer s.wg.Done()
	// align to the next minute boundary
	now := s.now()
	timer := time.NewTimer(now.Truncate(time.Minute).Add(time.Minute).Sub(now))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-timer.C:
			s.RunDue(t)
			timer.Reset(time.Until(t.Truncate(time.Minute).Add(time.Minute)))
		}
	}
}

func (s *Service) runHeartbeat(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Beat()
		}
	}
}

// RunDue publishes every enabled job due at t, at most once per minute per
// job, and returns how many were published.
func (s *Service) RunDue(t time.Time) int {
	minute := t.Truncate(time.Minute)

	s.mu.Lock()
	var due []config.CronJobConfig
	for _, j := range s.jobs {
		if !j.Enabled || !j.lastRun.Before(minute) {
			continue
		}
		ok, err := isDue(j.Schedule, minute)
		if err != nil {
			logger.WarnCF("cron", "Failed to evaluate schedule", map[string]interface{}{
				"job":   j.ID,
				"error": err.Error(),
			})
			continue
		}
		if ok {
			j.lastRun = minute
			due = append(due, j.CronJobConfig)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, k int) bool { return due[i].ID < due[k].ID })
	published := 0
	for _, j := range due {
		if s.publishJob(j) {
			published++
		}
	}
	return published
}

func (s *Service) target(channel, chatID string) string {
	if channel == "" || chatID == "" {
		if s.state == nil {
			return ""
		}
		channel, chatID = s.state.LastTarget()
	}
	if channel == "" || chatID == "" {
		return ""
	}
	return channel + ":" + chatID
}

func (s *Service) publishJob(j config.CronJobConfig) bool {
	err := s.bus.PublishInbound(bus.InboundMessage{
		Channel:            "system",
		SenderID:           "cron",
		ChatID:             s.target(j.Channel, j.ChatID),
		Content:            j.Message,
		SessionKeyOverride: "cron:" + j.ID,
		Metadata: map[string]string{
			"kind":     "cron",
			"job_id":   j.ID,
			"job_name": j.Name,
		},
		Timestamp: s.now(),
	})
	if err != nil {
		logger.WarnCF("cron", "Failed to publish cron job", map[string]interface{}{
			"job":   j.ID,
			"error": err.Error(),
		})
		return false
	}
	logger.InfoCF("cron", "Cron job fired", map[string]interface{}{"job": j.ID, "name": j.Name})
	return true
}

// Beat publishes HEARTBEAT.md when it holds actionable content and reports
// whether it did.
func (s *Service) Beat() bool {
	data, err := os.ReadFile(filepath.Join(s.workspace, heartbeatFile))
	if err != nil || heartbeatEmpty(string(data)) {
		return false
	}
	err = s.bus.PublishInbound(bus.InboundMessage{
		Channel:            "system",
		SenderID:           "heartbeat",
		ChatID:             s.target("", ""),
		Content:            heartbeatPrompt + strings.TrimSpace(string(data)),
		SessionKeyOverride: heartbeatSessionKey,
		Metadata:           map[string]string{"kind": "heartbeat"},
		Timestamp:          s.now(),
	})
	if err != nil {
		logger.WarnCF("cron", "Failed to publish heartbeat", map[string]interface{}{"error": err.Error()})
		return false
	}
	logger.DebugC("cron", "Heartbeat published")
	return true
}

// heartbeatEmpty reports whether the file holds only headings, comments
// and unchecked-box placeholders.
func heartbeatEmpty(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "",
			strings.HasPrefix(line, "#"),
			strings.HasPrefix(line, "<!--"),
			line == "- [ ]", line == "* [ ]", line == "- [x]", line == "* [x]":
			continue
		}
		return false
	}
	return true
}
