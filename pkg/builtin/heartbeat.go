package builtin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// HeartbeatService logs a heartbeat on a cron schedule and answers
// heartbeat.ping events with an immediate beat.
type HeartbeatService struct {
	logger   zerolog.Logger
	schedule string

	mu    sync.Mutex
	cron  *cron.Cron
	beats atomic.Int64
	last  atomic.Int64
}

func (h *HeartbeatService) Initialize(ctx context.Context, host plugin.HostContext) error {
	h.logger = host.Logger()
	h.schedule = stringValue(host.Config(), "schedule", "@every 1m")
	if _, err := cron.ParseStandard(h.schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", h.schedule, err)
	}
	return nil
}

func (h *HeartbeatService) Shutdown(ctx context.Context) error {
	return h.StopService(ctx)
}

func (h *HeartbeatService) StartService(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(h.schedule, h.beat); err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}
	c.Start()
	h.cron = c

	h.logger.Info().Str("schedule", h.schedule).Msg("Heartbeat started")
	return nil
}

func (h *HeartbeatService) StopService(ctx context.Context) error {
	h.mu.Lock()
	c := h.cron
	h.cron = nil
	h.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	h.logger.Info().Int64("beats", h.beats.Load()).Msg("Heartbeat stopped")
	return nil
}

func (h *HeartbeatService) HandleEvent(ctx context.Context, event plugin.HookEvent) error {
	if event.Type == "heartbeat.ping" {
		h.beat()
	}
	return nil
}

// Beats returns the number of heartbeats so far
func (h *HeartbeatService) Beats() int64 {
	return h.beats.Load()
}

// LastBeat returns the time of the last heartbeat, zero if none
func (h *HeartbeatService) LastBeat() time.Time {
	ms := h.last.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (h *HeartbeatService) beat() {
	n := h.beats.Add(1)
	h.last.Store(time.Now().UnixMilli())
	h.logger.Debug().Int64("beat", n).Msg("Heartbeat")
}
