package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/rs/zerolog"
)

// Message is one delivered message kept in the channel history
type Message struct {
	Target  string
	Content string
	Rich    map[string]any
	SentAt  time.Time
}

// LogChannel delivers messages to the host log and keeps a bounded history
type LogChannel struct {
	logger     zerolog.Logger
	maxHistory int

	mu      sync.Mutex
	history []Message
}

func (c *LogChannel) Initialize(ctx context.Context, host plugin.HostContext) error {
	c.logger = host.Logger()
	c.maxHistory = intValue(host.Config(), "max_history", 100)
	return nil
}

func (c *LogChannel) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
	return nil
}

func (c *LogChannel) SendMessage(ctx context.Context, target, content string) error {
	if target == "" {
		return fmt.Errorf("target is required")
	}
	c.logger.Info().Str("target", target).Str("content", content).Msg("Channel message")
	c.remember(Message{Target: target, Content: content, SentAt: time.Now()})
	return nil
}

func (c *LogChannel) SendRichMessage(ctx context.Context, target string, message map[string]any) error {
	if target == "" {
		return fmt.Errorf("target is required")
	}
	c.logger.Info().Str("target", target).Interface("message", message).Msg("Channel rich message")
	c.remember(Message{Target: target, Rich: message, SentAt: time.Now()})
	return nil
}

// History returns a copy of the delivered messages, oldest first
func (c *LogChannel) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

func (c *LogChannel) remember(m Message) {
	if c.maxHistory <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, m)
	if over := len(c.history) - c.maxHistory; over > 0 {
		c.history = append([]Message(nil), c.history[over:]...)
	}
}
