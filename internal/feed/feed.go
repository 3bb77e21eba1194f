// Package feed mirrors the village conversation log to outside
// observers: a Redis stream for programmatic consumers and chat
// platforms for humans watching the simulation. Sinks are best-effort;
// a failed delivery never affects the log itself.
package feed

import (
	"context"
	"fmt"

	"github.com/yuelin/mamavillage/internal/memory"
)

// Sink receives each accepted conversation.
type Sink interface {
	Publish(ctx context.Context, c *memory.Conversation) error
	Close() error
}

// render formats one conversation the way observers see it.
func render(c *memory.Conversation) string {
	to := "the village group"
	if c.ToAgent != "" {
		to = c.ToAgent
	}
	return fmt.Sprintf("[%s] %s → %s: %s", c.Type, c.FromAgent, to, c.Message)
}
