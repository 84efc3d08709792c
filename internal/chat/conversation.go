package chat

import (
	"sync"

	"github.com/ashureev/questline/internal/domain"
)

// Conversation is the append-only message sequence of a room, in arrival
// order, holding at most one message per (sender, sent-at) identity.
type Conversation struct {
	mu   sync.RWMutex
	msgs []domain.Message
	seen map[domain.MessageKey]struct{}
}

// NewConversation creates an empty sequence.
func NewConversation() *Conversation {
	return &Conversation{seen: make(map[domain.MessageKey]struct{})}
}

// Append adds m unless a message with the same identity is present.
func (c *Conversation) Append(m domain.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := m.Key()
	if _, dup := c.seen[key]; dup {
		return false
	}
	c.seen[key] = struct{}{}
	c.msgs = append(c.msgs, m)
	return true
}

// Messages returns a copy of the sequence.
func (c *Conversation) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}
