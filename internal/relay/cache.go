package relay

import (
	"sync/atomic"
	"time"

	"github.com/skypro1111/osc-relay-service/internal/protocol"
)

// LastValue holds the most recently decoded message. The zero value is an
// empty cache ready for use.
type LastValue struct {
	slot atomic.Pointer[cachedMessage]
}

type cachedMessage struct {
	msg       *protocol.Message
	updatedAt time.Time
}

// Set replaces the cached message.
func (c *LastValue) Set(msg *protocol.Message) {
	c.slot.Store(&cachedMessage{msg: msg, updatedAt: time.Now()})
}

// Get returns the cached message, or false if nothing has been stored yet.
func (c *LastValue) Get() (*protocol.Message, bool) {
	entry := c.slot.Load()
	if entry == nil {
		return nil, false
	}
	return entry.msg, true
}

// UpdatedAt returns when the cached message was stored, or the zero time.
func (c *LastValue) UpdatedAt() time.Time {
	entry := c.slot.Load()
	if entry == nil {
		return time.Time{}
	}
	return entry.updatedAt
}
