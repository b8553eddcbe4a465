// Package session provides the per-session context object that replaces
// process-wide counters and "current conversation" sets.
//
// A Context lives as long as the enclosing save/session. It issues entry ids
// and remembers which dialogue lines have already been recorded during the
// current conversation so that one line heard by several agents is not
// double-processed by the same observer.
package session

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// DefaultTTLTicks is the inactivity window after which the conversation
// dedup set is reset (one in-game hour at 2500 ticks/hour).
const DefaultTTLTicks int64 = 2500

// Context is the per-session state shared by the components of one client.
type Context struct {
	// ID identifies the session (stable for its lifetime).
	ID string

	node *snowflake.Node
	ttl  int64

	mu           sync.Mutex
	seen         map[string]struct{}
	lastActivity int64
}

// New creates a session context. nodeID selects the snowflake node (0-1023)
// so that several hosts sharing one database never issue colliding ids.
func New(nodeID int64, ttlTicks int64) (*Context, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	if ttlTicks <= 0 {
		ttlTicks = DefaultTTLTicks
	}
	return &Context{
		ID:   uuid.NewString(),
		node: node,
		ttl:  ttlTicks,
		seen: make(map[string]struct{}),
	}, nil
}

// NextID issues a new unique entry id. Snowflake ids are fixed-width decimal
// strings for the foreseeable future, so lexicographic order matches
// issuance order.
func (c *Context) NextID() string {
	return strconv.FormatInt(c.node.Generate().Int64(), 10)
}

// MarkSeen records key as processed in the current conversation and reports
// whether it was new. When the context has been idle for longer than its
// TTL the seen set is cleared first.
func (c *Context) MarkSeen(key string, now int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(now)
	c.lastActivity = now
	if _, dup := c.seen[key]; dup {
		return false
	}
	c.seen[key] = struct{}{}
	return true
}

// Touch marks the conversation as active at now without recording a key.
func (c *Context) Touch(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(now)
	c.lastActivity = now
}

// SeenCount returns how many keys are currently remembered.
func (c *Context) SeenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Reset clears the conversation dedup set.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]struct{})
}

func (c *Context) expireLocked(now int64) {
	if len(c.seen) > 0 && now-c.lastActivity > c.ttl {
		c.seen = make(map[string]struct{})
	}
}
