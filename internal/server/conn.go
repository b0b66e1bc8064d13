package server

import (
	"net"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Connection wraps one accepted socket and remembers the session tokens
// issued on it, so teardown removes exactly those.
type Connection struct {
	id     string
	remote string
	nc     net.Conn

	mu     sync.Mutex
	tokens map[string]struct{}
}

func newConnection(nc net.Conn) *Connection {
	remote := ""
	if addr := nc.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Connection{
		id:     uuid.NewString(),
		remote: remote,
		nc:     nc,
		tokens: make(map[string]struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() string { return c.remote }

func (c *Connection) Adopt(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	c.tokens[token] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) Release(token string) {
	c.mu.Lock()
	delete(c.tokens, token)
	c.mu.Unlock()
}

// Tokens returns the tokens still owned by this connection.
func (c *Connection) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tokens))
	for t := range c.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c *Connection) Close() error {
	return c.nc.Close()
}
