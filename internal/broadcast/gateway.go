// Package broadcast fans committed session events out to connected clients.
package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/obslog"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// Conn is one client connection attached to a session.
type Conn interface {
	ID() string
	PlayerID() string
	// Enqueue must not block. false means the event could not be queued and
	// the connection should be dropped.
	Enqueue(ev sessiondto.Event) bool
	Close()
}

// Gateway is the registry of connections per session. Publish is called
// with the session lock held, so enqueue order equals commit order.
type Gateway struct {
	mu    sync.RWMutex
	conns map[string]map[string]Conn
	log   *zap.Logger
}

func NewGateway(log *zap.Logger) *Gateway {
	return &Gateway{conns: make(map[string]map[string]Conn), log: obslog.Or(log)}
}

func (g *Gateway) Register(sessionID string, c Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.conns[sessionID]
	if m == nil {
		m = make(map[string]Conn)
		g.conns[sessionID] = m
	}
	m[c.ID()] = c
}

// Unregister removes c if it is still the registered connection for its id.
func (g *Gateway) Unregister(sessionID string, c Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.conns[sessionID]
	if m == nil || m[c.ID()] != c {
		return
	}
	delete(m, c.ID())
	if len(m) == 0 {
		delete(g.conns, sessionID)
	}
}

// Publish enqueues ev on every connection of the session. A connection
// whose queue is full is unregistered and closed; the others still get ev.
func (g *Gateway) Publish(sessionID string, ev sessiondto.Event) {
	g.mu.RLock()
	targets := make([]Conn, 0, len(g.conns[sessionID]))
	for _, c := range g.conns[sessionID] {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		if c.Enqueue(ev) {
			continue
		}
		g.log.Warn("broadcast_drop",
			zap.String("session_id", sessionID),
			zap.String("conn_id", c.ID()),
			zap.String("player_id", c.PlayerID()),
			zap.String("kind", string(ev.Kind)),
			zap.Int64("version", ev.Version),
		)
		g.Unregister(sessionID, c)
		go c.Close()
	}
}

// Count returns the number of registered connections of a session.
func (g *Gateway) Count(sessionID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns[sessionID])
}

// Connected reports whether playerID holds at least one connection.
func (g *Gateway) Connected(sessionID, playerID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.conns[sessionID] {
		if c.PlayerID() == playerID {
			return true
		}
	}
	return false
}

// CloseAll closes every connection; used on shutdown.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	var all []Conn
	for _, m := range g.conns {
		for _, c := range m {
			all = append(all, c)
		}
	}
	g.conns = make(map[string]map[string]Conn)
	g.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}
