package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/park285/Cheese-PvP-Server/internal/game"
)

// Memory is a development-only backend used when no database is configured.
// Sessions are stored encoded so callers never share pointers with it.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	live     map[string]struct{}
	unsent   map[string]struct{}
	byPlayer map[string]map[string]struct{}
	seen     map[string]map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string][]byte),
		live:     make(map[string]struct{}),
		unsent:   make(map[string]struct{}),
		byPlayer: make(map[string]map[string]struct{}),
		seen:     make(map[string]map[string]time.Time),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Create(_ context.Context, s *game.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Version == 0 {
		s.Version = 1
	}
	raw, err := encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	m.sessions[s.ID] = raw
	if !s.Status.Terminal() {
		m.live[s.ID] = struct{}{}
	}
	for _, p := range []string{s.White.ID, s.Black.ID} {
		if m.byPlayer[p] == nil {
			m.byPlayer[p] = make(map[string]struct{})
		}
		m.byPlayer[p][s.ID] = struct{}{}
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*game.Session, error) {
	m.mu.RLock()
	raw, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(raw)
}

func (m *Memory) Update(_ context.Context, id string, fn Mutator) (*game.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cur, err := decode(raw)
	if err != nil {
		return nil, err
	}
	write, concluded, err := apply(cur, fn)
	if err != nil {
		return nil, err
	}
	if !write {
		return cur, nil
	}
	next, err := encode(cur)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = next
	if concluded {
		delete(m.live, id)
		m.unsent[id] = struct{}{}
	}
	return cur, nil
}

func (m *Memory) Live(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.live), nil
}

func (m *Memory) PendingConclusions(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.unsent), nil
}

func (m *Memory) MarkConcluded(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.unsent, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ByPlayer(_ context.Context, playerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.byPlayer[playerID]), nil
}

func (m *Memory) Touch(_ context.Context, sessionID, playerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[sessionID] == nil {
		m.seen[sessionID] = make(map[string]time.Time)
	}
	m.seen[sessionID][playerID] = at
	return nil
}

func (m *Memory) LastSeen(_ context.Context, sessionID string) (map[string]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time, len(m.seen[sessionID]))
	for k, v := range m.seen[sessionID] {
		out[k] = v
	}
	return out, nil
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
