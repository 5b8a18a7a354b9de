// Package store persists sessions. Every backend writes the terminal
// transition and the "conclusion pending" mark in one atomic step so the
// conclusion of a finished game can always be re-emitted after a crash.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/obslog"
)

var (
	ErrNotFound = errf("session not found")
	ErrExists   = errf("session already exists")
	ErrConflict = errf("session changed concurrently")
	// ErrNoChange may be returned by a Mutator to skip the write.
	ErrNoChange = errf("no change")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Mutator changes a session in place. It may run more than once when a
// backend retries after a concurrent write, so it must not keep state
// across calls.
type Mutator func(s *game.Session) error

// Store is implemented by the Redis, SQLite and in-memory backends.
type Store interface {
	Create(ctx context.Context, s *game.Session) error
	Get(ctx context.Context, id string) (*game.Session, error)
	// Update loads the session, applies fn and writes it back with Version
	// incremented. An error from fn aborts the write and is returned as is;
	// ErrNoChange returns the loaded session without writing.
	Update(ctx context.Context, id string, fn Mutator) (*game.Session, error)

	// Live lists non-terminal sessions.
	Live(ctx context.Context) ([]string, error)
	// PendingConclusions lists terminal sessions whose conclusion has not
	// been acknowledged by MarkConcluded.
	PendingConclusions(ctx context.Context) ([]string, error)
	MarkConcluded(ctx context.Context, id string) error
	ByPlayer(ctx context.Context, playerID string) ([]string, error)

	// Touch records that playerID was seen on the session at at.
	Touch(ctx context.Context, sessionID, playerID string, at time.Time) error
	LastSeen(ctx context.Context, sessionID string) (map[string]time.Time, error)

	Close() error
}

// apply runs fn against cur and reports whether the result must be written
// and whether this write is the terminal transition.
func apply(cur *game.Session, fn Mutator) (write, concluded bool, err error) {
	wasTerminal := cur.Status.Terminal()
	if err := fn(cur); err != nil {
		if errors.Is(err, ErrNoChange) {
			return false, false, nil
		}
		return false, false, err
	}
	if err := cur.Validate(); err != nil {
		return false, false, fmt.Errorf("session %s after update: %w", cur.ID, err)
	}
	cur.Version++
	return true, !wasTerminal && cur.Status.Terminal(), nil
}

func encode(s *game.Session) ([]byte, error) { return json.Marshal(s) }

// decode maps unknown stored statuses to aborted and logs them, so a
// foreign value never reaches the engine as a live game.
func decode(raw []byte) (*game.Session, error) {
	var s game.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	var stored struct {
		Status    string `json:"status"`
		EndReason string `json:"end_reason"`
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if _, ok := game.ParseStatus(stored.Status); !ok {
		obslog.L().Warn("store_unknown_status", zap.String("session_id", s.ID), zap.String("status", stored.Status))
		s.Pause = nil
		if s.EndReason == game.EndNone {
			s.EndReason = game.EndAborted
		}
		if s.AbortReason == "" {
			s.AbortReason = "unknown_status"
		}
	}
	if _, ok := game.ParseEndReason(stored.EndReason); !ok {
		obslog.L().Warn("store_unknown_end_reason", zap.String("session_id", s.ID), zap.String("end_reason", stored.EndReason))
	}
	return &s, nil
}
