package coordinator

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/clock"
	"github.com/park285/Cheese-PvP-Server/internal/domain"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/rules"
	"github.com/park285/Cheese-PvP-Server/internal/store"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// CreateParams binds two identities into a new session. Color is the
// preference of Creator: white, black or random.
type CreateParams struct {
	Creator     game.Player
	Opponent    game.Player
	Color       string
	TimeControl string
}

// CreateSession stores a new waiting session. Colors are fixed here.
func (c *Coordinator) CreateSession(ctx context.Context, p CreateParams) (*game.Session, error) {
	p.Creator.ID = strings.TrimSpace(p.Creator.ID)
	p.Opponent.ID = strings.TrimSpace(p.Opponent.ID)
	if p.Creator.ID == "" || p.Opponent.ID == "" || p.Creator.ID == p.Opponent.ID {
		return nil, fmt.Errorf("%w: two distinct participants required", game.ErrInvalidSession)
	}
	tc := c.settings.DefaultTimeControl
	if raw := strings.TrimSpace(p.TimeControl); raw != "" {
		base, inc, err := clock.ParseTimeControl(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", game.ErrInvalidSession, err)
		}
		tc = game.TimeControl{Base: base, Increment: inc}
	}

	white, black := p.Creator, p.Opponent
	switch pref, ok := domain.ParseColor(p.Color); {
	case ok && pref == domain.Black:
		white, black = black, white
	case !ok && coinFlip():
		white, black = black, white
	}

	s := game.New(uuid.NewString(), white, black, tc, rules.StartFEN(), c.now())
	if err := c.store.Create(ctx, s); err != nil {
		return nil, err
	}
	c.log.Info("session_create",
		zap.String("session_id", s.ID),
		zap.String("white_id", s.White.ID),
		zap.String("black_id", s.Black.ID),
		zap.String("time_control", tc.String()),
	)
	return s, nil
}

func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err == nil && n.Int64() == 0
}

// Snapshot is a lock-free read of the committed state.
func (c *Coordinator) Snapshot(ctx context.Context, id string) (*game.Session, sessiondto.Snapshot, error) {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, sessiondto.Snapshot{}, err
	}
	return s, s.Snapshot(c.now()), nil
}

// Connect marks a participant online. The second participant to connect
// starts a waiting game; a returning absent player may auto-accept a
// lobby resume request.
func (c *Coordinator) Connect(ctx context.Context, id, playerID string) (Result, error) {
	return c.run(ctx, Command{SessionID: id, ActorID: playerID}, "connect", bounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if s.ColorOf(playerID) == "" {
			return nil, &game.RuleError{Code: game.CodeNotParticipant}
		}
		changed := s.SetConnected(playerID, true)
		var kinds []sessiondto.EventKind
		switch {
		case s.Status == game.StatusWaiting && s.BothConnected():
			if err := s.Start(now); err != nil {
				return nil, err
			}
			changed = true
		case c.settings.AutoResumeOnReconnect && s.LobbyResumeFor(playerID) != nil:
			if err := s.RespondResume(playerID, true, c.settings.Timing.ResumeGrace, now); err != nil {
				return nil, err
			}
			kinds = append(kinds, sessiondto.EventNegotiationResolved)
			changed = true
		}
		if !changed {
			return nil, store.ErrNoChange
		}
		return kinds, nil
	})
}

// Disconnect marks a participant offline. The game keeps running; the
// sweeper pauses it if the on-turn player stays silent.
func (c *Coordinator) Disconnect(ctx context.Context, id, playerID string) (Result, error) {
	return c.run(ctx, Command{SessionID: id}, "disconnect", bounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if !s.SetConnected(playerID, false) {
			return nil, store.ErrNoChange
		}
		return nil, nil
	})
}

// Heartbeat records liveness without touching the session document.
func (c *Coordinator) Heartbeat(ctx context.Context, id, playerID string) error {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.ColorOf(playerID) == "" {
		return &game.RuleError{Code: game.CodeNotParticipant}
	}
	return c.store.Touch(ctx, id, playerID, c.now())
}

func (c *Coordinator) ApplyMove(ctx context.Context, cmd Command, move string) (Result, error) {
	res, err := c.run(ctx, cmd, string(sessiondto.CmdApplyMove), bounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if _, err := s.ApplyMove(c.rules, cmd.ActorID, move, cmd.ClientTimestamp, now); err != nil {
			return nil, err
		}
		return []sessiondto.EventKind{sessiondto.EventMoveApplied}, nil
	})
	if err == nil && res.Success && !res.Replayed && res.Session != nil {
		if n := len(res.Session.Moves); n > 0 {
			m := res.Session.Moves[n-1]
			c.log.Info("session_move",
				zap.String("session_id", cmd.SessionID),
				zap.String("player_id", cmd.ActorID),
				zap.String("uci", m.UCI),
				zap.Duration("spent", m.Spent),
				zap.Int64("version", res.Session.Version),
			)
		}
	}
	return res, err
}

func (c *Coordinator) Resign(ctx context.Context, cmd Command) (Result, error) {
	return c.run(ctx, cmd, string(sessiondto.CmdResign), bounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		return nil, s.Resign(cmd.ActorID, now)
	})
}

func (c *Coordinator) OfferDraw(ctx context.Context, cmd Command) (Result, error) {
	key := cooldownKey{cmd.SessionID, cmd.ActorID, coolDraw}
	return c.run(ctx, cmd, string(sessiondto.CmdOfferDraw), bounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if s.ColorOf(cmd.ActorID) != "" {
			if w := c.cool.wait(key, now); w > 0 {
				return nil, cooldownErr(w)
			}
		}
		if _, err := s.OfferDraw(cmd.ActorID, c.settings.Timing.DrawOfferTTL, now); err != nil {
			return nil, err
		}
		return []sessiondto.EventKind{sessiondto.EventNegotiationCreated}, nil
	})
}

// RespondDraw answers the pending offer. A decline starts the offerer's
// cooldown.
func (c *Coordinator) RespondDraw(ctx context.Context, cmd Command, accept bool) (Result, error) {
	var offerer string
	return c.runThen(ctx, cmd, string(sessiondto.CmdRespondDraw), bounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		offerer = ""
		if s.Draw != nil {
			offerer = s.Draw.OfferedBy
		}
		if err := s.RespondDraw(cmd.ActorID, accept, now); err != nil {
			return nil, err
		}
		return []sessiondto.EventKind{sessiondto.EventNegotiationResolved}, nil
	}, func(s *game.Session) {
		if !accept && offerer != "" {
			c.cool.use(cooldownKey{cmd.SessionID, offerer, coolDraw}, s.UpdatedAt)
		}
	})
}

func (c *Coordinator) RequestPause(ctx context.Context, cmd Command, reason string) (Result, error) {
	key := cooldownKey{cmd.SessionID, cmd.ActorID, coolPause}
	return c.runThen(ctx, cmd, string(sessiondto.CmdRequestPause), bounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if s.Status == game.StatusActive && s.ColorOf(cmd.ActorID) != "" && !s.Clock.Flagged(now) {
			if w := c.cool.wait(key, now); w > 0 {
				return nil, cooldownErr(w)
			}
		}
		if err := s.RequestPause(cmd.ActorID, game.ParsePauseReason(reason), now); err != nil {
			return nil, err
		}
		return nil, nil
	}, func(s *game.Session) { c.cool.use(key, s.UpdatedAt) })
}

func (c *Coordinator) RequestResume(ctx context.Context, cmd Command) (Result, error) {
	key := cooldownKey{cmd.SessionID, cmd.ActorID, coolResume}
	return c.runThen(ctx, cmd, string(sessiondto.CmdRequestResume), bounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if s.Status == game.StatusPaused && s.Resume == nil && s.ColorOf(cmd.ActorID) != "" {
			if w := c.cool.wait(key, now); w > 0 {
				return nil, cooldownErr(w)
			}
		}
		if _, err := s.RequestResume(cmd.ActorID, c.settings.Timing.ResumeRequestTTL, now); err != nil {
			return nil, err
		}
		return []sessiondto.EventKind{sessiondto.EventNegotiationCreated}, nil
	}, func(s *game.Session) { c.cool.use(key, s.UpdatedAt) })
}

func (c *Coordinator) RespondResume(ctx context.Context, cmd Command, accept bool) (Result, error) {
	return c.run(ctx, cmd, string(sessiondto.CmdRespondResume), bounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if err := s.RespondResume(cmd.ActorID, accept, c.settings.Timing.ResumeGrace, now); err != nil {
			return nil, err
		}
		return []sessiondto.EventKind{sessiondto.EventNegotiationResolved}, nil
	})
}

// ForceTimeout finishes an active game whose on-turn clock ran out. An
// empty ActorID marks a system call.
func (c *Coordinator) ForceTimeout(ctx context.Context, cmd Command) (Result, error) {
	mode := bounded
	if cmd.ActorID == "" {
		mode = unbounded
	}
	return c.run(ctx, cmd, "forceTimeout", mode, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if cmd.ActorID != "" && s.ColorOf(cmd.ActorID) == "" {
			return nil, &game.RuleError{Code: game.CodeNotParticipant}
		}
		return nil, s.Timeout(now)
	})
}

// Abort cancels a non-terminal session without a result.
func (c *Coordinator) Abort(ctx context.Context, id, reason string) (Result, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "aborted"
	}
	return c.run(ctx, Command{SessionID: id}, "abort", unbounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		return nil, s.Abort(reason, now)
	})
}

func cooldownErr(wait time.Duration) *game.RuleError {
	return &game.RuleError{Code: game.CodeCooldown, Message: wait.Round(time.Second).String()}
}
