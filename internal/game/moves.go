package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/park285/Cheese-PvP-Server/internal/domain"
	"github.com/park285/Cheese-PvP-Server/internal/rules"
)

// MoveRules is the rules library surface used to apply moves.
type MoveRules interface {
	Apply(history []string, move string) (rules.Applied, error)
}

// ApplyMove validates and applies a move for playerID. Elapsed time is
// measured on the server clock; clientTS is stored only as a hint.
//
// When the mover's flag fell before the move arrived the game is finished
// on time instead and the returned error is a CodeTimeExpired RuleError
// with the session already mutated; callers must persist it.
func (s *Session) ApplyMove(r MoveRules, playerID, notation string, clientTS, now time.Time) (*Move, error) {
	c := s.ColorOf(playerID)
	if c == "" {
		return nil, reject(CodeNotParticipant, "")
	}
	switch s.Status {
	case StatusActive:
	case StatusPaused:
		return nil, reject(CodeInvalidState, "game is paused")
	default:
		return nil, reject(CodeInvalidState, "game has not started")
	}
	if c != s.Clock.Turn {
		return nil, reject(CodeNotYourTurn, "")
	}
	if s.Clock.Flagged(now) {
		if err := s.Finish(EndTimeout, c.Opp(), now); err != nil {
			return nil, err
		}
		return nil, ErrFlagFell
	}

	applied, err := r.Apply(s.UCIHistory(), notation)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return nil, reject(CodeIllegalMove, notation)
		}
		return nil, err
	}
	clk, spent := s.Clock.Charge(now)
	if applied.Turn != clk.Turn {
		return nil, fmt.Errorf("%w: rules turn %s, clock turn %s", ErrInvalidSession, applied.Turn, clk.Turn)
	}
	s.Clock = clk
	mv := Move{
		Ply:             len(s.Moves) + 1,
		Color:           c,
		SAN:             applied.SAN,
		UCI:             applied.UCI,
		FEN:             applied.FEN,
		AppliedAt:       now,
		Spent:           spent,
		ClientTimestamp: clientTS,
	}
	s.Moves = append(s.Moves, mv)
	s.FEN = applied.FEN
	s.LastActivityAt = now

	if reason, winner, ok := endOf(applied.Terminal, c); ok {
		if err := s.Finish(reason, winner, now); err != nil {
			return nil, err
		}
	}
	return &mv, nil
}

// ErrFlagFell is returned by ApplyMove and RequestPause after they finished
// the game on time.
var ErrFlagFell = &RuleError{Code: CodeTimeExpired, Message: "the clock on turn ran out"}

func endOf(t rules.Terminal, mover domain.Color) (EndReason, domain.Color, bool) {
	switch t {
	case rules.Checkmate:
		return EndCheckmate, mover, true
	case rules.Stalemate:
		return EndStalemate, "", true
	case rules.Threefold:
		return EndThreefold, "", true
	case rules.FiftyMove:
		return EndFiftyMove, "", true
	case rules.InsufficientMaterial:
		return EndInsufficientMaterial, "", true
	}
	return EndNone, "", false
}
