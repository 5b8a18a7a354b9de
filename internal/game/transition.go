package game

import (
	"fmt"
	"time"

	"github.com/park285/Cheese-PvP-Server/internal/domain"
)

// transitions is the status DAG; terminal states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusWaiting: {StatusActive, StatusAborted},
	StatusActive:  {StatusPaused, StatusFinished, StatusAborted},
	StatusPaused:  {StatusActive, StatusFinished, StatusAborted},
}

// CanTransition reports whether from -> to is an edge of the status machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition is the only place Status changes. Entering a terminal state
// stops the clock and clears pause bookkeeping and negotiations in the same
// mutation that records the end reason.
func (s *Session) transition(to Status, reason EndReason, now time.Time) error {
	if s.Status.Terminal() {
		return ErrTerminal
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	if to.Terminal() != (reason != EndNone) {
		return fmt.Errorf("%w: end reason %q with status %s", ErrInvalidTransition, reason, to)
	}
	if to.Terminal() {
		if s.Clock.Running {
			s.Clock, _ = s.Clock.Freeze(now)
		}
		s.cancelNegotiations(now)
		s.Pause = nil
		s.EndReason = reason
		s.EndedAt = now
	}
	s.Status = to
	return nil
}

// Start moves a waiting session to active and starts White's clock.
func (s *Session) Start(now time.Time) error {
	if err := s.transition(StatusActive, EndNone, now); err != nil {
		return err
	}
	s.Clock = s.Clock.Start(now)
	s.StartedAt = now
	s.LastActivityAt = now
	return nil
}

// Finish ends the game. winner is empty for draws.
func (s *Session) Finish(reason EndReason, winner domain.Color, now time.Time) error {
	if err := s.transition(StatusFinished, reason, now); err != nil {
		return err
	}
	s.Winner = winner
	return nil
}

// Abort cancels the game without a result.
func (s *Session) Abort(reason string, now time.Time) error {
	if err := s.transition(StatusAborted, EndAborted, now); err != nil {
		return err
	}
	s.Winner = ""
	s.AbortReason = reason
	return nil
}

// PauseGame freezes both clocks. by is empty for system pauses.
func (s *Session) PauseGame(reason PauseReason, by, absent string, now time.Time) error {
	if err := s.transition(StatusPaused, EndNone, now); err != nil {
		return err
	}
	clk, snap := s.Clock.Freeze(now)
	s.Clock = clk
	s.Pause = &PauseInfo{
		Reason:       reason,
		InitiatedBy:  by,
		AbsentPlayer: absent,
		PausedAt:     now,
		Frozen:       snap,
	}
	return nil
}

// ResumeGame restarts the clock of the side on turn. grace is granted at
// most once per pause cycle; see clock.State.Resume.
func (s *Session) ResumeGame(grace time.Duration, now time.Time) error {
	if s.Pause == nil {
		return fmt.Errorf("%w: paused without pause info", ErrInvalidSession)
	}
	frozen := s.Pause.Frozen
	if err := s.transition(StatusActive, EndNone, now); err != nil {
		return err
	}
	s.Clock = s.Clock.Resume(now, grace, frozen)
	s.Pause = nil
	s.Resume = nil
	s.LastActivityAt = now
	return nil
}

// Timeout finishes the game on time when the side on turn has flagged.
func (s *Session) Timeout(now time.Time) error {
	if s.Status != StatusActive {
		return reject(CodeInvalidState, "game is not running")
	}
	if !s.Clock.Flagged(now) {
		return reject(CodeClockNotExpired, "clock has time left")
	}
	return s.Finish(EndTimeout, s.Clock.Turn.Opp(), now)
}

// Resign finishes the game in favour of the opponent of playerID.
func (s *Session) Resign(playerID string, now time.Time) error {
	c := s.ColorOf(playerID)
	if c == "" {
		return reject(CodeNotParticipant, "")
	}
	if s.Status != StatusActive && s.Status != StatusPaused {
		return reject(CodeInvalidState, "game has not started")
	}
	return s.Finish(EndResignation, c.Opp(), now)
}

// ForfeitAbsent ends a long pause. The party seen least recently loses; if
// neither has been seen since the pause began the game is aborted.
func (s *Session) ForfeitAbsent(lastSeen map[string]time.Time, now time.Time) error {
	if s.Status != StatusPaused || s.Pause == nil {
		return reject(CodeInvalidState, "game is not paused")
	}
	pausedAt := s.Pause.PausedAt
	seen := func(p Player) time.Time { return lastSeen[p.ID] }
	whiteBack := seen(s.White).After(pausedAt)
	blackBack := seen(s.Black).After(pausedAt)

	var loser domain.Color
	switch {
	case !whiteBack && !blackBack:
		if absent := s.ColorOf(s.Pause.AbsentPlayer); absent != "" && s.Player(absent.Opp()).Connected {
			loser = absent
			break
		}
		if err := s.Abort("double_forfeit", now); err != nil {
			return err
		}
		s.Forfeit = true
		return nil
	case !whiteBack:
		loser = domain.White
	case !blackBack:
		loser = domain.Black
	default:
		// both came back but nobody resumed: the one who paused forfeits
		loser = s.ColorOf(s.Pause.InitiatedBy)
		if loser == "" {
			loser = s.ColorOf(s.Pause.AbsentPlayer)
		}
		if loser == "" {
			loser = s.Clock.Turn
		}
	}
	if err := s.Finish(EndTimeout, loser.Opp(), now); err != nil {
		return err
	}
	s.Forfeit = true
	return nil
}

func (s *Session) cancelNegotiations(now time.Time) {
	if s.Resume != nil {
		s.LastResolved = &Resolution{ID: s.Resume.ID, Kind: KindResume, Outcome: ResponseExpired, At: now}
		s.Resume = nil
	}
	if s.Draw != nil {
		s.LastResolved = &Resolution{ID: s.Draw.ID, Kind: KindDraw, Outcome: ResponseExpired, At: now}
		s.Draw = nil
	}
}
