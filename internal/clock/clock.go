// Package clock computes chess clock readings for a two-player game.
//
// State is a plain value: every operation returns a new State and never
// reads the wall clock itself, so callers decide what "now" is.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/Cheese-PvP-Server/internal/domain"
)

// State is the clock of one game.
type State struct {
	Base      time.Duration `json:"base"`
	Increment time.Duration `json:"increment"`

	White time.Duration `json:"white"`
	Black time.Duration `json:"black"`

	Turn    domain.Color `json:"turn"`
	Running bool         `json:"running"`
	// TurnStart anchors accrual for the side on turn while Running.
	TurnStart  time.Time `json:"turn_start,omitempty"`
	GraceUntil time.Time `json:"grace_until,omitempty"`
	// TurnSpent is time already banked for the current turn by earlier freezes.
	TurnSpent time.Duration `json:"turn_spent,omitempty"`

	WhiteSpent  time.Duration `json:"white_spent"`
	BlackSpent  time.Duration `json:"black_spent"`
	WhiteEarned time.Duration `json:"white_earned"`
	BlackEarned time.Duration `json:"black_earned"`
}

// Frozen is the reading captured when a clock stops.
type Frozen struct {
	White     time.Duration `json:"white"`
	Black     time.Duration `json:"black"`
	GraceLeft time.Duration `json:"grace_left,omitempty"`
	InGrace   bool          `json:"in_grace,omitempty"`
}

// New returns a stopped clock with White on turn.
func New(base, increment time.Duration) State {
	return State{
		Base:      base,
		Increment: increment,
		White:     base,
		Black:     base,
		Turn:      domain.White,
	}
}

// Remaining returns the time left for side at now. Only the side on turn of
// a running clock loses time; the result may be negative once a flag falls.
func (s State) Remaining(side domain.Color, now time.Time) time.Duration {
	bank := s.bank(side)
	if !s.Running || side != s.Turn {
		return bank
	}
	return bank - s.elapsed(now)
}

// Display clamps Remaining at zero.
func (s State) Display(side domain.Color, now time.Time) time.Duration {
	if r := s.Remaining(side, now); r > 0 {
		return r
	}
	return 0
}

// Untimed reports a clock without a budget; it never flags.
func (s State) Untimed() bool { return s.Base <= 0 }

// Flagged reports whether the side on turn has run out of time.
func (s State) Flagged(now time.Time) bool {
	return !s.Untimed() && s.Running && s.Remaining(s.Turn, now) <= 0
}

// Start begins accrual for the side on turn.
func (s State) Start(now time.Time) State {
	s.Running = true
	s.TurnStart = now
	s.GraceUntil = time.Time{}
	s.TurnSpent = 0
	return s
}

// Charge settles the mover's time for an accepted move, credits the
// increment and hands the turn to the opponent. It returns the total time
// the mover used on this move.
func (s State) Charge(now time.Time) (State, time.Duration) {
	mover := s.Turn
	var spent time.Duration
	if s.Running {
		spent = s.elapsed(now)
	}
	s.addBank(mover, s.Increment-spent)
	s.addSpent(mover, spent)
	s.addEarned(mover, s.Increment)
	total := s.TurnSpent + spent

	s.Turn = mover.Opp()
	s.TurnStart = now
	s.GraceUntil = time.Time{}
	s.TurnSpent = 0
	return s, total
}

// Freeze stops the clock and banks the elapsed time of the side on turn.
// The returned Frozen carries any grace that was still unused.
func (s State) Freeze(now time.Time) (State, Frozen) {
	var f Frozen
	if s.Running {
		spent := s.elapsed(now)
		s.addBank(s.Turn, -spent)
		s.addSpent(s.Turn, spent)
		s.TurnSpent += spent
		if s.GraceUntil.After(now) {
			f.InGrace = true
			from := now
			if s.TurnStart.After(from) {
				from = s.TurnStart
			}
			f.GraceLeft = s.GraceUntil.Sub(from)
		}
	}
	s.Running = false
	s.TurnStart = time.Time{}
	s.GraceUntil = time.Time{}
	f.White = s.White
	f.Black = s.Black
	return s, f
}

// Resume restarts a frozen clock at now. A fresh grace window is granted
// only if the freeze did not interrupt one; otherwise just the unused part
// of the interrupted window carries over.
func (s State) Resume(now time.Time, grace time.Duration, f Frozen) State {
	g := grace
	if f.InGrace {
		g = f.GraceLeft
	}
	s.Running = true
	s.TurnStart = now
	s.GraceUntil = time.Time{}
	if g > 0 {
		s.GraceUntil = now.Add(g)
	}
	return s
}

// Spent returns the total time charged to side.
func (s State) Spent(side domain.Color) time.Duration {
	if side == domain.White {
		return s.WhiteSpent
	}
	return s.BlackSpent
}

// Earned returns the total increment credited to side.
func (s State) Earned(side domain.Color) time.Duration {
	if side == domain.White {
		return s.WhiteEarned
	}
	return s.BlackEarned
}

// Check verifies Base + Earned - Spent == bank for both sides. Only
// meaningful for a stopped clock or the side not on turn.
func (s State) Check() error {
	for _, side := range []domain.Color{domain.White, domain.Black} {
		want := s.Base + s.Earned(side) - s.Spent(side)
		if got := s.bank(side); got != want {
			return fmt.Errorf("clock %s: bank %v != base+earned-spent %v", side, got, want)
		}
	}
	return nil
}

// elapsed is the chargeable time since TurnStart, excluding grace.
func (s State) elapsed(now time.Time) time.Duration {
	from := s.TurnStart
	if s.GraceUntil.After(from) {
		from = s.GraceUntil
	}
	if !now.After(from) {
		return 0
	}
	return now.Sub(from)
}

func (s State) bank(side domain.Color) time.Duration {
	if side == domain.White {
		return s.White
	}
	return s.Black
}

func (s *State) addBank(side domain.Color, d time.Duration) {
	if side == domain.White {
		s.White += d
		return
	}
	s.Black += d
}

func (s *State) addSpent(side domain.Color, d time.Duration) {
	if side == domain.White {
		s.WhiteSpent += d
		return
	}
	s.BlackSpent += d
}

func (s *State) addEarned(side domain.Color, d time.Duration) {
	if side == domain.White {
		s.WhiteEarned += d
		return
	}
	s.BlackEarned += d
}

// ParseTimeControl parses "<minutes>+<seconds>" (e.g. "5+3"). "none" or an
// empty string yields a zero base, meaning an untimed game.
func ParseTimeControl(s string) (base, increment time.Duration, err error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none":
		return 0, 0, nil
	}
	m, sec, ok := strings.Cut(s, "+")
	if !ok {
		sec = "0"
	}
	mins, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("time control %q: want <minutes>+<seconds>", s)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(sec), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("time control %q: want <minutes>+<seconds>", s)
	}
	if mins < 0 || secs < 0 {
		return 0, 0, fmt.Errorf("time control %q: negative value", s)
	}
	return time.Duration(mins * float64(time.Minute)), time.Duration(secs * float64(time.Second)), nil
}

// FormatTimeControl is the inverse of ParseTimeControl.
func FormatTimeControl(base, increment time.Duration) string {
	if base <= 0 {
		return "none"
	}
	return fmt.Sprintf("%g+%g", base.Minutes(), increment.Seconds())
}
