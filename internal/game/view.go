package game

import (
	"time"

	"github.com/park285/Cheese-PvP-Server/internal/domain"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// Snapshot renders the session for clients. Clock readings are taken at now
// and negotiations already past their deadline are omitted even if the
// sweeper has not cleared them yet.
func (s *Session) Snapshot(now time.Time) sessiondto.Snapshot {
	out := sessiondto.Snapshot{
		ID:          s.ID,
		Status:      string(s.Status),
		EndReason:   string(s.EndReason),
		Winner:      string(s.Winner),
		Forfeit:     s.Forfeit,
		AbortReason: s.AbortReason,
		TimeControl: s.TimeControl.String(),
		White:       participant(s.White),
		Black:       participant(s.Black),
		FEN:         s.FEN,
		Turn:        string(s.Clock.Turn),
		Moves:       make([]sessiondto.Move, len(s.Moves)),
		Clock:       clockView(s, now),
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		StartedAt:   timePtr(s.StartedAt),
		EndedAt:     timePtr(s.EndedAt),
	}
	for i, m := range s.Moves {
		out.Moves[i] = sessiondto.Move{
			Ply:       m.Ply,
			Color:     string(m.Color),
			SAN:       m.SAN,
			UCI:       m.UCI,
			FEN:       m.FEN,
			AppliedAt: m.AppliedAt,
			SpentMs:   m.Spent.Milliseconds(),
		}
	}
	if p := s.Pause; p != nil {
		out.Pause = &sessiondto.Pause{
			Reason:       string(p.Reason),
			InitiatedBy:  p.InitiatedBy,
			AbsentPlayer: p.AbsentPlayer,
			PausedAt:     p.PausedAt,
			WhiteMs:      p.Frozen.White.Milliseconds(),
			BlackMs:      p.Frozen.Black.Milliseconds(),
		}
	}
	if s.Resume != nil && now.Before(s.Resume.ExpiresAt) {
		out.Resume = resumeView(s.Resume)
	}
	if s.Draw != nil && now.Before(s.Draw.ExpiresAt) {
		out.Draw = drawView(s.Draw)
	}
	if r := s.LastResolved; r != nil {
		out.LastResolved = &sessiondto.Resolution{
			ID:      r.ID,
			Kind:    string(r.Kind),
			Outcome: string(r.Outcome),
			By:      r.By,
			At:      r.At,
		}
	}
	return out
}

func participant(p Player) sessiondto.Participant {
	return sessiondto.Participant{ID: p.ID, Name: p.Name, Color: string(p.Color), Connected: p.Connected}
}

func clockView(s *Session, now time.Time) sessiondto.Clock {
	c := s.Clock
	v := sessiondto.Clock{
		WhiteMs:     c.Display(domain.White, now).Milliseconds(),
		BlackMs:     c.Display(domain.Black, now).Milliseconds(),
		IncrementMs: c.Increment.Milliseconds(),
		Untimed:     c.Untimed(),
		Running:     c.Running,
		Turn:        string(c.Turn),
		AsOf:        now,
	}
	if c.Running && now.Before(c.GraceUntil) {
		v.GraceUntil = timePtr(c.GraceUntil)
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
