package coordinator

import (
	"context"
	"time"

	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/store"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// PauseForInactivity pauses an active game whose on-turn player has been
// silent for InactivityPauseAfter. The condition is re-checked under the
// lock; Success is false when nothing was done. A game whose on-turn clock
// already ran out is finished on time instead of paused.
func (c *Coordinator) PauseForInactivity(ctx context.Context, id string) (Result, error) {
	var seen map[string]time.Time
	prepare := func(ctx context.Context) (err error) {
		seen, err = c.store.LastSeen(ctx, id)
		return err
	}
	return c.runWith(ctx, Command{SessionID: id}, "pauseForInactivity", unbounded, prepare, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if s.Status != game.StatusActive {
			return nil, store.ErrNoChange
		}
		if s.Clock.Flagged(now) {
			return nil, s.Timeout(now)
		}
		p := s.OnTurnPlayer()
		if now.Sub(lastActive(s, seen, p.ID)) < c.settings.Timing.InactivityPauseAfter {
			return nil, store.ErrNoChange
		}
		reason := game.PauseInactivity
		if !p.Connected {
			reason = game.PauseDisconnect
		}
		return nil, s.PauseGame(reason, "", p.ID, now)
	})
}

// Forfeit ends a game that stayed paused longer than ForfeitAfter.
func (c *Coordinator) Forfeit(ctx context.Context, id string) (Result, error) {
	var seen map[string]time.Time
	prepare := func(ctx context.Context) (err error) {
		seen, err = c.store.LastSeen(ctx, id)
		return err
	}
	return c.runWith(ctx, Command{SessionID: id}, "forfeit", unbounded, prepare, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if s.Status != game.StatusPaused || s.Pause == nil || now.Sub(s.Pause.PausedAt) < c.settings.Timing.ForfeitAfter {
			return nil, store.ErrNoChange
		}
		return nil, s.ForfeitAbsent(seen, now)
	})
}

// AbortNoShow aborts a waiting session nobody started within NoShowTimeout.
func (c *Coordinator) AbortNoShow(ctx context.Context, id string) (Result, error) {
	return c.run(ctx, Command{SessionID: id}, "abortNoShow", unbounded, func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error) {
		if s.Status != game.StatusWaiting || now.Sub(s.CreatedAt) < c.settings.Timing.NoShowTimeout {
			return nil, store.ErrNoChange
		}
		return nil, s.Abort("no_show", now)
	})
}

// Expire clears negotiations past their deadline. The expiry itself runs
// in the shared commit path.
func (c *Coordinator) Expire(ctx context.Context, id string) (Result, error) {
	return c.run(ctx, Command{SessionID: id}, "expire", unbounded, func(*game.Session, time.Time) ([]sessiondto.EventKind, error) {
		return nil, store.ErrNoChange
	})
}

// lastActive is the latest of the last move or resume and the player's
// last presence signal.
func lastActive(s *game.Session, seen map[string]time.Time, playerID string) time.Time {
	t := s.LastActivityAt
	if v := seen[playerID]; v.After(t) {
		t = v
	}
	return t
}
