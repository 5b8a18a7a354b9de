// Package sweeper periodically enforces time-based session transitions:
// no-show aborts, flag falls, inactivity pauses, forfeits and negotiation
// expiry. Every decision is re-checked by the coordinator under the lock.
package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/Cheese-PvP-Server/internal/config"
	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/obslog"
	"github.com/park285/Cheese-PvP-Server/internal/store"
)

// Actions are the coordinator operations the sweeper drives.
type Actions interface {
	AbortNoShow(ctx context.Context, id string) (coordinator.Result, error)
	ForceTimeout(ctx context.Context, cmd coordinator.Command) (coordinator.Result, error)
	PauseForInactivity(ctx context.Context, id string) (coordinator.Result, error)
	Forfeit(ctx context.Context, id string) (coordinator.Result, error)
	Expire(ctx context.Context, id string) (coordinator.Result, error)
	RepublishConclusions(ctx context.Context) (int, error)
}

type Sweeper struct {
	store    store.Store
	act      Actions
	timing   config.Timing
	now      func() time.Time
	log      *zap.Logger
	parallel int
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }
func WithLogger(l *zap.Logger) Option       { return func(s *Sweeper) { s.log = l } }

// WithParallelism bounds how many sessions are swept at once.
func WithParallelism(n int) Option { return func(s *Sweeper) { s.parallel = n } }

func New(st store.Store, act Actions, timing config.Timing, opts ...Option) *Sweeper {
	s := &Sweeper{store: st, act: act, timing: timing, now: time.Now, parallel: 8}
	for _, o := range opts {
		o(s)
	}
	s.log = obslog.Or(s.log)
	if s.parallel <= 0 {
		s.parallel = 1
	}
	return s
}

// Stats counts what one tick changed.
type Stats struct {
	Checked     int64
	Aborted     int64
	TimedOut    int64
	Paused      int64
	Forfeited   int64
	Expired     int64
	Republished int64
	Failed      int64
}

func (st Stats) acted() bool {
	return st.Aborted+st.TimedOut+st.Paused+st.Forfeited+st.Expired+st.Republished+st.Failed > 0
}

type counters struct {
	checked, aborted, timedOut, paused, forfeited, expired, failed atomic.Int64
}

// Run sweeps every SweepInterval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.timing.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("sweeper_tick_failed", zap.Error(err))
			}
		}
	}
}

// Tick performs one sweep over all live sessions and retries pending
// conclusions. Per-session failures are logged and counted; only failures
// to list sessions are returned.
func (s *Sweeper) Tick(ctx context.Context) (Stats, error) {
	ids, err := s.store.Live(ctx)
	if err != nil {
		return Stats{}, err
	}
	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, id := range ids {
		g.Go(func() error {
			c.checked.Add(1)
			if err := s.sweepOne(gctx, id, &c); err != nil {
				c.failed.Add(1)
				s.log.Warn("sweeper_session_failed", zap.String("session_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := Stats{
		Checked:   c.checked.Load(),
		Aborted:   c.aborted.Load(),
		TimedOut:  c.timedOut.Load(),
		Paused:    c.paused.Load(),
		Forfeited: c.forfeited.Load(),
		Expired:   c.expired.Load(),
		Failed:    c.failed.Load(),
	}
	n, err := s.act.RepublishConclusions(ctx)
	stats.Republished = int64(n)
	if err != nil {
		s.log.Warn("sweeper_republish_failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.Int64("checked", stats.Checked),
		zap.Int64("aborted", stats.Aborted),
		zap.Int64("timed_out", stats.TimedOut),
		zap.Int64("paused", stats.Paused),
		zap.Int64("forfeited", stats.Forfeited),
		zap.Int64("expired", stats.Expired),
		zap.Int64("republished", stats.Republished),
		zap.Int64("failed", stats.Failed),
	}
	if stats.acted() {
		s.log.Info("sweeper_tick", fields...)
	} else {
		s.log.Debug("sweeper_tick", fields...)
	}
	return stats, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, id string, c *counters) error {
	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}
	now := s.now()
	t := s.timing

	var (
		res     coordinator.Result
		counter *atomic.Int64
	)
	switch sess.Status {
	case game.StatusWaiting:
		if now.Sub(sess.CreatedAt) >= t.NoShowTimeout {
			res, err = s.act.AbortNoShow(ctx, id)
			counter = &c.aborted
		}
	case game.StatusActive:
		if sess.Clock.Flagged(now) {
			res, err = s.act.ForceTimeout(ctx, coordinator.Command{SessionID: id})
			counter = &c.timedOut
			break
		}
		seen, serr := s.store.LastSeen(ctx, id)
		if serr != nil {
			return serr
		}
		if now.Sub(lastActive(sess, seen)) >= t.InactivityPauseAfter {
			res, err = s.act.PauseForInactivity(ctx, id)
			counter = &c.paused
		}
	case game.StatusPaused:
		if sess.Pause != nil && now.Sub(sess.Pause.PausedAt) >= t.ForfeitAfter {
			res, err = s.act.Forfeit(ctx, id)
			counter = &c.forfeited
		}
	}
	if err != nil {
		return err
	}
	if counter != nil {
		if changed(res, sess) {
			counter.Add(1)
		}
		return nil
	}

	if at, ok := sess.NextExpiry(); ok && !now.Before(at) {
		res, err = s.act.Expire(ctx, id)
		if err != nil {
			return err
		}
		if changed(res, sess) {
			c.expired.Add(1)
		}
	}
	return nil
}

func changed(res coordinator.Result, before *game.Session) bool {
	return res.Session != nil && res.Session.Version > before.Version
}

// lastActive is the latest move or resume and the on-turn player's last
// presence signal.
func lastActive(s *game.Session, seen map[string]time.Time) time.Time {
	t := s.LastActivityAt
	if v := seen[s.OnTurnPlayer().ID]; v.After(t) {
		t = v
	}
	return t
}
