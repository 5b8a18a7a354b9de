// Package coordinator is the only writer of sessions. Every command runs
// under the session's serialization lock, is committed through the store
// and broadcast in commit order before the lock is released.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/config"
	"github.com/park285/Cheese-PvP-Server/internal/domain"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/msgcat"
	"github.com/park285/Cheese-PvP-Server/internal/obslog"
	"github.com/park285/Cheese-PvP-Server/internal/rules"
	"github.com/park285/Cheese-PvP-Server/internal/store"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// ErrLockTimeout means the session lock could not be acquired in time. The
// command was not applied and may be retried.
var ErrLockTimeout = errf("session busy, retry")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Broadcaster fans committed events out to the session's connections. It is
// called with the session lock held and must not block.
type Broadcaster interface {
	Publish(sessionID string, ev sessiondto.Event)
}

// Concluder delivers the conclusion of a terminal session.
type Concluder interface {
	Publish(ctx context.Context, g domain.ConcludedGame) error
}

type Settings struct {
	Timing                config.Timing
	DefaultTimeControl    game.TimeControl
	AutoResumeOnReconnect bool
	MaxReceipts           int
}

type Coordinator struct {
	store    store.Store
	rules    game.MoveRules
	bus      Broadcaster
	results  Concluder
	cat      *msgcat.Catalog
	settings Settings
	now      func() time.Time
	log      *zap.Logger

	locks *lockTable
	cool  *cooldowns
	wg    sync.WaitGroup
}

type Option func(*Coordinator)

func WithBroadcaster(b Broadcaster) Option   { return func(c *Coordinator) { c.bus = b } }
func WithConcluder(r Concluder) Option       { return func(c *Coordinator) { c.results = r } }
func WithCatalog(cat *msgcat.Catalog) Option { return func(c *Coordinator) { c.cat = cat } }
func WithClock(now func() time.Time) Option  { return func(c *Coordinator) { c.now = now } }
func WithLogger(l *zap.Logger) Option        { return func(c *Coordinator) { c.log = l } }
func WithRules(r game.MoveRules) Option      { return func(c *Coordinator) { c.rules = r } }

func New(st store.Store, settings Settings, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    st,
		rules:    rules.New(),
		settings: settings,
		now:      time.Now,
		locks:    newLockTable(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = obslog.Or(c.log)
	if c.cat == nil {
		c.cat = msgcat.MustDefault()
	}
	if c.settings.MaxReceipts <= 0 {
		c.settings.MaxReceipts = game.DefaultMaxReceipts
	}
	t := settings.Timing
	c.cool = newCooldowns(map[cooldownKind]time.Duration{
		coolDraw:   t.DrawCooldown,
		coolResume: t.ResumeCooldown,
		coolPause:  t.PauseCooldown,
	})
	return c
}

// Wait blocks until in-flight conclusion deliveries have finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Result is the outcome of a command. Rejection is set for business-rule
// refusals; AlreadyFinished is the idempotent answer on terminal sessions.
type Result struct {
	Success         bool
	AlreadyFinished bool
	Replayed        bool
	Rejection       *game.RuleError
	Session         *game.Session
}

// Command identifies who acts on which session. RequestID makes retries
// idempotent; ClientTimestamp is advisory only.
type Command struct {
	SessionID       string
	ActorID         string
	RequestID       string
	ClientTimestamp time.Time
}

// step mutates the locked session and names the events it produced.
// Status changes are detected separately.
type step func(s *game.Session, now time.Time) ([]sessiondto.EventKind, error)

type lockMode int

const (
	bounded lockMode = iota
	unbounded
)

// run executes st under the session lock and commits the result.
func (c *Coordinator) run(ctx context.Context, cmd Command, kind string, mode lockMode, st step) (Result, error) {
	return c.exec(ctx, cmd, kind, mode, nil, st, nil)
}

// runWith is run with a prepare hook that executes under the lock before
// the session is loaded, for reads the step depends on.
func (c *Coordinator) runWith(ctx context.Context, cmd Command, kind string, mode lockMode, prepare func(context.Context) error, st step) (Result, error) {
	return c.exec(ctx, cmd, kind, mode, prepare, st, nil)
}

// runThen is run with a hook called under the lock once a successful
// mutation has been written. The step may run more than once per command,
// so side effects outside the session belong in after.
func (c *Coordinator) runThen(ctx context.Context, cmd Command, kind string, mode lockMode, st step, after func(*game.Session)) (Result, error) {
	return c.exec(ctx, cmd, kind, mode, nil, st, after)
}

func (c *Coordinator) exec(ctx context.Context, cmd Command, kind string, mode lockMode, prepare func(context.Context) error, st step, after func(*game.Session)) (Result, error) {
	wait := c.settings.Timing.LockWait
	if mode == unbounded {
		wait = 0
	}
	release, err := c.locks.acquire(ctx, cmd.SessionID, wait)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			c.log.Warn("session_lock_timeout", zap.String("session_id", cmd.SessionID), zap.String("command", kind))
		}
		return Result{}, err
	}
	defer release()

	if prepare != nil {
		if err := prepare(ctx); err != nil {
			return Result{}, err
		}
	}
	now := c.now()
	var (
		res        Result
		events     []sessiondto.EventKind
		loaded     int64
		fromStatus game.Status
	)
	sess, err := c.store.Update(ctx, cmd.SessionID, func(s *game.Session) error {
		res, events = Result{}, nil
		loaded, fromStatus = s.Version, s.Status

		if r, ok := s.Receipt(cmd.RequestID); ok {
			res.Replayed, res.Success = true, r.Success
			if r.Code != "" {
				res.Rejection = &game.RuleError{Code: r.Code}
			}
			return store.ErrNoChange
		}
		if s.Status.Terminal() {
			res.Success, res.AlreadyFinished = true, true
			return store.ErrNoChange
		}

		expired := s.ExpireNegotiations(now)
		if len(expired) > 0 {
			events = append(events, sessiondto.EventNegotiationResolved)
		}

		kinds, err := st(s, now)
		if re, ok := game.AsRule(err); ok {
			res.Rejection = re
			// a fallen flag finishes the game even though the move is refused
			if errors.Is(err, game.ErrFlagFell) {
				s.Remember(game.Receipt{RequestID: cmd.RequestID, Kind: kind, Code: re.Code}, c.settings.MaxReceipts)
				s.UpdatedAt = now
				return nil
			}
			if len(expired) > 0 {
				s.UpdatedAt = now
				return nil
			}
			return store.ErrNoChange
		}
		if errors.Is(err, store.ErrNoChange) {
			if len(expired) > 0 {
				s.UpdatedAt = now
				return nil
			}
			return store.ErrNoChange
		}
		if err != nil {
			return err
		}
		res.Success = true
		events = append(events, kinds...)
		s.Remember(game.Receipt{RequestID: cmd.RequestID, Kind: kind, Success: true}, c.settings.MaxReceipts)
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}
		c.log.Error("session_commit_failed", zap.String("session_id", cmd.SessionID), zap.String("command", kind), zap.Error(err))
		return Result{}, err
	}
	res.Session = sess

	if cmd.ActorID != "" && sess.ColorOf(cmd.ActorID) != "" {
		if err := c.store.Touch(ctx, sess.ID, cmd.ActorID, now); err != nil {
			c.log.Warn("session_touch_failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	if sess.Version == loaded {
		return res, nil
	}
	if after != nil && res.Success {
		after(sess)
	}
	if sess.Status != fromStatus {
		events = append(events, sessiondto.EventStatusChanged)
	}
	if len(events) == 0 {
		events = append(events, sessiondto.EventSnapshot)
	}
	c.broadcast(sess, events, now)
	c.log.Debug("session_commit",
		zap.String("session_id", sess.ID),
		zap.String("command", kind),
		zap.String("actor_id", cmd.ActorID),
		zap.String("status", string(sess.Status)),
		zap.Int64("version", sess.Version),
	)

	if sess.Status.Terminal() && !fromStatus.Terminal() {
		c.cool.forget(sess.ID)
		c.log.Info("session_terminal",
			zap.String("session_id", sess.ID),
			zap.String("status", string(sess.Status)),
			zap.String("end_reason", string(sess.EndReason)),
			zap.String("winner_id", sess.WinnerID()),
			zap.Bool("forfeit", sess.Forfeit),
		)
		c.concludeAsync(sess.Concluded())
	}
	return res, nil
}

func (c *Coordinator) broadcast(s *game.Session, kinds []sessiondto.EventKind, now time.Time) {
	if c.bus == nil {
		return
	}
	snap := s.Snapshot(now)
	seen := make(map[sessiondto.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true
		c.bus.Publish(s.ID, sessiondto.Event{
			Kind:      k,
			SessionID: s.ID,
			Version:   s.Version,
			Session:   &snap,
			At:        now,
		})
	}
}

func (c *Coordinator) concludeAsync(g domain.ConcludedGame) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		c.conclude(ctx, g)
	}()
}

// conclude publishes g and clears the pending mark on success. On failure
// the mark stays and the sweeper retries later.
func (c *Coordinator) conclude(ctx context.Context, g domain.ConcludedGame) {
	if c.results != nil {
		if err := c.results.Publish(ctx, g); err != nil {
			c.log.Warn("session_conclusion_pending", zap.String("session_id", g.SessionID), zap.Error(err))
			return
		}
	}
	if err := c.store.MarkConcluded(ctx, g.SessionID); err != nil {
		c.log.Warn("session_conclusion_mark_failed", zap.String("session_id", g.SessionID), zap.Error(err))
	}
}

// RepublishConclusions retries every conclusion still marked pending.
func (c *Coordinator) RepublishConclusions(ctx context.Context) (int, error) {
	ids, err := c.store.PendingConclusions(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		s, err := c.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			_ = c.store.MarkConcluded(ctx, id)
			continue
		}
		if err != nil {
			return n, err
		}
		if !s.Status.Terminal() {
			continue
		}
		c.conclude(ctx, s.Concluded())
		n++
	}
	return n, nil
}
