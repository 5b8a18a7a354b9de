package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-PvP-Server/internal/config"
	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/domain"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type sink struct {
	mu   sync.Mutex
	fail bool
	n    int
}

func (s *sink) Publish(context.Context, domain.ConcludedGame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("down")
	}
	s.n++
	return nil
}

type env struct {
	st    store.Store
	clk   *fakeClock
	coord *coordinator.Coordinator
	sw    *Sweeper
	sink  *sink
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{st: store.NewMemory(), clk: &fakeClock{t: t0}, sink: &sink{}}
	timing := config.DefaultTiming()
	e.coord = coordinator.New(e.st, coordinator.Settings{
		Timing:             timing,
		DefaultTimeControl: game.TimeControl{Base: 5 * time.Minute, Increment: 3 * time.Second},
	}, coordinator.WithClock(e.clk.Now), coordinator.WithConcluder(e.sink))
	t.Cleanup(e.coord.Wait)
	e.sw = New(e.st, e.coord, timing, WithClock(e.clk.Now), WithParallelism(2))
	return e
}

func (e *env) create(t *testing.T, start bool) string {
	t.Helper()
	ctx := context.Background()
	s, err := e.coord.CreateSession(ctx, coordinator.CreateParams{
		Creator:  game.Player{ID: "alice", Name: "Alice"},
		Opponent: game.Player{ID: "bob", Name: "Bob"},
		Color:    "white",
	})
	require.NoError(t, err)
	if start {
		_, err = e.coord.Connect(ctx, s.ID, "alice")
		require.NoError(t, err)
		_, err = e.coord.Connect(ctx, s.ID, "bob")
		require.NoError(t, err)
	}
	return s.ID
}

func (e *env) get(t *testing.T, id string) *game.Session {
	t.Helper()
	s, err := e.st.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestTickLeavesHealthyGamesAlone(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, true)
	e.clk.Advance(30 * time.Second)

	stats, err := e.sw.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Checked: 1}, stats)
	require.Equal(t, game.StatusActive, e.get(t, id).Status)
}

func TestTickAbortsNoShow(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, false)
	e.clk.Advance(3*time.Minute + time.Second)

	stats, err := e.sw.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Aborted)
	s := e.get(t, id)
	require.Equal(t, game.StatusAborted, s.Status)
	require.Equal(t, "no_show", s.AbortReason)

	live, err := e.st.Live(context.Background())
	require.NoError(t, err)
	require.Empty(t, live)
}

func TestTickFinishesFlaggedGame(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, true)
	e.clk.Advance(5*time.Minute + time.Second)

	stats, err := e.sw.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TimedOut)
	require.Zero(t, stats.Paused)
	s := e.get(t, id)
	require.Equal(t, game.EndTimeout, s.EndReason)
	require.Equal(t, domain.Black, s.Winner)
}

func TestTickPausesThenForfeits(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, true)
	ctx := context.Background()

	e.clk.Advance(91 * time.Second)
	stats, err := e.sw.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Paused)
	s := e.get(t, id)
	require.Equal(t, game.StatusPaused, s.Status)
	require.Equal(t, game.PauseInactivity, s.Pause.Reason)

	e.clk.Advance(5 * time.Minute)
	stats, err = e.sw.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Forfeited)

	e.clk.Advance(5 * time.Minute)
	stats, err = e.sw.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Forfeited)
	s = e.get(t, id)
	require.Equal(t, game.StatusFinished, s.Status)
	require.True(t, s.Forfeit)
	require.Equal(t, domain.Black, s.Winner)
}

func TestHeartbeatPreventsInactivityPause(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, true)
	ctx := context.Background()

	e.clk.Advance(60 * time.Second)
	require.NoError(t, e.coord.Heartbeat(ctx, id, "alice"))
	e.clk.Advance(60 * time.Second)

	stats, err := e.sw.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Paused)
	require.Equal(t, game.StatusActive, e.get(t, id).Status)
}

func TestTickExpiresDrawOffer(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, true)
	ctx := context.Background()

	res, err := e.coord.OfferDraw(ctx, coordinator.Command{SessionID: id, ActorID: "alice", RequestID: "d1"})
	require.NoError(t, err)
	require.True(t, res.Success)

	e.clk.Advance(61 * time.Second)
	stats, err := e.sw.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Expired)
	s := e.get(t, id)
	require.Nil(t, s.Draw)
	require.Equal(t, game.ResponseExpired, s.LastResolved.Outcome)
}

func TestTickRepublishesPendingConclusions(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, true)
	ctx := context.Background()

	e.sink.mu.Lock()
	e.sink.fail = true
	e.sink.mu.Unlock()
	_, err := e.coord.Abort(ctx, id, "admin")
	require.NoError(t, err)
	e.coord.Wait()

	e.sink.mu.Lock()
	e.sink.fail = false
	e.sink.mu.Unlock()
	stats, err := e.sw.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Republished)
	require.Equal(t, 1, e.sink.n)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	timing := config.DefaultTiming()
	timing.SweepInterval = 5 * time.Millisecond
	sw := New(e.st, e.coord, timing, WithClock(e.clk.Now))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
