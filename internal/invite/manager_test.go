package invite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-PvP-Server/internal/config"
	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewMemory()
	coord := coordinator.New(st, coordinator.Settings{
		Timing:             config.DefaultTiming(),
		DefaultTimeControl: game.TimeControl{Base: 5 * time.Minute, Increment: 3 * time.Second},
	})
	return NewManager(rdb, coord), st
}

func TestMakeJoinCreatesSession(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	inv, err := m.Make(ctx, "u1", "Alice", "white", "3+2")
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if len(inv.Code) != len("PVP-XXXXXX") {
		t.Fatalf("unexpected code %q", inv.Code)
	}
	lobby, err := m.ListLobby(ctx)
	if err != nil || len(lobby) != 1 {
		t.Fatalf("ListLobby: %v %d", err, len(lobby))
	}

	jr, err := m.Join(ctx, inv.Code, "u2", "Bob")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !jr.Started || jr.SessionID == "" {
		t.Fatalf("expected session on join: %+v", jr)
	}
	s, err := st.Get(ctx, jr.SessionID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if s.White.ID != "u1" || s.Black.ID != "u2" || s.Status != game.StatusWaiting {
		t.Fatalf("unexpected session: white=%s black=%s status=%s", s.White.ID, s.Black.ID, s.Status)
	}
	if s.Clock.Base != 3*time.Minute {
		t.Fatalf("time control not applied: %v", s.Clock.Base)
	}

	got, err := m.Get(ctx, inv.Code)
	if err != nil || got.SessionID != jr.SessionID || got.State != StateStarted {
		t.Fatalf("Get invite: %v %+v", err, got)
	}
	lobby, _ = m.ListLobby(ctx)
	if len(lobby) != 0 {
		t.Fatalf("started invite still listed")
	}
}

func TestJoinRejections(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	inv, err := m.Make(ctx, "u1", "Alice", "", "")
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if _, err := m.Make(ctx, "u1", "Alice", "", ""); !errors.Is(err, ErrCreatorHasLobby) {
		t.Fatalf("second Make: want ErrCreatorHasLobby, got %v", err)
	}
	if _, err := m.Join(ctx, inv.Code, "u1", "Alice"); !errors.Is(err, ErrSelfJoin) {
		t.Fatalf("self join: want ErrSelfJoin, got %v", err)
	}
	if _, err := m.Join(ctx, "PVP-NOPE00", "u2", "Bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing code: want ErrNotFound, got %v", err)
	}
	if _, err := m.Join(ctx, inv.Code, "u2", "Bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := m.Join(ctx, inv.Code, "u3", "Carol"); !errors.Is(err, ErrFull) {
		t.Fatalf("third join: want ErrFull, got %v", err)
	}
}

func TestConcurrentJoinsOneWinner(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	inv, err := m.Make(ctx, "u1", "Alice", "", "")
	if err != nil {
		t.Fatalf("Make: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, u := range []string{"u2", "u3", "u4", "u5"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := m.Join(ctx, inv.Code, u, u)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrFull) {
				t.Errorf("join %s: %v", u, err)
			}
		}(u)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestCancel(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	inv, err := m.Make(ctx, "u1", "Alice", "", "")
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if err := m.Cancel(ctx, inv.Code, "u2"); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("cancel by stranger: %v", err)
	}
	if err := m.Cancel(ctx, inv.Code, "u1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := m.Join(ctx, inv.Code, "u2", "Bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("join cancelled: want ErrNotFound, got %v", err)
	}
	if _, err := m.Make(ctx, "u1", "Alice", "", ""); err != nil {
		t.Fatalf("Make after cancel: %v", err)
	}
}

type failingStarter struct{}

func (failingStarter) CreateSession(context.Context, coordinator.CreateParams) (*game.Session, error) {
	return nil, errors.New("store down")
}

func TestJoinReleasesSeatWhenSessionFails(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	m := NewManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), failingStarter{})
	ctx := context.Background()

	inv, err := m.Make(ctx, "u1", "Alice", "", "")
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if _, err := m.Join(ctx, inv.Code, "u2", "Bob"); err == nil {
		t.Fatalf("expected join to fail")
	}
	got, err := m.Get(ctx, inv.Code)
	if err != nil || got.State != StateLobby || got.JoinerID != "" {
		t.Fatalf("seat not released: %v %+v", err, got)
	}
	lobby, _ := m.ListLobby(ctx)
	if len(lobby) != 1 {
		t.Fatalf("invite not back in lobby")
	}
}
