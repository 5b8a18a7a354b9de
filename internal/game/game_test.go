package game

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-PvP-Server/internal/domain"
	"github.com/park285/Cheese-PvP-Server/internal/rules"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newActive(t *testing.T) *Session {
	t.Helper()
	s := New("s1", Player{ID: "alice", Name: "Alice"}, Player{ID: "bob", Name: "Bob"},
		TimeControl{Base: 5 * time.Minute, Increment: 3 * time.Second}, rules.StartFEN(), t0)
	require.NoError(t, s.Validate())
	require.NoError(t, s.Start(t0))
	s.SetConnected("alice", true)
	s.SetConnected("bob", true)
	return s
}

func codeOf(t *testing.T, err error) Code {
	t.Helper()
	re, ok := AsRule(err)
	if !ok {
		t.Fatalf("expected RuleError, got %v", err)
	}
	return re.Code
}

func TestLegacyStatusMapping(t *testing.T) {
	cases := map[string]Status{
		"in_progress": StatusActive,
		"In-Progress": StatusActive,
		"completed":   StatusFinished,
		"cancelled":   StatusAborted,
		"PENDING":     StatusWaiting,
		"suspended":   StatusPaused,
	}
	for raw, want := range cases {
		got, ok := ParseStatus(raw)
		if !ok || got != want {
			t.Fatalf("ParseStatus(%q) = %s,%v want %s", raw, got, ok, want)
		}
	}
	if got, ok := ParseStatus("???"); ok || got != StatusAborted {
		t.Fatalf("unknown status should map to aborted, got %s,%v", got, ok)
	}
	var st Status
	require.NoError(t, st.UnmarshalText([]byte("bogus")))
	require.Equal(t, StatusAborted, st)
	require.NoError(t, st.UnmarshalText([]byte("playing")))
	require.Equal(t, StatusActive, st)
	var er EndReason
	require.NoError(t, er.UnmarshalText([]byte("meteor")))
	require.Equal(t, EndAborted, er)

	r, ok := ParseEndReason("threefold repetition")
	require.True(t, ok)
	require.Equal(t, EndThreefold, r)
	r, ok = ParseEndReason("")
	require.True(t, ok)
	require.Equal(t, EndNone, r)
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	s := newActive(t)
	require.NoError(t, s.Resign("bob", t0.Add(time.Second)))
	require.Equal(t, StatusFinished, s.Status)
	require.Equal(t, EndResignation, s.EndReason)
	require.Equal(t, domain.White, s.Winner)
	require.Equal(t, "alice", s.WinnerID())
	require.False(t, s.Clock.Running)

	require.ErrorIs(t, s.Abort("late", t0.Add(2*time.Second)), ErrTerminal)
	require.ErrorIs(t, s.PauseGame(PauseUser, "alice", "", t0.Add(2*time.Second)), ErrTerminal)
	require.Equal(t, StatusFinished, s.Status)
	require.Equal(t, EndResignation, s.EndReason)

	for from := range transitions {
		require.False(t, CanTransition(StatusFinished, from))
		require.False(t, CanTransition(StatusAborted, from))
	}
}

func TestWaitingCannotPause(t *testing.T) {
	s := New("s1", Player{ID: "a"}, Player{ID: "b"}, TimeControl{}, rules.StartFEN(), t0)
	err := s.PauseGame(PauseUser, "a", "", t0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, s.Abort("no_show", t0))
	require.Equal(t, EndAborted, s.EndReason)
	require.Equal(t, "no_show", s.AbortReason)
}

func TestApplyMoveChecksTurnAndLegality(t *testing.T) {
	s := newActive(t)
	v := rules.New()

	_, err := s.ApplyMove(v, "bob", "e7e5", time.Time{}, t0.Add(time.Second))
	require.Equal(t, CodeNotYourTurn, codeOf(t, err))

	_, err = s.ApplyMove(v, "mallory", "e2e4", time.Time{}, t0.Add(time.Second))
	require.Equal(t, CodeNotParticipant, codeOf(t, err))

	_, err = s.ApplyMove(v, "alice", "e2e5", time.Time{}, t0.Add(time.Second))
	require.Equal(t, CodeIllegalMove, codeOf(t, err))
	require.Empty(t, s.Moves)

	mv, err := s.ApplyMove(v, "alice", "e4", time.Time{}, t0.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, "e2e4", mv.UCI)
	require.Equal(t, 2*time.Second, mv.Spent)
	require.Equal(t, domain.Black, s.Turn())
	require.Equal(t, 5*time.Minute+time.Second, s.Clock.White)
}

func TestApplyMoveWhilePausedIsRejected(t *testing.T) {
	s := newActive(t)
	require.NoError(t, s.RequestPause("alice", PauseUser, t0.Add(time.Second)))
	_, err := s.ApplyMove(rules.New(), "alice", "e2e4", time.Time{}, t0.Add(2*time.Second))
	require.Equal(t, CodeInvalidState, codeOf(t, err))
}

func TestCheckmateFinishesGame(t *testing.T) {
	s := newActive(t)
	v := rules.New()
	now := t0
	for i, m := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		now = now.Add(time.Second)
		_, err := s.ApplyMove(v, []string{"alice", "bob"}[i%2], m, time.Time{}, now)
		require.NoError(t, err)
	}
	require.Equal(t, StatusFinished, s.Status)
	require.Equal(t, EndCheckmate, s.EndReason)
	require.Equal(t, domain.Black, s.Winner)

	c := s.Concluded()
	require.Equal(t, "0-1", c.Result())
	require.Equal(t, []string{"f2f3", "e7e5", "g2g4", "d8h4"}, c.MovesUCI)
}

func TestFlagFallFinishesOnTime(t *testing.T) {
	s := newActive(t)
	_, err := s.ApplyMove(rules.New(), "alice", "e2e4", time.Time{}, t0.Add(6*time.Minute))
	require.ErrorIs(t, err, ErrFlagFell)
	require.Equal(t, StatusFinished, s.Status)
	require.Equal(t, EndTimeout, s.EndReason)
	require.Equal(t, domain.Black, s.Winner)
	require.Empty(t, s.Moves)
}

func TestPauseAfterFlagFallFinishesOnTime(t *testing.T) {
	for _, who := range []string{"alice", "bob"} {
		s := newActive(t)
		err := s.RequestPause(who, PauseUser, t0.Add(6*time.Minute))
		require.ErrorIs(t, err, ErrFlagFell)
		require.Equal(t, StatusFinished, s.Status)
		require.Equal(t, EndTimeout, s.EndReason)
		require.Equal(t, domain.Black, s.Winner)
		require.Nil(t, s.Pause)
	}
}

func TestTimeoutRequiresExpiredClock(t *testing.T) {
	s := newActive(t)
	require.Equal(t, CodeClockNotExpired, codeOf(t, s.Timeout(t0.Add(time.Minute))))
	require.NoError(t, s.Timeout(t0.Add(5*time.Minute+time.Millisecond)))
	require.Equal(t, domain.Black, s.Winner)
}

func TestPauseResumeNegotiation(t *testing.T) {
	s := newActive(t)
	require.NoError(t, s.RequestPause("alice", PauseUser, t0.Add(10*time.Second)))
	require.Equal(t, StatusPaused, s.Status)
	require.Equal(t, 5*time.Minute-10*time.Second, s.Pause.Frozen.White)

	err := s.RequestPause("bob", PauseUser, t0.Add(11*time.Second))
	require.Equal(t, CodeNegotiationPending, codeOf(t, err))

	req, err := s.RequestResume("alice", 45*time.Second, t0.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, req.Lobby)

	_, err = s.RequestResume("bob", 45*time.Second, t0.Add(time.Minute))
	re, _ := AsRule(err)
	require.Equal(t, CodeNegotiationPending, re.Code)
	require.NotNil(t, re.Pending)
	require.Equal(t, req.ID, re.Pending.ID)

	require.Equal(t, CodeInvalidState, codeOf(t, s.RespondResume("alice", true, 5*time.Second, t0.Add(61*time.Second))))
	require.NoError(t, s.RespondResume("bob", true, 5*time.Second, t0.Add(62*time.Second)))
	require.Equal(t, StatusActive, s.Status)
	require.Nil(t, s.Pause)
	require.Nil(t, s.Resume)
	require.Equal(t, ResponseAccepted, s.LastResolved.Outcome)

	// grace window is free, then the clock runs again
	at := t0.Add(62*time.Second + 5*time.Second + 3*time.Second)
	require.Equal(t, 5*time.Minute-13*time.Second, s.Clock.Remaining(domain.White, at))
}

func TestResumeRequestExpires(t *testing.T) {
	s := newActive(t)
	require.NoError(t, s.RequestPause("alice", PauseUser, t0))
	_, err := s.RequestResume("alice", 45*time.Second, t0.Add(time.Second))
	require.NoError(t, err)

	require.Empty(t, s.ExpireNegotiations(t0.Add(45*time.Second)))
	snap := s.Snapshot(t0.Add(47 * time.Second))
	require.Nil(t, snap.Resume)

	out := s.ExpireNegotiations(t0.Add(46 * time.Second))
	require.Len(t, out, 1)
	require.Equal(t, ResponseExpired, out[0].Outcome)
	require.Nil(t, s.Resume)
	require.Equal(t, StatusPaused, s.Status)
	require.Equal(t, CodeNoPendingNegotiation, codeOf(t, s.RespondResume("bob", true, 0, t0.Add(50*time.Second))))
}

func TestLobbyResumeWhenOpponentOffline(t *testing.T) {
	s := newActive(t)
	require.NoError(t, s.RequestPause("alice", PauseDisconnect, t0))
	require.Equal(t, "bob", s.Pause.AbsentPlayer)
	s.SetConnected("bob", false)

	req, err := s.RequestResume("alice", time.Minute, t0.Add(time.Second))
	require.NoError(t, err)
	require.True(t, req.Lobby)
	require.Nil(t, s.LobbyResumeFor("alice"))
	require.Equal(t, req, s.LobbyResumeFor("bob"))
}

func TestDrawOfferAcceptAndDecline(t *testing.T) {
	s := newActive(t)
	_, err := s.OfferDraw("alice", time.Minute, t0.Add(time.Second))
	require.NoError(t, err)
	_, err = s.OfferDraw("bob", time.Minute, t0.Add(2*time.Second))
	require.Equal(t, CodeNegotiationPending, codeOf(t, err))
	require.True(t, s.Clock.Running)

	require.NoError(t, s.RespondDraw("bob", false, t0.Add(3*time.Second)))
	require.Nil(t, s.Draw)
	require.Equal(t, ResponseDeclined, s.LastResolved.Outcome)

	_, err = s.OfferDraw("bob", time.Minute, t0.Add(4*time.Second))
	require.NoError(t, err)
	require.NoError(t, s.RespondDraw("alice", true, t0.Add(5*time.Second)))
	require.Equal(t, StatusFinished, s.Status)
	require.Equal(t, EndDrawAgreed, s.EndReason)
	require.Empty(t, string(s.Winner))
	require.Equal(t, "1/2-1/2", s.Concluded().Result())
}

func TestTerminalTransitionCancelsNegotiations(t *testing.T) {
	s := newActive(t)
	_, err := s.OfferDraw("alice", time.Minute, t0)
	require.NoError(t, err)
	require.NoError(t, s.Resign("alice", t0.Add(time.Second)))
	require.Nil(t, s.Draw)
	require.Equal(t, ResponseExpired, s.LastResolved.Outcome)
}

func TestForfeitAbsent(t *testing.T) {
	t.Run("absent player loses", func(t *testing.T) {
		s := newActive(t)
		require.NoError(t, s.PauseGame(PauseDisconnect, "", "bob", t0))
		s.SetConnected("bob", false)
		seen := map[string]time.Time{"alice": t0.Add(time.Minute), "bob": t0.Add(-time.Second)}
		require.NoError(t, s.ForfeitAbsent(seen, t0.Add(10*time.Minute)))
		require.Equal(t, EndTimeout, s.EndReason)
		require.True(t, s.Forfeit)
		require.Equal(t, domain.White, s.Winner)
	})
	t.Run("nobody came back", func(t *testing.T) {
		s := newActive(t)
		require.NoError(t, s.PauseGame(PauseInactivity, "", "", t0))
		s.SetConnected("alice", false)
		s.SetConnected("bob", false)
		require.NoError(t, s.ForfeitAbsent(nil, t0.Add(10*time.Minute)))
		require.Equal(t, StatusAborted, s.Status)
		require.Equal(t, "double_forfeit", s.AbortReason)
	})
	t.Run("not paused", func(t *testing.T) {
		s := newActive(t)
		require.Equal(t, CodeInvalidState, codeOf(t, s.ForfeitAbsent(nil, t0)))
	})
}

func TestReceiptsAreBounded(t *testing.T) {
	s := newActive(t)
	for i := 0; i < 10; i++ {
		s.Remember(Receipt{RequestID: string(rune('a' + i)), Success: true, Version: int64(i)}, 4)
	}
	require.Len(t, s.Receipts, 4)
	_, ok := s.Receipt("a")
	require.False(t, ok)
	r, ok := s.Receipt("j")
	require.True(t, ok)
	require.Equal(t, int64(9), r.Version)
	_, ok = s.Receipt("")
	require.False(t, ok)
}

func TestValidateRejectsBrokenSessions(t *testing.T) {
	s := newActive(t)
	s.Status = StatusFinished
	require.True(t, errors.Is(s.Validate(), ErrInvalidSession))
	s = newActive(t)
	s.Black.ID = s.White.ID
	require.Error(t, s.Validate())
}
