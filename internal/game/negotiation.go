package game

import (
	"time"

	"github.com/google/uuid"

	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// RequestPause pauses an active game on behalf of a participant. A game
// whose on-turn clock has already run out is finished on time instead and
// ErrFlagFell is returned.
func (s *Session) RequestPause(playerID string, reason PauseReason, now time.Time) error {
	c := s.ColorOf(playerID)
	if c == "" {
		return reject(CodeNotParticipant, "")
	}
	switch s.Status {
	case StatusPaused:
		return s.pending(s.pauseView())
	case StatusActive:
	default:
		return reject(CodeInvalidState, "game is not running")
	}
	if s.Clock.Flagged(now) {
		if err := s.Timeout(now); err != nil {
			return err
		}
		return ErrFlagFell
	}
	absent := ""
	if reason == PauseDisconnect {
		absent = s.Player(c.Opp()).ID
	}
	return s.PauseGame(reason, playerID, absent, now)
}

// RequestResume opens a resume negotiation on a paused game. When the
// counterparty is offline the request is marked as a lobby request and
// waits for them in the snapshot.
func (s *Session) RequestResume(playerID string, ttl time.Duration, now time.Time) (*ResumeNegotiation, error) {
	c := s.ColorOf(playerID)
	if c == "" {
		return nil, reject(CodeNotParticipant, "")
	}
	if s.Status != StatusPaused {
		return nil, reject(CodeInvalidState, "game is not paused")
	}
	if s.Resume != nil {
		return nil, s.pending(resumeView(s.Resume))
	}
	s.Resume = &ResumeNegotiation{
		ID:          uuid.NewString(),
		RequestedBy: playerID,
		RequestedAt: now,
		ExpiresAt:   now.Add(ttl),
		Lobby:       !s.Player(c.Opp()).Connected,
	}
	return s.Resume, nil
}

// RespondResume answers the pending resume request. Only the counterparty
// of the requester may answer.
func (s *Session) RespondResume(playerID string, accept bool, grace time.Duration, now time.Time) error {
	if s.ColorOf(playerID) == "" {
		return reject(CodeNotParticipant, "")
	}
	if s.Status != StatusPaused {
		return reject(CodeInvalidState, "game is not paused")
	}
	if s.Resume == nil {
		return reject(CodeNoPendingNegotiation, "no resume request")
	}
	if s.Resume.RequestedBy == playerID {
		return reject(CodeInvalidState, "cannot answer your own request")
	}
	req := s.Resume
	if !accept {
		s.Resume = nil
		s.LastResolved = &Resolution{ID: req.ID, Kind: KindResume, Outcome: ResponseDeclined, By: playerID, At: now}
		return nil
	}
	if err := s.ResumeGame(grace, now); err != nil {
		return err
	}
	s.LastResolved = &Resolution{ID: req.ID, Kind: KindResume, Outcome: ResponseAccepted, By: playerID, At: now}
	return nil
}

// OfferDraw records a draw offer. The clock keeps running.
func (s *Session) OfferDraw(playerID string, ttl time.Duration, now time.Time) (*DrawOffer, error) {
	if s.ColorOf(playerID) == "" {
		return nil, reject(CodeNotParticipant, "")
	}
	if s.Status != StatusActive {
		return nil, reject(CodeInvalidState, "game is not running")
	}
	if s.Draw != nil {
		return nil, s.pending(drawView(s.Draw))
	}
	s.Draw = &DrawOffer{
		ID:        uuid.NewString(),
		OfferedBy: playerID,
		OfferedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return s.Draw, nil
}

// RespondDraw answers a pending draw offer. Acceptance finishes the game
// through the regular terminal transition.
func (s *Session) RespondDraw(playerID string, accept bool, now time.Time) error {
	if s.ColorOf(playerID) == "" {
		return reject(CodeNotParticipant, "")
	}
	if s.Status != StatusActive && s.Status != StatusPaused {
		return reject(CodeInvalidState, "game is not running")
	}
	if s.Draw == nil {
		return reject(CodeNoPendingNegotiation, "no draw offer")
	}
	if s.Draw.OfferedBy == playerID {
		return reject(CodeInvalidState, "cannot answer your own offer")
	}
	offer := s.Draw
	if !accept {
		s.Draw = nil
		s.LastResolved = &Resolution{ID: offer.ID, Kind: KindDraw, Outcome: ResponseDeclined, By: playerID, At: now}
		return nil
	}
	s.Draw = nil
	if err := s.Finish(EndDrawAgreed, "", now); err != nil {
		return err
	}
	s.LastResolved = &Resolution{ID: offer.ID, Kind: KindDraw, Outcome: ResponseAccepted, By: playerID, At: now}
	return nil
}

// ExpireNegotiations clears requests whose deadline has passed and returns
// what it cleared.
func (s *Session) ExpireNegotiations(now time.Time) []Resolution {
	var out []Resolution
	if s.Resume != nil && !now.Before(s.Resume.ExpiresAt) {
		r := Resolution{ID: s.Resume.ID, Kind: KindResume, Outcome: ResponseExpired, At: now}
		s.Resume = nil
		out = append(out, r)
	}
	if s.Draw != nil && !now.Before(s.Draw.ExpiresAt) {
		r := Resolution{ID: s.Draw.ID, Kind: KindDraw, Outcome: ResponseExpired, At: now}
		s.Draw = nil
		out = append(out, r)
	}
	if len(out) > 0 {
		last := out[len(out)-1]
		s.LastResolved = &last
	}
	return out
}

// NextExpiry returns the earliest pending negotiation deadline.
func (s *Session) NextExpiry() (time.Time, bool) {
	var at time.Time
	if s.Resume != nil {
		at = s.Resume.ExpiresAt
	}
	if s.Draw != nil && (at.IsZero() || s.Draw.ExpiresAt.Before(at)) {
		at = s.Draw.ExpiresAt
	}
	return at, !at.IsZero()
}

// LobbyResumeFor returns the pending lobby request waiting for playerID.
func (s *Session) LobbyResumeFor(playerID string) *ResumeNegotiation {
	if s.Resume == nil || !s.Resume.Lobby || s.Resume.RequestedBy == playerID {
		return nil
	}
	if s.ColorOf(playerID) == "" {
		return nil
	}
	return s.Resume
}

func (s *Session) pending(n *sessiondto.Negotiation) *RuleError {
	return &RuleError{Code: CodeNegotiationPending, Message: "a request is already pending", Pending: n}
}

func (s *Session) pauseView() *sessiondto.Negotiation {
	if s.Resume != nil {
		return resumeView(s.Resume)
	}
	if s.Pause == nil {
		return nil
	}
	return &sessiondto.Negotiation{
		Kind:        string(KindPause),
		RequestedBy: s.Pause.InitiatedBy,
		RequestedAt: s.Pause.PausedAt,
	}
}

func resumeView(r *ResumeNegotiation) *sessiondto.Negotiation {
	if r == nil {
		return nil
	}
	return &sessiondto.Negotiation{
		ID:          r.ID,
		Kind:        string(KindResume),
		RequestedBy: r.RequestedBy,
		RequestedAt: r.RequestedAt,
		ExpiresAt:   r.ExpiresAt,
		Lobby:       r.Lobby,
	}
}

func drawView(d *DrawOffer) *sessiondto.Negotiation {
	if d == nil {
		return nil
	}
	return &sessiondto.Negotiation{
		ID:          d.ID,
		Kind:        string(KindDraw),
		RequestedBy: d.OfferedBy,
		RequestedAt: d.OfferedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

// SetConnected updates the presence flag of a participant and reports
// whether it changed.
func (s *Session) SetConnected(playerID string, connected bool) bool {
	c := s.ColorOf(playerID)
	if c == "" {
		return false
	}
	p := s.Player(c)
	if p.Connected == connected {
		return false
	}
	p.Connected = connected
	return true
}

// BothConnected reports whether both participants hold a live connection.
func (s *Session) BothConnected() bool { return s.White.Connected && s.Black.Connected }

// OnTurnPlayer is the participant whose clock is running.
func (s *Session) OnTurnPlayer() Player { return *s.Player(s.Clock.Turn) }
