// Package game holds the authoritative session model: status machine,
// negotiations and move application. Every method mutates the receiver in
// place and expects the caller to hold the session's serialization lock.
package game

import (
	"strings"
	"time"

	"github.com/park285/Cheese-PvP-Server/internal/clock"
	"github.com/park285/Cheese-PvP-Server/internal/domain"
)

type Player struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Color     domain.Color `json:"color"`
	Connected bool         `json:"connected"`
}

type Move struct {
	Ply             int           `json:"ply"`
	Color           domain.Color  `json:"color"`
	SAN             string        `json:"san"`
	UCI             string        `json:"uci"`
	FEN             string        `json:"fen"`
	AppliedAt       time.Time     `json:"applied_at"`
	Spent           time.Duration `json:"spent"`
	ClientTimestamp time.Time     `json:"client_ts,omitempty"`
}

type TimeControl struct {
	Base      time.Duration `json:"base"`
	Increment time.Duration `json:"increment"`
}

func (tc TimeControl) String() string { return clock.FormatTimeControl(tc.Base, tc.Increment) }

type PauseReason string

const (
	PauseUser       PauseReason = "user"
	PauseInactivity PauseReason = "inactivity"
	PauseDisconnect PauseReason = "disconnect"
)

// ParsePauseReason defaults to PauseUser.
func ParsePauseReason(s string) PauseReason {
	switch PauseReason(strings.ToLower(strings.TrimSpace(s))) {
	case PauseInactivity:
		return PauseInactivity
	case PauseDisconnect:
		return PauseDisconnect
	default:
		return PauseUser
	}
}

// PauseInfo exists only while the session is paused.
type PauseInfo struct {
	Reason PauseReason `json:"reason"`
	// InitiatedBy is empty when the sweeper paused the game.
	InitiatedBy  string       `json:"initiated_by,omitempty"`
	AbsentPlayer string       `json:"absent_player,omitempty"`
	PausedAt     time.Time    `json:"paused_at"`
	Frozen       clock.Frozen `json:"frozen"`
}

type Response string

const (
	ResponseNone     Response = ""
	ResponseAccepted Response = "accepted"
	ResponseDeclined Response = "declined"
	ResponseExpired  Response = "expired"
)

type ResumeNegotiation struct {
	ID          string    `json:"id"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Response    Response  `json:"response,omitempty"`
	// Lobby marks a request made while the counterparty was offline.
	Lobby bool `json:"lobby,omitempty"`
}

type DrawOffer struct {
	ID        string    `json:"id"`
	OfferedBy string    `json:"offered_by"`
	OfferedAt time.Time `json:"offered_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Response  Response  `json:"response,omitempty"`
}

type NegotiationKind string

const (
	KindResume NegotiationKind = "resume"
	KindDraw   NegotiationKind = "draw"
	KindPause  NegotiationKind = "pause"
)

// Resolution records the outcome of the latest negotiation so clients can
// tell a declined request from an expired one.
type Resolution struct {
	ID      string          `json:"id"`
	Kind    NegotiationKind `json:"kind"`
	Outcome Response        `json:"outcome"`
	By      string          `json:"by,omitempty"`
	At      time.Time       `json:"at"`
}

// Session is one game between two bound participants.
type Session struct {
	ID          string       `json:"id"`
	White       Player       `json:"white"`
	Black       Player       `json:"black"`
	Status      Status       `json:"status"`
	EndReason   EndReason    `json:"end_reason,omitempty"`
	Winner      domain.Color `json:"winner,omitempty"`
	Forfeit     bool         `json:"forfeit,omitempty"`
	AbortReason string       `json:"abort_reason,omitempty"`
	TimeControl TimeControl  `json:"time_control"`

	FEN   string      `json:"fen"`
	Moves []Move      `json:"moves"`
	Clock clock.State `json:"clock"`

	Pause        *PauseInfo         `json:"pause,omitempty"`
	Resume       *ResumeNegotiation `json:"resume,omitempty"`
	Draw         *DrawOffer         `json:"draw,omitempty"`
	LastResolved *Resolution        `json:"last_resolved,omitempty"`

	// LastActivityAt is the latest move, start or resume.
	LastActivityAt time.Time `json:"last_activity_at"`
	Receipts       []Receipt `json:"receipts,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// New binds two participants into a waiting session.
func New(id string, white, black Player, tc TimeControl, startFEN string, now time.Time) *Session {
	white.Color = domain.White
	black.Color = domain.Black
	white.Connected, black.Connected = false, false
	return &Session{
		ID:          id,
		White:       white,
		Black:       black,
		Status:      StatusWaiting,
		TimeControl: tc,
		FEN:         startFEN,
		Moves:       []Move{},
		Clock:       clock.New(tc.Base, tc.Increment),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks structural invariants of a loaded or newly built session.
func (s *Session) Validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return ErrInvalidSession
	case s.White.ID == "" || s.Black.ID == "" || s.White.ID == s.Black.ID:
		return ErrInvalidSession
	case !s.Status.Valid():
		return ErrInvalidSession
	case s.Status.Terminal() != (s.EndReason != EndNone):
		return ErrInvalidSession
	case (s.Status == StatusPaused) != (s.Pause != nil):
		return ErrInvalidSession
	}
	return nil
}

// Turn is the color to move.
func (s *Session) Turn() domain.Color { return s.Clock.Turn }

// ColorOf returns the color of a participant, or "" for strangers.
func (s *Session) ColorOf(playerID string) domain.Color {
	switch playerID {
	case "":
		return ""
	case s.White.ID:
		return domain.White
	case s.Black.ID:
		return domain.Black
	}
	return ""
}

func (s *Session) Player(c domain.Color) *Player {
	if c == domain.White {
		return &s.White
	}
	return &s.Black
}

// Opponent returns the other participant of playerID.
func (s *Session) Opponent(playerID string) *Player {
	c := s.ColorOf(playerID)
	if c == "" {
		return nil
	}
	return s.Player(c.Opp())
}

// UCIHistory lists the applied moves in UCI notation.
func (s *Session) UCIHistory() []string {
	out := make([]string, len(s.Moves))
	for i, m := range s.Moves {
		out[i] = m.UCI
	}
	return out
}

func (s *Session) SANHistory() []string {
	out := make([]string, len(s.Moves))
	for i, m := range s.Moves {
		out[i] = m.SAN
	}
	return out
}

// WinnerID is the id of the winning participant, empty for draws and aborts.
func (s *Session) WinnerID() string {
	if !s.Winner.Valid() {
		return ""
	}
	return s.Player(s.Winner).ID
}

// Concluded builds the fact emitted for a terminal session.
func (s *Session) Concluded() domain.ConcludedGame {
	return domain.ConcludedGame{
		SessionID:   s.ID,
		Status:      string(s.Status),
		EndReason:   string(s.EndReason),
		Winner:      s.Winner,
		WinnerID:    s.WinnerID(),
		Draw:        s.Status == StatusFinished && !s.Winner.Valid(),
		Forfeit:     s.Forfeit,
		WhiteID:     s.White.ID,
		WhiteName:   s.White.Name,
		BlackID:     s.Black.ID,
		BlackName:   s.Black.Name,
		TimeControl: s.TimeControl.String(),
		MovesUCI:    s.UCIHistory(),
		MovesSAN:    s.SANHistory(),
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
	}
}
