package sessiondto

import "time"

type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Connected bool   `json:"connected"`
}

type Move struct {
	Ply       int       `json:"ply"`
	Color     string    `json:"color"`
	SAN       string    `json:"san"`
	UCI       string    `json:"uci"`
	FEN       string    `json:"fen"`
	AppliedAt time.Time `json:"applied_at"`
	SpentMs   int64     `json:"spent_ms"`
}

// Clock is a reading taken at AsOf; clients count down locally from it.
type Clock struct {
	WhiteMs     int64      `json:"white_ms"`
	BlackMs     int64      `json:"black_ms"`
	IncrementMs int64      `json:"increment_ms"`
	Untimed     bool       `json:"untimed,omitempty"`
	Running     bool       `json:"running"`
	Turn        string     `json:"turn"`
	GraceUntil  *time.Time `json:"grace_until,omitempty"`
	AsOf        time.Time  `json:"as_of"`
}

type Pause struct {
	Reason       string    `json:"reason"`
	InitiatedBy  string    `json:"initiated_by,omitempty"`
	AbsentPlayer string    `json:"absent_player,omitempty"`
	PausedAt     time.Time `json:"paused_at"`
	WhiteMs      int64     `json:"white_ms"`
	BlackMs      int64     `json:"black_ms"`
}

// Negotiation is a pending resume request or draw offer.
type Negotiation struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Lobby       bool      `json:"lobby,omitempty"`
}

// Resolution records how the most recent negotiation ended.
type Resolution struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Outcome string    `json:"outcome"`
	By      string    `json:"by,omitempty"`
	At      time.Time `json:"at"`
}

// Snapshot is the full authoritative state of one session.
type Snapshot struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	EndReason    string       `json:"end_reason,omitempty"`
	Winner       string       `json:"winner,omitempty"`
	Forfeit      bool         `json:"forfeit,omitempty"`
	AbortReason  string       `json:"abort_reason,omitempty"`
	TimeControl  string       `json:"time_control"`
	White        Participant  `json:"white"`
	Black        Participant  `json:"black"`
	FEN          string       `json:"fen"`
	Turn         string       `json:"turn"`
	Moves        []Move       `json:"moves"`
	Clock        Clock        `json:"clock"`
	Pause        *Pause       `json:"pause,omitempty"`
	Resume       *Negotiation `json:"resume,omitempty"`
	Draw         *Negotiation `json:"draw,omitempty"`
	LastResolved *Resolution  `json:"last_resolved,omitempty"`
	Version      int64        `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
	EndedAt      *time.Time   `json:"ended_at,omitempty"`
}
