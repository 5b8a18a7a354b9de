package domain

import (
	"strings"
	"time"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opp returns the other side.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

// ParseColor accepts "white"/"w" and "black"/"b" in any case.
func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, true
	case "black", "b":
		return Black, true
	default:
		return "", false
	}
}

// ConcludedGame is the fact handed to downstream consumers once a session
// reaches a terminal status. Winner is empty for draws and aborted games.
type ConcludedGame struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	EndReason   string    `json:"end_reason"`
	Winner      Color     `json:"winner,omitempty"`
	WinnerID    string    `json:"winner_id,omitempty"`
	Draw        bool      `json:"draw"`
	Forfeit     bool      `json:"forfeit,omitempty"`
	WhiteID     string    `json:"white_id"`
	WhiteName   string    `json:"white_name"`
	BlackID     string    `json:"black_id"`
	BlackName   string    `json:"black_name"`
	TimeControl string    `json:"time_control"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Result returns the PGN-style result token for the game.
func (g ConcludedGame) Result() string {
	switch {
	case g.Winner == White:
		return "1-0"
	case g.Winner == Black:
		return "0-1"
	case g.Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}
