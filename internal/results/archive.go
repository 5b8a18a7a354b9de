package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/Cheese-PvP-Server/internal/domain"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS pvp_games (
    session_id   TEXT PRIMARY KEY,
    white_id     TEXT NOT NULL,
    white_name   TEXT NOT NULL,
    black_id     TEXT NOT NULL,
    black_name   TEXT NOT NULL,
    time_control TEXT NOT NULL,
    status       TEXT NOT NULL,
    end_reason   TEXT NOT NULL,
    result       TEXT NOT NULL,
    winner_id    TEXT,
    forfeit      BOOLEAN NOT NULL DEFAULT FALSE,
    moves_uci    TEXT NOT NULL,
    moves_san    TEXT NOT NULL,
    pgn          TEXT NOT NULL,
    started_at   TIMESTAMPTZ,
    ended_at     TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL
)`

// Archive stores concluded games in Postgres. Inserts are keyed by session
// id and ignore duplicates, so republishing is harmless.
type Archive struct {
	db *sql.DB
}

func OpenArchive(ctx context.Context, databaseURL string) (*Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate pvp_games: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Name() string { return "postgres" }

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Archive) Publish(ctx context.Context, g domain.ConcludedGame) error {
	uciRaw, _ := json.Marshal(g.MovesUCI)
	sanRaw, _ := json.Marshal(g.MovesSAN)
	var started any
	if !g.StartedAt.IsZero() {
		started = g.StartedAt
	}
	var winner any
	if g.WinnerID != "" {
		winner = g.WinnerID
	}
	_, err := a.db.ExecContext(ctx, `INSERT INTO pvp_games (
        session_id, white_id, white_name, black_id, black_name, time_control,
        status, end_reason, result, winner_id, forfeit,
        moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
      ON CONFLICT (session_id) DO NOTHING`,
		g.SessionID, g.WhiteID, g.WhiteName, g.BlackID, g.BlackName, g.TimeControl,
		g.Status, g.EndReason, g.Result(), winner, g.Forfeit,
		string(uciRaw), string(sanRaw), BuildPGN(g), started, g.EndedAt, durationMs(g),
	)
	return err
}

func durationMs(g domain.ConcludedGame) int64 {
	if g.StartedAt.IsZero() || g.EndedAt.Before(g.StartedAt) {
		return 0
	}
	return g.EndedAt.Sub(g.StartedAt).Milliseconds()
}

// BuildPGN renders the game as PGN with standard headers.
func BuildPGN(g domain.ConcludedGame) string {
	var b strings.Builder
	date := g.EndedAt
	if date.IsZero() {
		date = g.StartedAt
	}
	fmt.Fprintf(&b, "[Event \"Cheese PvP\"]\n")
	fmt.Fprintf(&b, "[Site \"%s\"]\n", sanitizePGN(g.SessionID))
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(g.WhiteName))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(g.BlackName))
	if tc := strings.TrimSpace(g.TimeControl); tc != "" {
		fmt.Fprintf(&b, "[TimeControl \"%s\"]\n", sanitizePGN(tc))
	}
	if g.EndReason != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(g.EndReason))
	}
	result := g.Result()
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	for i := 0; i < len(g.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(g.MovesSAN[i]))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
			b.WriteString(" ")
		}
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
