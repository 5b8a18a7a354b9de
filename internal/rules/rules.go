// Package rules adapts corentings/chess to the move validation the session
// engine needs. A position is identified by its UCI move history from the
// standard start, so repetition claims see the whole game.
package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/domain"
	"github.com/park285/Cheese-PvP-Server/internal/obslog"
)

// Terminal is the game-ending condition detected on a position.
type Terminal string

const (
	None                 Terminal = ""
	Checkmate            Terminal = "checkmate"
	Stalemate            Terminal = "stalemate"
	Threefold            Terminal = "threefold"
	FiftyMove            Terminal = "fifty_move"
	InsufficientMaterial Terminal = "insufficient_material"
)

// Applied describes a successfully applied move.
type Applied struct {
	UCI      string
	SAN      string
	FEN      string
	Turn     domain.Color
	Terminal Terminal
}

var (
	ErrIllegalMove    = errf("illegal move")
	ErrCorruptHistory = errf("stored move history does not replay")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Validator is stateless; the zero value is ready to use.
type Validator struct{}

func New() Validator { return Validator{} }

// IsLegal reports whether move (UCI or SAN) is legal after history.
func (v Validator) IsLegal(history []string, move string) bool {
	game, err := replay(history)
	if err != nil {
		return false
	}
	_, err = resolve(game, move)
	return err == nil
}

// Apply plays move (UCI preferred, SAN accepted) on the position reached by
// history and reports the resulting position. Threefold repetition and the
// fifty-move rule are claimed automatically.
func (v Validator) Apply(history []string, move string) (Applied, error) {
	game, err := replay(history)
	if err != nil {
		return Applied{}, err
	}
	pos := game.Position()
	mv, err := resolve(game, move)
	if err != nil {
		return Applied{}, err
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	uci := mv.String()
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return Applied{}, ErrIllegalMove
	}
	claimDraws(game)
	return Applied{
		UCI:      uci,
		SAN:      san,
		FEN:      game.FEN(),
		Turn:     colorFrom(game.Position().Turn()),
		Terminal: terminalOf(game),
	}, nil
}

// StartFEN is the standard initial position.
func StartFEN() string { return nchess.NewGame().FEN() }

func replay(history []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for _, mv := range history {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, ErrCorruptHistory
		}
	}
	return game, nil
}

// resolve decodes move as UCI, then SAN, and returns it only if it is one
// of the legal moves of the current position.
func resolve(game *nchess.Game, move string) (*nchess.Move, error) {
	raw := strings.TrimSpace(move)
	if raw == "" {
		return nil, ErrIllegalMove
	}
	pos := game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, strings.ToLower(raw))
	if err != nil {
		mv, err = nchess.AlgebraicNotation{}.Decode(pos, raw)
		if err != nil {
			return nil, ErrIllegalMove
		}
	}
	want := mv.String()
	for _, legal := range game.ValidMoves() {
		if legal.String() == want {
			return mv, nil
		}
	}
	return nil, ErrIllegalMove
}

func claimDraws(game *nchess.Game) {
	if game.Outcome() != nchess.NoOutcome {
		return
	}
	for _, m := range game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			if err := game.Draw(m); err != nil {
				obslog.L().Warn("rules_draw_claim_failed", zap.String("method", m.String()), zap.Error(err))
			}
			return
		}
	}
}

func terminalOf(game *nchess.Game) Terminal {
	if game.Outcome() == nchess.NoOutcome {
		return None
	}
	switch game.Method() {
	case nchess.Checkmate:
		return Checkmate
	case nchess.Stalemate:
		return Stalemate
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return Threefold
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return FiftyMove
	case nchess.InsufficientMaterial:
		return InsufficientMaterial
	default:
		return None
	}
}

func colorFrom(c nchess.Color) domain.Color {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}
