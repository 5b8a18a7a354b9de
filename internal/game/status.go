package game

import "strings"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
	StatusAborted  Status = "aborted"
)

// Terminal reports the absorbing states.
func (s Status) Terminal() bool { return s == StatusFinished || s == StatusAborted }

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusPaused, StatusFinished, StatusAborted:
		return true
	}
	return false
}

// legacyStatus maps every spelling seen in stored or client data to the
// canonical set. Keys are normalized by normalizeLegacy.
var legacyStatus = map[string]Status{
	"waiting": StatusWaiting, "pending": StatusWaiting, "created": StatusWaiting,
	"new": StatusWaiting, "open": StatusWaiting, "lobby": StatusWaiting, "invited": StatusWaiting,

	"active": StatusActive, "in_progress": StatusActive, "inprogress": StatusActive,
	"playing": StatusActive, "started": StatusActive, "ongoing": StatusActive, "running": StatusActive,

	"paused": StatusPaused, "suspended": StatusPaused, "on_hold": StatusPaused,
	"hold": StatusPaused, "idle": StatusPaused,

	"finished": StatusFinished, "completed": StatusFinished, "complete": StatusFinished,
	"done": StatusFinished, "ended": StatusFinished, "over": StatusFinished,
	"resigned": StatusFinished, "draw": StatusFinished, "drawn": StatusFinished,
	"checkmate": StatusFinished, "timeout": StatusFinished, "stalemate": StatusFinished,
	"forfeit": StatusFinished,

	"aborted": StatusAborted, "cancelled": StatusAborted, "canceled": StatusAborted,
	"abandoned": StatusAborted, "void": StatusAborted, "double_forfeit": StatusAborted,
}

// ParseStatus maps any externally observed status value to the canonical
// set. Unknown values map to StatusAborted with ok=false so callers at the
// boundary can decide whether to reject them.
func ParseStatus(raw string) (Status, bool) {
	if s, ok := legacyStatus[normalizeLegacy(raw)]; ok {
		return s, true
	}
	return StatusAborted, false
}

// UnmarshalText never fails: unknown values decode as StatusAborted.
// Boundaries that must report them check ParseStatus on the raw value.
func (s *Status) UnmarshalText(b []byte) error {
	*s, _ = ParseStatus(string(b))
	return nil
}

// EndReason explains a terminal status.
type EndReason string

const (
	EndNone                 EndReason = ""
	EndCheckmate            EndReason = "checkmate"
	EndResignation          EndReason = "resignation"
	EndStalemate            EndReason = "stalemate"
	EndTimeout              EndReason = "timeout"
	EndDrawAgreed           EndReason = "draw_agreed"
	EndThreefold            EndReason = "threefold"
	EndFiftyMove            EndReason = "fifty_move"
	EndInsufficientMaterial EndReason = "insufficient_material"
	EndAborted              EndReason = "aborted"
)

// Draw reports reasons that end without a winner.
func (r EndReason) Draw() bool {
	switch r {
	case EndStalemate, EndDrawAgreed, EndThreefold, EndFiftyMove, EndInsufficientMaterial:
		return true
	}
	return false
}

var legacyEndReason = map[string]EndReason{
	"checkmate": EndCheckmate, "mate": EndCheckmate,
	"resignation": EndResignation, "resign": EndResignation, "resigned": EndResignation,
	"stalemate": EndStalemate,
	"timeout": EndTimeout, "time_out": EndTimeout, "time": EndTimeout, "flag": EndTimeout,
	"time_forfeit": EndTimeout, "forfeit": EndTimeout,
	"draw_agreed": EndDrawAgreed, "agreement": EndDrawAgreed, "draw": EndDrawAgreed,
	"mutual_agreement": EndDrawAgreed, "draw_offer": EndDrawAgreed,
	"threefold": EndThreefold, "threefold_repetition": EndThreefold, "repetition": EndThreefold,
	"fivefold": EndThreefold, "fivefold_repetition": EndThreefold,
	"fifty_move": EndFiftyMove, "fifty_move_rule": EndFiftyMove, "50_move": EndFiftyMove,
	"fiftymove": EndFiftyMove, "seventy_five_move": EndFiftyMove, "seventy_five_move_rule": EndFiftyMove,
	"insufficient_material": EndInsufficientMaterial, "insufficient": EndInsufficientMaterial,
	"aborted": EndAborted, "abort": EndAborted, "cancelled": EndAborted, "canceled": EndAborted,
	"abandoned": EndAborted, "double_forfeit": EndAborted, "no_show": EndAborted,
}

// ParseEndReason is the total mapping for end reasons. An empty value maps
// to EndNone; unknown values map to EndAborted with ok=false.
func ParseEndReason(raw string) (EndReason, bool) {
	key := normalizeLegacy(raw)
	if key == "" {
		return EndNone, true
	}
	if r, ok := legacyEndReason[key]; ok {
		return r, true
	}
	return EndAborted, false
}

func (r *EndReason) UnmarshalText(b []byte) error {
	*r, _ = ParseEndReason(string(b))
	return nil
}

func normalizeLegacy(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}
