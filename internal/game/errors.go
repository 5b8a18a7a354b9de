package game

import (
	"errors"

	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// Code identifies a business-rule rejection.
type Code string

const (
	CodeNotYourTurn          Code = "not_your_turn"
	CodeIllegalMove          Code = "illegal_move"
	CodeNegotiationPending   Code = "negotiation_pending"
	CodeNotParticipant       Code = "not_participant"
	CodeInvalidState         Code = "invalid_state"
	CodeNoPendingNegotiation Code = "no_pending_negotiation"
	CodeCooldown             Code = "cooldown"
	CodeTimeExpired          Code = "time_expired"
	CodeClockNotExpired      Code = "clock_not_expired"
)

// RuleError is a rejected command. It never changes the session.
type RuleError struct {
	Code    Code
	Message string
	// Pending is set for CodeNegotiationPending.
	Pending *sessiondto.Negotiation
}

func (e *RuleError) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

func reject(code Code, msg string) *RuleError { return &RuleError{Code: code, Message: msg} }

// AsRule unwraps a RuleError.
func AsRule(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

var (
	ErrTerminal          = errf("session is terminal")
	ErrInvalidTransition = errf("invalid status transition")
	ErrInvalidSession    = errf("invalid session")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
