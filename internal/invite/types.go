package invite

import (
	"time"

	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

type State string

const (
	StateLobby     State = "lobby"
	StateStarted   State = "started"
	StateCancelled State = "cancelled"
)

// Invite is stored as JSON under pvp:invite:<code>.
type Invite struct {
	Code        string    `json:"code"`
	State       State     `json:"state"`
	CreatorID   string    `json:"creator_id"`
	CreatorName string    `json:"creator_name"`
	Color       string    `json:"color,omitempty"`
	TimeControl string    `json:"time_control,omitempty"`
	JoinerID    string    `json:"joiner_id,omitempty"`
	JoinerName  string    `json:"joiner_name,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (i *Invite) Wire() *sessiondto.Invite {
	if i == nil {
		return nil
	}
	return &sessiondto.Invite{
		Code:        i.Code,
		State:       string(i.State),
		CreatorID:   i.CreatorID,
		CreatorName: i.CreatorName,
		Color:       i.Color,
		TimeControl: i.TimeControl,
		SessionID:   i.SessionID,
		CreatedAt:   i.CreatedAt,
	}
}

type JoinResult struct {
	Started   bool
	SessionID string
	Invite    *Invite
}

var (
	ErrInvalidArgs     = errf("invalid arguments")
	ErrNotFound        = errf("invite not found or expired")
	ErrFull            = errf("invite already has two participants")
	ErrSelfJoin        = errf("cannot join your own invite")
	ErrCreatorHasLobby = errf("user already has an open invite")
	ErrNotCreator      = errf("only the creator can cancel an invite")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
