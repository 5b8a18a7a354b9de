package sessiondto

import "time"

type CommandType string

const (
	CmdApplyMove     CommandType = "applyMove"
	CmdResign        CommandType = "resign"
	CmdOfferDraw     CommandType = "offerDraw"
	CmdRespondDraw   CommandType = "respondDraw"
	CmdRequestPause  CommandType = "requestPause"
	CmdRequestResume CommandType = "requestResume"
	CmdRespondResume CommandType = "respondResume"
	CmdHeartbeat     CommandType = "heartbeat"
)

// Command is an inbound client command. RequestID is generated by the client
// and makes retries safe.
type Command struct {
	Type            CommandType `json:"type"`
	RequestID       string      `json:"request_id"`
	SessionID       string      `json:"session_id,omitempty"`
	Move            string      `json:"move,omitempty"`
	Accept          bool        `json:"accept,omitempty"`
	Reason          string      `json:"reason,omitempty"`
	ClientTimestamp *time.Time  `json:"client_ts,omitempty"`
}

type CommandResult struct {
	RequestID       string     `json:"request_id,omitempty"`
	Success         bool       `json:"success"`
	AlreadyFinished bool       `json:"already_finished,omitempty"`
	Replayed        bool       `json:"replayed,omitempty"`
	Status          string     `json:"status,omitempty"`
	EndReason       string     `json:"end_reason,omitempty"`
	Message         string     `json:"message,omitempty"`
	Rejection       *Rejection `json:"rejection,omitempty"`
	Session         *Snapshot  `json:"session,omitempty"`
}

type CreateSessionRequest struct {
	WhiteID     string `json:"white_id"`
	WhiteName   string `json:"white_name"`
	BlackID     string `json:"black_id"`
	BlackName   string `json:"black_name"`
	Color       string `json:"color,omitempty"`
	TimeControl string `json:"time_control,omitempty"`
}

type AbortRequest struct {
	Reason string `json:"reason"`
}

type InviteRequest struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	TimeControl string `json:"time_control,omitempty"`
}

type Invite struct {
	Code        string    `json:"code"`
	State       string    `json:"state"`
	CreatorID   string    `json:"creator_id"`
	CreatorName string    `json:"creator_name"`
	Color       string    `json:"color,omitempty"`
	TimeControl string    `json:"time_control,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type JoinResponse struct {
	Started   bool    `json:"started"`
	SessionID string  `json:"session_id,omitempty"`
	Invite    *Invite `json:"invite"`
}
