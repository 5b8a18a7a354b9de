package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// ErrUnknownCommand is returned by Execute for unsupported command types.
var ErrUnknownCommand = errf("unknown command type")

// Execute dispatches a client command on behalf of actorID. Infrastructure
// failures, ErrLockTimeout included, are returned as errors; everything
// else is described by the result.
func (c *Coordinator) Execute(ctx context.Context, sessionID, actorID string, in sessiondto.Command) (sessiondto.CommandResult, error) {
	cmd := Command{SessionID: sessionID, ActorID: actorID, RequestID: strings.TrimSpace(in.RequestID)}
	if in.ClientTimestamp != nil {
		cmd.ClientTimestamp = *in.ClientTimestamp
	}
	var (
		res Result
		err error
	)
	switch in.Type {
	case sessiondto.CmdApplyMove:
		res, err = c.ApplyMove(ctx, cmd, in.Move)
	case sessiondto.CmdResign:
		res, err = c.Resign(ctx, cmd)
	case sessiondto.CmdOfferDraw:
		res, err = c.OfferDraw(ctx, cmd)
	case sessiondto.CmdRespondDraw:
		res, err = c.RespondDraw(ctx, cmd, in.Accept)
	case sessiondto.CmdRequestPause:
		res, err = c.RequestPause(ctx, cmd, in.Reason)
	case sessiondto.CmdRequestResume:
		res, err = c.RequestResume(ctx, cmd)
	case sessiondto.CmdRespondResume:
		res, err = c.RespondResume(ctx, cmd, in.Accept)
	case sessiondto.CmdHeartbeat:
		if err = c.Heartbeat(ctx, sessionID, actorID); err != nil {
			if re, ok := game.AsRule(err); ok {
				return c.Wire(cmd.RequestID, Result{Rejection: re}), nil
			}
			return sessiondto.CommandResult{}, err
		}
		return sessiondto.CommandResult{RequestID: cmd.RequestID, Success: true}, nil
	default:
		return sessiondto.CommandResult{}, fmt.Errorf("%w: %q", ErrUnknownCommand, in.Type)
	}
	if err != nil {
		return sessiondto.CommandResult{}, err
	}
	return c.Wire(cmd.RequestID, res), nil
}

// Wire converts a Result for clients, rendering rejection texts.
func (c *Coordinator) Wire(requestID string, r Result) sessiondto.CommandResult {
	out := sessiondto.CommandResult{
		RequestID:       requestID,
		Success:         r.Success,
		AlreadyFinished: r.AlreadyFinished,
		Replayed:        r.Replayed,
	}
	var snap *sessiondto.Snapshot
	if r.Session != nil {
		v := r.Session.Snapshot(c.now())
		snap = &v
		out.Session = snap
		out.Status = string(r.Session.Status)
		out.EndReason = string(r.Session.EndReason)
	}
	if r.AlreadyFinished {
		out.Message = c.cat.Text("session.game_over",
			map[string]string{"Status": out.Status, "EndReason": out.EndReason},
			"game already over")
	}
	if re := r.Rejection; re != nil {
		out.Success = false
		out.Rejection = &sessiondto.Rejection{
			Code:    string(re.Code),
			Message: c.rejectionText(re, snap),
			Pending: re.Pending,
		}
	}
	return out
}

func (c *Coordinator) rejectionText(re *game.RuleError, snap *sessiondto.Snapshot) string {
	data := map[string]string{
		"Move":   re.Message,
		"Kind":   "",
		"Status": "",
		"Wait":   re.Message,
	}
	if re.Pending != nil {
		data["Kind"] = re.Pending.Kind
	}
	if snap != nil {
		data["Status"] = snap.Status
	}
	return c.cat.Text("rejection."+string(re.Code), data, re.Error())
}

// RetryAfter suggests how long a client should wait after ErrLockTimeout.
func (c *Coordinator) RetryAfter() time.Duration {
	if w := c.settings.Timing.LockWait; w > 0 {
		return w
	}
	return time.Second
}
