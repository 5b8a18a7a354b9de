package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/Cheese-PvP-Server/internal/broadcast"
	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/store"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// serveWS attaches a participant to the session's event stream. The
// connection is registered before the snapshot is read so no committed
// event can fall between the two.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	who, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, _, err := s.coord.Snapshot(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess.ColorOf(who.ID) == "" {
		s.writeError(w, http.StatusForbidden, "not_participant",
			s.cat.Text("rejection.not_participant", nil, "not a participant"), false)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Debug("ws_accept_failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	ws.SetReadLimit(maxBody)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn := broadcast.NewWSConn(ws, id, who.ID, s.wsOpts)
	conn.Start(ctx)
	s.gw.Register(id, conn)
	s.log.Info("ws_connect", zap.String("session_id", id), zap.String("player_id", who.ID), zap.String("conn_id", conn.ID()))
	defer func() {
		s.gw.Unregister(id, conn)
		conn.Close()
		conn.Wait()
		if s.gw.Connected(id, who.ID) {
			return
		}
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		if _, err := s.coord.Disconnect(dctx, id, who.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("ws_disconnect_failed", zap.String("session_id", id), zap.Error(err))
		}
		s.log.Info("ws_disconnect", zap.String("session_id", id), zap.String("player_id", who.ID))
	}()

	if _, snap, err := s.coord.Snapshot(ctx, id); err == nil {
		conn.Enqueue(sessiondto.Event{
			Kind:      sessiondto.EventSnapshot,
			SessionID: id,
			Version:   snap.Version,
			Session:   &snap,
			At:        snap.Clock.AsOf,
		})
	}
	if _, err := s.coord.Connect(ctx, id, who.ID); err != nil {
		s.log.Warn("ws_connect_commit_failed", zap.String("session_id", id), zap.Error(err))
	}

	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var cmd sessiondto.Command
		var out sessiondto.CommandResult
		switch {
		case json.Unmarshal(raw, &cmd) != nil:
			out = replyError("", "bad_request", "invalid command", false)
		case cmd.SessionID != "" && cmd.SessionID != id:
			out = replyError(cmd.RequestID, "bad_request", "command for another session", false)
		default:
			out, err = s.coord.Execute(ctx, id, who.ID, cmd)
			if err != nil {
				out = s.replyFailure(cmd.RequestID, err)
			}
		}
		ev := sessiondto.Event{Kind: sessiondto.EventReply, SessionID: id, Reply: &out, At: time.Now()}
		if out.Session != nil {
			ev.Version = out.Session.Version
		}
		if !conn.Enqueue(ev) {
			return
		}
	}
}

func replyError(requestID, code, msg string, retryable bool) sessiondto.CommandResult {
	return sessiondto.CommandResult{
		RequestID: requestID,
		Rejection: &sessiondto.Rejection{Code: code, Message: msg, Retryable: retryable},
	}
}

func (s *Server) replyFailure(requestID string, err error) sessiondto.CommandResult {
	switch {
	case errors.Is(err, coordinator.ErrLockTimeout):
		return replyError(requestID, "busy", s.cat.Text("session.busy", nil, err.Error()), true)
	case errors.Is(err, coordinator.ErrUnknownCommand):
		return replyError(requestID, "bad_request", err.Error(), false)
	case errors.Is(err, store.ErrNotFound):
		return replyError(requestID, "not_found", "session not found", false)
	default:
		s.log.Error("ws_command_failed", zap.String("request_id", requestID), zap.Error(err))
		return replyError(requestID, "internal", "try again", true)
	}
}
