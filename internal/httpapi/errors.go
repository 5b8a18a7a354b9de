package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/identity"
	"github.com/park285/Cheese-PvP-Server/internal/invite"
	"github.com/park285/Cheese-PvP-Server/internal/store"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string, retryable bool) {
	writeJSON(w, status, sessiondto.ErrorBody{Code: code, Message: msg, Retryable: retryable})
}

// fail maps err to a response. Unknown errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, coordinator.ErrLockTimeout):
		secs := int(math.Ceil(s.coord.RetryAfter().Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		s.writeError(w, http.StatusServiceUnavailable, "busy", s.cat.Text("session.busy", nil, err.Error()), true)
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found",
			s.cat.Text("session.not_found", map[string]string{"ID": r.PathValue("id")}, "session not found"), false)
	case errors.Is(err, identity.ErrUnauthorized):
		s.writeError(w, http.StatusUnauthorized, "unauthorized", "valid bearer token required", false)
	case errors.Is(err, identity.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "identity_unavailable", "identity service unavailable", true)
	case errors.Is(err, coordinator.ErrUnknownCommand), errors.Is(err, game.ErrInvalidSession), errors.Is(err, invite.ErrInvalidArgs):
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
	case errors.Is(err, invite.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "invite_not_found",
			s.cat.Text("invite.not_found", map[string]string{"Code": r.PathValue("code")}, err.Error()), false)
	case errors.Is(err, invite.ErrFull):
		s.writeError(w, http.StatusConflict, "invite_full",
			s.cat.Text("invite.full", map[string]string{"Code": r.PathValue("code")}, err.Error()), false)
	case errors.Is(err, invite.ErrSelfJoin):
		s.writeError(w, http.StatusConflict, "invite_self_join", s.cat.Text("invite.self_join", nil, err.Error()), false)
	case errors.Is(err, invite.ErrCreatorHasLobby):
		s.writeError(w, http.StatusConflict, "invite_open", err.Error(), false)
	case errors.Is(err, invite.ErrNotCreator):
		s.writeError(w, http.StatusForbidden, "forbidden", err.Error(), false)
	default:
		s.log.Error("http_internal_error", zap.String("path", r.URL.Path), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal", "try again", true)
	}
}
