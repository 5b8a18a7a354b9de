package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

func etag(version int64) string { return fmt.Sprintf(`"v%d"`, version) }

// getSession is the polling endpoint. It reads the committed state from
// the store and honours If-None-Match.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, snap, err := s.coord.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tag := etag(sess.Version)
	w.Header().Set("ETag", tag)
	w.Header().Set("Last-Modified", sess.UpdatedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "no-cache")
	if matchesETag(r.Header.Get("If-None-Match"), tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func matchesETag(header, tag string) bool {
	for _, part := range strings.Split(header, ",") {
		p := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "W/"))
		if p == tag || p == "*" {
			return true
		}
	}
	return false
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	who, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var cmd sessiondto.Command
	if err := decodeJSON(w, r, &cmd); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid command body", false)
		return
	}
	out, err := s.coord.Execute(r.Context(), r.PathValue("id"), who.ID, cmd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessiondto.CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid create body", false)
		return
	}
	color := req.Color
	if strings.TrimSpace(color) == "" {
		color = "white"
	}
	sess, err := s.coord.CreateSession(r.Context(), coordinator.CreateParams{
		Creator:     game.Player{ID: req.WhiteID, Name: req.WhiteName},
		Opponent:    game.Player{ID: req.BlackID, Name: req.BlackName},
		Color:       color,
		TimeControl: req.TimeControl,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+sess.ID)
	w.Header().Set("ETag", etag(sess.Version))
	writeJSON(w, http.StatusCreated, sess.Snapshot(sess.CreatedAt))
}

func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	var req sessiondto.AbortRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "invalid abort body", false)
			return
		}
	}
	res, err := s.coord.Abort(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Wire("", res))
}
