package httpapi

import (
	"net/http"
	"strings"

	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

func (s *Server) invitesEnabled(w http.ResponseWriter) bool {
	if s.invites == nil {
		s.writeError(w, http.StatusNotImplemented, "invites_disabled", "invites need a redis store", false)
		return false
	}
	return true
}

func (s *Server) listInvites(w http.ResponseWriter, r *http.Request) {
	if !s.invitesEnabled(w) {
		return
	}
	list, err := s.invites.ListLobby(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]*sessiondto.Invite, 0, len(list))
	for _, inv := range list {
		out = append(out, inv.Wire())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) makeInvite(w http.ResponseWriter, r *http.Request) {
	if !s.invitesEnabled(w) {
		return
	}
	who, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req sessiondto.InviteRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "invalid invite body", false)
			return
		}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = who.Name
	}
	inv, err := s.invites.Make(r.Context(), who.ID, name, req.Color, req.TimeControl)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/invites/"+inv.Code)
	writeJSON(w, http.StatusCreated, inv.Wire())
}

func (s *Server) getInvite(w http.ResponseWriter, r *http.Request) {
	if !s.invitesEnabled(w) {
		return
	}
	inv, err := s.invites.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv.Wire())
}

func (s *Server) joinInvite(w http.ResponseWriter, r *http.Request) {
	if !s.invitesEnabled(w) {
		return
	}
	who, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.invites.Join(r.Context(), r.PathValue("code"), who.ID, who.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessiondto.JoinResponse{
		Started:   res.Started,
		SessionID: res.SessionID,
		Invite:    res.Invite.Wire(),
	})
}

func (s *Server) cancelInvite(w http.ResponseWriter, r *http.Request) {
	if !s.invitesEnabled(w) {
		return
	}
	who, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.invites.Cancel(r.Context(), r.PathValue("code"), who.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
