// Package httpapi is the HTTP and websocket surface of the session server.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/broadcast"
	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/identity"
	"github.com/park285/Cheese-PvP-Server/internal/invite"
	"github.com/park285/Cheese-PvP-Server/internal/msgcat"
	"github.com/park285/Cheese-PvP-Server/internal/obslog"
)

const maxBody = 64 << 10

type Server struct {
	coord     *coordinator.Coordinator
	gw        *broadcast.Gateway
	ids       identity.Resolver
	invites   *invite.Manager
	adminKeys map[string]bool
	cat       *msgcat.Catalog
	wsOpts    broadcast.WSOptions
	origins   []string
	log       *zap.Logger
}

type Option func(*Server)

func WithInvites(m *invite.Manager) Option          { return func(s *Server) { s.invites = m } }
func WithCatalog(c *msgcat.Catalog) Option          { return func(s *Server) { s.cat = c } }
func WithLogger(l *zap.Logger) Option               { return func(s *Server) { s.log = l } }
func WithWSOptions(o broadcast.WSOptions) Option    { return func(s *Server) { s.wsOpts = o } }
func WithOriginPatterns(patterns ...string) Option { return func(s *Server) { s.origins = patterns } }

func WithAdminKeys(keys ...string) Option {
	return func(s *Server) {
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				s.adminKeys[k] = true
			}
		}
	}
}

func New(coord *coordinator.Coordinator, gw *broadcast.Gateway, ids identity.Resolver, opts ...Option) *Server {
	s := &Server{coord: coord, gw: gw, ids: ids, adminKeys: map[string]bool{}}
	for _, o := range opts {
		o(s)
	}
	s.log = obslog.Or(s.log)
	if s.cat == nil {
		s.cat = msgcat.MustDefault()
	}
	if s.wsOpts.Logger == nil {
		s.wsOpts.Logger = s.log
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /sessions/{id}", s.getSession)
	mux.HandleFunc("POST /sessions", s.admin(s.createSession))
	mux.HandleFunc("POST /sessions/{id}/commands", s.postCommand)
	mux.HandleFunc("GET /sessions/{id}/ws", s.serveWS)
	mux.HandleFunc("POST /admin/sessions/{id}/abort", s.admin(s.abortSession))

	mux.HandleFunc("GET /invites", s.listInvites)
	mux.HandleFunc("POST /invites", s.makeInvite)
	mux.HandleFunc("GET /invites/{code}", s.getInvite)
	mux.HandleFunc("POST /invites/{code}/join", s.joinInvite)
	mux.HandleFunc("DELETE /invites/{code}", s.cancelInvite)
	return s.logRequests(mux)
}

func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if key == "" || !s.adminKeys[key] {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "admin key required", false)
			return
		}
		next(w, r)
	}
}

// caller resolves the bearer token of r. Websocket clients that cannot set
// headers may pass ?token= instead.
func (s *Server) caller(r *http.Request) (identity.Identity, error) {
	tok := identity.BearerToken(r.Header.Get("Authorization"))
	if tok == "" {
		tok = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if tok == "" || s.ids == nil {
		return identity.Identity{}, identity.ErrUnauthorized
	}
	return s.ids.Resolve(r.Context(), tok)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
