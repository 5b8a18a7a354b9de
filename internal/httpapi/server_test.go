package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-PvP-Server/internal/broadcast"
	"github.com/park285/Cheese-PvP-Server/internal/config"
	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/identity"
	"github.com/park285/Cheese-PvP-Server/internal/invite"
	"github.com/park285/Cheese-PvP-Server/internal/store"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

const adminKey = "k-admin"

type fixture struct {
	srv   *httptest.Server
	api   *Server
	coord *coordinator.Coordinator
	st    store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	timing := config.DefaultTiming()
	timing.LockWait = 50 * time.Millisecond
	st := store.NewMemory()
	gw := broadcast.NewGateway(nil)
	coord := coordinator.New(st, coordinator.Settings{
		Timing:             timing,
		DefaultTimeControl: game.TimeControl{Base: 5 * time.Minute, Increment: 3 * time.Second},
	}, coordinator.WithBroadcaster(gw))
	ids := identity.Static{
		"tok-alice": {ID: "alice", Name: "Alice"},
		"tok-bob":   {ID: "bob", Name: "Bob"},
		"tok-eve":   {ID: "eve", Name: "Eve"},
	}
	inv := invite.NewManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), coord)
	api := New(coord, gw, ids, WithInvites(inv), WithAdminKeys(adminKey))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		srv.Close()
		gw.CloseAll()
		coord.Wait()
	})
	return &fixture{srv: srv, api: api, coord: coord, st: st}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any, hdr map[string]string) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) createSession(t *testing.T) sessiondto.Snapshot {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/sessions", "", sessiondto.CreateSessionRequest{
		WhiteID: "alice", WhiteName: "Alice", BlackID: "bob", BlackName: "Bob",
	}, map[string]string{"X-API-Key": adminKey})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[sessiondto.Snapshot](t, resp)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", "", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateRequiresAdminKey(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/sessions", "", sessiondto.CreateSessionRequest{WhiteID: "a", BlackID: "b"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/sessions", "", sessiondto.CreateSessionRequest{WhiteID: "a", BlackID: "a"},
		map[string]string{"X-API-Key": adminKey})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/sessions", "", sessiondto.CreateSessionRequest{WhiteID: "a", BlackID: "b", TimeControl: "fast"},
		map[string]string{"X-API-Key": adminKey})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	snap := f.createSession(t)
	require.Equal(t, "waiting", snap.Status)
	require.Equal(t, "alice", snap.White.ID)
	require.Equal(t, "5+3", snap.TimeControl)
}

func TestPollingWithETag(t *testing.T) {
	f := newFixture(t)
	snap := f.createSession(t)

	resp := f.do(t, http.MethodGet, "/sessions/"+snap.ID, "", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tag := resp.Header.Get("ETag")
	require.Equal(t, `"v1"`, tag)
	require.NotEmpty(t, resp.Header.Get("Last-Modified"))

	resp = f.do(t, http.MethodGet, "/sessions/"+snap.ID, "", nil, map[string]string{"If-None-Match": tag})
	require.Equal(t, http.StatusNotModified, resp.StatusCode)

	ctx := context.Background()
	_, err := f.coord.Connect(ctx, snap.ID, "alice")
	require.NoError(t, err)
	resp = f.do(t, http.MethodGet, "/sessions/"+snap.ID, "", nil, map[string]string{"If-None-Match": tag})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `"v2"`, resp.Header.Get("ETag"))
	require.True(t, decode[sessiondto.Snapshot](t, resp).White.Connected)

	resp = f.do(t, http.MethodGet, "/sessions/missing", "", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "not_found", decode[sessiondto.ErrorBody](t, resp).Code)
}

func TestCommandsOverHTTP(t *testing.T) {
	f := newFixture(t)
	snap := f.createSession(t)
	path := "/sessions/" + snap.ID + "/commands"
	move := sessiondto.Command{Type: sessiondto.CmdApplyMove, RequestID: "m1", Move: "e2e4"}

	resp := f.do(t, http.MethodPost, path, "", move, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, path, "tok-alice", move, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[sessiondto.CommandResult](t, resp)
	require.False(t, out.Success)
	require.Equal(t, "invalid_state", out.Rejection.Code)

	ctx := context.Background()
	for _, p := range []string{"alice", "bob"} {
		_, err := f.coord.Connect(ctx, snap.ID, p)
		require.NoError(t, err)
	}
	resp = f.do(t, http.MethodPost, path, "tok-alice", move, nil)
	out = decode[sessiondto.CommandResult](t, resp)
	require.True(t, out.Success)
	require.Len(t, out.Session.Moves, 1)

	resp = f.do(t, http.MethodPost, path, "tok-alice", move, nil)
	out = decode[sessiondto.CommandResult](t, resp)
	require.True(t, out.Replayed)

	resp = f.do(t, http.MethodPost, path, "tok-eve", sessiondto.Command{Type: sessiondto.CmdResign, RequestID: "r1"}, nil)
	out = decode[sessiondto.CommandResult](t, resp)
	require.Equal(t, "not_participant", out.Rejection.Code)

	resp = f.do(t, http.MethodPost, path, "tok-bob", sessiondto.Command{Type: "castle-everything"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminAbortIsIdempotent(t *testing.T) {
	f := newFixture(t)
	snap := f.createSession(t)
	path := "/admin/sessions/" + snap.ID + "/abort"
	hdr := map[string]string{"X-API-Key": adminKey}

	resp := f.do(t, http.MethodPost, path, "", sessiondto.AbortRequest{Reason: "ops"}, hdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[sessiondto.CommandResult](t, resp)
	require.True(t, out.Success)
	require.Equal(t, "aborted", out.Status)
	require.Equal(t, "ops", out.Session.AbortReason)

	resp = f.do(t, http.MethodPost, path, "", nil, hdr)
	out = decode[sessiondto.CommandResult](t, resp)
	require.True(t, out.AlreadyFinished)
	require.Equal(t, "Game already over: aborted (aborted).", out.Message)
}

func TestLockTimeoutMapsTo503(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions/x/commands", nil)
	f.api.fail(rec, req, coordinator.ErrLockTimeout)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	var body sessiondto.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Retryable)
	require.Equal(t, "busy", body.Code)
}

func wsURL(f *fixture, id string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/sessions/" + id + "/ws"
}

func dial(t *testing.T, ctx context.Context, f *fixture, id, token string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.Dial(ctx, wsURL(f, id), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.NoError(t, err)
	return c
}

func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, match func(sessiondto.Event) bool) []sessiondto.Event {
	t.Helper()
	var seen []sessiondto.Event
	for {
		var ev sessiondto.Event
		require.NoError(t, wsjson.Read(ctx, c, &ev))
		seen = append(seen, ev)
		if match(ev) {
			return seen
		}
	}
}

func TestWebsocketFlow(t *testing.T) {
	f := newFixture(t)
	snap := f.createSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := dial(t, ctx, f, snap.ID, "tok-alice")
	defer alice.Close(websocket.StatusNormalClosure, "")

	first := readUntil(t, ctx, alice, func(ev sessiondto.Event) bool {
		return ev.Session != nil && ev.Session.White.Connected
	})
	require.Equal(t, sessiondto.EventSnapshot, first[0].Kind)

	_, err := f.coord.Connect(ctx, snap.ID, "bob")
	require.NoError(t, err)
	readUntil(t, ctx, alice, func(ev sessiondto.Event) bool {
		return ev.Kind == sessiondto.EventStatusChanged && ev.Session.Status == "active"
	})

	require.NoError(t, wsjson.Write(ctx, alice, sessiondto.Command{Type: sessiondto.CmdApplyMove, RequestID: "w1", Move: "e4"}))
	events := readUntil(t, ctx, alice, func(ev sessiondto.Event) bool { return ev.Kind == sessiondto.EventReply })
	require.GreaterOrEqual(t, len(events), 2)
	require.Equal(t, sessiondto.EventMoveApplied, events[len(events)-2].Kind)
	reply := events[len(events)-1].Reply
	require.NotNil(t, reply)
	require.Equal(t, "w1", reply.RequestID)
	require.True(t, reply.Success)

	require.NoError(t, alice.Write(ctx, websocket.MessageText, []byte("{not json")))
	events = readUntil(t, ctx, alice, func(ev sessiondto.Event) bool { return ev.Kind == sessiondto.EventReply })
	require.Equal(t, "bad_request", events[len(events)-1].Reply.Rejection.Code)

	require.NoError(t, alice.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool {
		s, err := f.st.Get(context.Background(), snap.ID)
		return err == nil && !s.White.Connected
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWebsocketRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	snap := f.createSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(f, snap.ID), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer tok-eve"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInviteFlow(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/invites", "tok-alice", sessiondto.InviteRequest{Color: "black"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	inv := decode[sessiondto.Invite](t, resp)
	require.Equal(t, "lobby", inv.State)
	require.Equal(t, "Alice", inv.CreatorName)

	resp = f.do(t, http.MethodGet, "/invites", "", nil, nil)
	require.Len(t, decode[[]sessiondto.Invite](t, resp), 1)

	resp = f.do(t, http.MethodPost, "/invites/"+inv.Code+"/join", "tok-alice", nil, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/invites/"+inv.Code+"/join", "tok-bob", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	joined := decode[sessiondto.JoinResponse](t, resp)
	require.True(t, joined.Started)

	resp = f.do(t, http.MethodGet, "/sessions/"+joined.SessionID, "", nil, nil)
	snap := decode[sessiondto.Snapshot](t, resp)
	require.Equal(t, "bob", snap.White.ID)
	require.Equal(t, "alice", snap.Black.ID)

	resp = f.do(t, http.MethodPost, "/invites/"+inv.Code+"/join", "tok-eve", nil, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "invite_full", decode[sessiondto.ErrorBody](t, resp).Code)

	resp = f.do(t, http.MethodGet, "/invites/PVP-ZZZZZZ", "", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
