package sessionclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

type fakeServer struct {
	version  atomic.Int64
	fails    atomic.Int32
	mu       sync.Mutex
	requests []string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/sessions/s1":
		v := f.version.Load()
		tag := fmt.Sprintf(`"v%d"`, v)
		w.Header().Set("ETag", tag)
		if r.Header.Get("If-None-Match") == tag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		status := "active"
		if v >= 3 {
			status = "finished"
		}
		_ = json.NewEncoder(w).Encode(sessiondto.Snapshot{ID: "s1", Status: status, Version: v})
	case r.Method == http.MethodPost && r.URL.Path == "/sessions/s1/commands":
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(sessiondto.ErrorBody{Code: "unauthorized"})
			return
		}
		var cmd sessiondto.Command
		_ = json.NewDecoder(r.Body).Decode(&cmd)
		f.mu.Lock()
		f.requests = append(f.requests, cmd.RequestID)
		f.mu.Unlock()
		if f.fails.Add(-1) >= 0 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(sessiondto.CommandResult{RequestID: cmd.RequestID, Success: true})
	default:
		http.NotFound(w, r)
	}
}

func TestSnapshotReusesETag(t *testing.T) {
	fs := &fakeServer{}
	fs.version.Store(1)
	srv := httptest.NewServer(fs)
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	snap, changed, err := c.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, int64(1), snap.Version)

	snap, changed, err = c.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, int64(1), snap.Version)

	fs.version.Store(2)
	snap, changed, err = c.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, int64(2), snap.Version)
}

func TestSendRetriesWithSameRequestID(t *testing.T) {
	fs := &fakeServer{}
	fs.fails.Store(2)
	srv := httptest.NewServer(fs)
	defer srv.Close()
	c := New(srv.URL, WithToken("tok"), WithRetry(3))

	out, err := c.Send(context.Background(), "s1", sessiondto.Command{Type: sessiondto.CmdResign})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Len(t, fs.requests, 3)
	require.NotEmpty(t, fs.requests[0])
	require.Equal(t, fs.requests[0], fs.requests[1])
	require.Equal(t, fs.requests[0], fs.requests[2])
}

func TestSendSurfacesClientErrors(t *testing.T) {
	srv := httptest.NewServer(&fakeServer{})
	defer srv.Close()
	_, err := New(srv.URL).Send(context.Background(), "s1", sessiondto.Command{Type: sessiondto.CmdResign})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, "unauthorized", apiErr.Body.Code)
}

func TestWatchStopsAtTerminal(t *testing.T) {
	fs := &fakeServer{}
	fs.version.Store(1)
	srv := httptest.NewServer(fs)
	defer srv.Close()

	var seen []int64
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := New(srv.URL).Watch(ctx, "s1", 10*time.Millisecond, func(s sessiondto.Snapshot) {
		seen = append(seen, s.Version)
		fs.version.Add(1)
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, seen)
}
