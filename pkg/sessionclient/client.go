// Package sessionclient is a polling client for the session server. It
// reuses ETags so unchanged sessions cost a 304, and retries commands with
// a stable request id so a retry can never apply twice.
package sessionclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Body       sessiondto.ErrorBody
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("session api: status=%d code=%s message=%s", e.Status, e.Body.Code, e.Body.Message)
}

type cached struct {
	etag string
	snap sessiondto.Snapshot
}

type Client struct {
	baseURL string
	token   string
	http    *fasthttp.Client
	timeout time.Duration
	retries int

	mu    sync.Mutex
	cache map[string]cached
}

type Option func(*Client)

func WithToken(tok string) Option          { return func(c *Client) { c.token = strings.TrimSpace(tok) } }
func WithTimeout(d time.Duration) Option   { return func(c *Client) { c.timeout = d } }
func WithRetry(n int) Option               { return func(c *Client) { c.retries = n } }
func WithMaxConnsPerHost(n int) Option     { return func(c *Client) { c.http.MaxConnsPerHost = n } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout: 10 * time.Second,
		retries: 3,
		cache:   make(map[string]cached),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Snapshot fetches the session. changed is false when the server answered
// 304 and the cached snapshot was returned.
func (c *Client) Snapshot(ctx context.Context, id string) (snap sessiondto.Snapshot, changed bool, err error) {
	c.mu.Lock()
	prev, have := c.cache[id]
	c.mu.Unlock()

	hdr := map[string]string{}
	if have {
		hdr["If-None-Match"] = prev.etag
	}
	status, body, etag, err := c.do(ctx, fasthttp.MethodGet, "/sessions/"+id, nil, hdr)
	if err != nil {
		return sessiondto.Snapshot{}, false, err
	}
	if status == fasthttp.StatusNotModified && have {
		return prev.snap, false, nil
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return sessiondto.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	c.mu.Lock()
	c.cache[id] = cached{etag: etag, snap: snap}
	c.mu.Unlock()
	return snap, true, nil
}

// Send posts a command. An empty RequestID is filled in so retries after a
// lost response or a busy session are idempotent.
func (c *Client) Send(ctx context.Context, id string, cmd sessiondto.Command) (sessiondto.CommandResult, error) {
	if strings.TrimSpace(cmd.RequestID) == "" {
		cmd.RequestID = uuid.NewString()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return sessiondto.CommandResult{}, fmt.Errorf("marshal command: %w", err)
	}
	_, body, _, err := c.do(ctx, fasthttp.MethodPost, "/sessions/"+id+"/commands", payload, nil)
	if err != nil {
		return sessiondto.CommandResult{}, err
	}
	var out sessiondto.CommandResult
	if err := json.Unmarshal(body, &out); err != nil {
		return sessiondto.CommandResult{}, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

// Watch polls the session every interval and calls fn for each new version
// until ctx is done or the session is terminal.
func (c *Client) Watch(ctx context.Context, id string, interval time.Duration, fn func(sessiondto.Snapshot)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		snap, changed, err := c.Snapshot(ctx, id)
		if err != nil {
			return err
		}
		if changed {
			fn(snap)
		}
		if snap.Status == "finished" || snap.Status == "aborted" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// do sends one request with retries on transport errors, 5xx and 503
// busy answers. 304 is returned as a status, not an error.
func (c *Client) do(ctx context.Context, method, path string, body []byte, hdr map[string]string) (int, []byte, string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}

	attempts := max(c.retries, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts || sleepCtx(ctx, backoff(attempt)) != nil {
				return 0, nil, "", lastErr
			}
			continue
		}
		status := resp.StatusCode()
		if status == fasthttp.StatusNotModified || (status >= 200 && status < 300) {
			return status, append([]byte(nil), resp.Body()...), string(resp.Header.Peek("ETag")), nil
		}
		apiErr := &APIError{Status: status, RetryAfter: retryAfter(resp)}
		_ = json.Unmarshal(resp.Body(), &apiErr.Body)
		lastErr = apiErr
		if status < 500 || attempt == attempts {
			return status, nil, "", apiErr
		}
		wait := backoff(attempt)
		if apiErr.RetryAfter > 0 {
			wait = apiErr.RetryAfter
		}
		if sleepCtx(ctx, wait) != nil {
			return status, nil, "", apiErr
		}
	}
	return 0, nil, "", lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(dl) {
		return d
	}
	return dl
}

func retryAfter(resp *fasthttp.Response) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(string(resp.Header.Peek("Retry-After"))))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoff(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}
