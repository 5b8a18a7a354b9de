package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Remote asks an identity service who owns a token:
// GET <base>/v1/identity with the bearer token forwarded.
type Remote struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
	retries int
}

type RemoteOption func(*Remote)

func WithTimeout(d time.Duration) RemoteOption { return func(r *Remote) { r.timeout = d } }
func WithRetry(n int) RemoteOption             { return func(r *Remote) { r.retries = n } }

func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 64},
		timeout: 5 * time.Second,
		retries: 3,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Remote) Resolve(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrUnauthorized
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(r.baseURL + "/v1/identity")
	req.Header.Set("Authorization", "Bearer "+token)

	attempts := max(r.retries, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, backoff(attempt-1)); err != nil {
				return Identity{}, err
			}
		}
		if err := r.http.DoDeadline(req, resp, r.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			continue
		}
		switch status := resp.StatusCode(); {
		case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden || status == fasthttp.StatusNotFound:
			return Identity{}, ErrUnauthorized
		case status >= 500:
			lastErr = fmt.Errorf("%w: status=%d", ErrUnavailable, status)
			continue
		case status < 200 || status >= 300:
			return Identity{}, fmt.Errorf("identity: unexpected status %d", status)
		}
		var id Identity
		if err := json.Unmarshal(resp.Body(), &id); err != nil {
			return Identity{}, fmt.Errorf("identity: decode response: %w", err)
		}
		if strings.TrimSpace(id.ID) == "" {
			return Identity{}, ErrUnauthorized
		}
		if id.Name == "" {
			id.Name = id.ID
		}
		return id, nil
	}
	return Identity{}, lastErr
}

func (r *Remote) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(r.timeout)
	if c, ok := ctx.Deadline(); ok && c.Before(dl) {
		return c
	}
	return dl
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
	return time.Duration(1<<uint(attempt-1)) * 50 * time.Millisecond
}
