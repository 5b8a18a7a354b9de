// Package identity resolves bearer tokens to participant identities.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthorized = errf("unauthorized")
	ErrUnavailable  = errf("identity service unavailable")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Identity is an authenticated participant.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// Static is a fixed token table, for local runs and tests.
type Static map[string]Identity

// ParseStaticTokens reads "token=id:Name,token2=id2:Name2". The name is
// optional and defaults to the id.
func ParseStaticTokens(raw string) (Static, error) {
	out := Static{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tok, who, ok := strings.Cut(part, "=")
		tok, who = strings.TrimSpace(tok), strings.TrimSpace(who)
		if !ok || tok == "" || who == "" {
			return nil, fmt.Errorf("identity: bad static token entry %q", part)
		}
		id, name, _ := strings.Cut(who, ":")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if id == "" {
			return nil, fmt.Errorf("identity: empty id in %q", part)
		}
		if name == "" {
			name = id
		}
		if _, dup := out[tok]; dup {
			return nil, fmt.Errorf("identity: duplicate token for %q", id)
		}
		out[tok] = Identity{ID: id, Name: name}
	}
	return out, nil
}

func (s Static) Resolve(_ context.Context, token string) (Identity, error) {
	if id, ok := s[strings.TrimSpace(token)]; ok {
		return id, nil
	}
	return Identity{}, ErrUnauthorized
}

// Chain tries each resolver in order. ErrUnauthorized moves on to the next
// resolver; any other error stops the chain.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, token string) (Identity, error) {
	for _, r := range c {
		id, err := r.Resolve(ctx, token)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUnauthorized) {
			return Identity{}, err
		}
	}
	return Identity{}, ErrUnauthorized
}

// BearerToken extracts the token of an Authorization header value.
func BearerToken(header string) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
