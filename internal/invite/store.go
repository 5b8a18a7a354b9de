package invite

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlInvite = 24 * time.Hour

type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func keyMeta(code string) string         { return "pvp:invite:" + strings.TrimSpace(code) }
func keyParticipants(code string) string { return keyMeta(code) + ":participants" }
func keyUserIdx(user string) string      { return "pvp:invite:index:user:" + strings.TrimSpace(user) }
func keyLobby() string                   { return "pvp:invites:lobby" }

func (s *Store) Load(ctx context.Context, code string) (*Invite, error) {
	raw, err := s.rdb.Get(ctx, keyMeta(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var inv Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) Save(ctx context.Context, inv *Invite) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyMeta(inv.Code), raw, ttlInvite).Err()
}

// Create stores inv only if the code is unused.
func (s *Store) Create(ctx context.Context, inv *Invite) (bool, error) {
	raw, err := json.Marshal(inv)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.SetNX(ctx, keyMeta(inv.Code), raw, ttlInvite).Result()
	if err != nil || !ok {
		return false, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, keyParticipants(inv.Code), inv.CreatorID)
	pipe.Expire(ctx, keyParticipants(inv.Code), ttlInvite)
	pipe.SAdd(ctx, keyUserIdx(inv.CreatorID), inv.Code)
	pipe.Expire(ctx, keyUserIdx(inv.CreatorID), ttlInvite)
	pipe.SAdd(ctx, keyLobby(), inv.Code)
	pipe.Expire(ctx, keyLobby(), ttlInvite)
	_, err = pipe.Exec(ctx)
	return true, err
}

func (s *Store) CodesByUser(ctx context.Context, userID string) ([]string, error) {
	return s.rdb.SMembers(ctx, keyUserIdx(userID)).Result()
}

func (s *Store) RemoveLobby(ctx context.Context, code string) error {
	return s.rdb.SRem(ctx, keyLobby(), code).Err()
}

func (s *Store) ListLobby(ctx context.Context) ([]*Invite, error) {
	codes, err := s.rdb.SMembers(ctx, keyLobby()).Result()
	if err != nil {
		return nil, err
	}
	var out []*Invite
	for _, c := range codes {
		inv, err := s.Load(ctx, c)
		if err != nil {
			return nil, err
		}
		if inv == nil {
			_ = s.RemoveLobby(ctx, c)
			continue
		}
		if inv.State == StateLobby {
			out = append(out, inv)
		}
	}
	return out, nil
}

// codeGen returns "PVP-" followed by 6 upper-case alphanumerics.
func codeGen() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return fmt.Sprintf("PVP-%s", string(b)), nil
}
