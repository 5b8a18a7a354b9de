package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/obslog"
)

const (
	keyLive   = "pvp:sessions:live"
	keyUnsent = "pvp:sessions:unsent"

	// retainFinished keeps terminal sessions readable for late clients.
	retainFinished = 7 * 24 * time.Hour
	maxTxAttempts  = 8
)

func sessionKey(id string) string  { return "pvp:session:" + strings.TrimSpace(id) }
func seenKey(id string) string     { return sessionKey(id) + ":seen" }
func userKey(userID string) string { return "pvp:index:user:" + strings.TrimSpace(userID) }

// Redis stores each session as one JSON document and uses WATCH for
// optimistic concurrency across server instances.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// OpenRedis connects using a redis:// or rediss:// URL.
func OpenRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := ParseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// Client exposes the connection for components sharing it.
func (r *Redis) Client() *redis.Client { return r.rdb }

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func (r *Redis) Create(ctx context.Context, s *game.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Version == 0 {
		s.Version = 1
	}
	raw, err := encode(s)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, sessionKey(s.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	pipe := r.rdb.TxPipeline()
	if !s.Status.Terminal() {
		pipe.SAdd(ctx, keyLive, s.ID)
	}
	pipe.SAdd(ctx, userKey(s.White.ID), s.ID)
	pipe.SAdd(ctx, userKey(s.Black.ID), s.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Get(ctx context.Context, id string) (*game.Session, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (r *Redis) Update(ctx context.Context, id string, fn Mutator) (*game.Session, error) {
	key := sessionKey(id)
	var out *game.Session
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			cur, err := decode(raw)
			if err != nil {
				return err
			}
			write, concluded, err := apply(cur, fn)
			if err != nil {
				return err
			}
			out = cur
			if !write {
				return nil
			}
			next, err := encode(cur)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				ttl := time.Duration(0)
				if cur.Status.Terminal() {
					ttl = retainFinished
				}
				pipe.Set(ctx, key, next, ttl)
				if concluded {
					pipe.SRem(ctx, keyLive, cur.ID)
					pipe.SAdd(ctx, keyUnsent, cur.ID)
					pipe.Expire(ctx, seenKey(cur.ID), retainFinished)
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			obslog.L().Debug("store_update_retry", zap.String("session_id", id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrConflict
}

func (r *Redis) Live(ctx context.Context) ([]string, error) {
	return r.rdb.SMembers(ctx, keyLive).Result()
}

func (r *Redis) PendingConclusions(ctx context.Context) ([]string, error) {
	return r.rdb.SMembers(ctx, keyUnsent).Result()
}

func (r *Redis) MarkConcluded(ctx context.Context, id string) error {
	return r.rdb.SRem(ctx, keyUnsent, id).Err()
}

func (r *Redis) ByPlayer(ctx context.Context, playerID string) ([]string, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, nil
	}
	return r.rdb.SMembers(ctx, userKey(playerID)).Result()
}

func (r *Redis) Touch(ctx context.Context, sessionID, playerID string, at time.Time) error {
	return r.rdb.HSet(ctx, seenKey(sessionID), playerID, at.UnixMilli()).Err()
}

func (r *Redis) LastSeen(ctx context.Context, sessionID string) (map[string]time.Time, error) {
	raw, err := r.rdb.HGetAll(ctx, seenKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(raw))
	for player, v := range raw {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[player] = time.UnixMilli(ms).UTC()
	}
	return out, nil
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional
// database number as path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported redis scheme: %q", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
