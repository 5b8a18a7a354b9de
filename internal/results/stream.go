package results

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-PvP-Server/internal/domain"
)

// maxStreamLen caps the stream; consumers are expected to keep up.
const maxStreamLen = 100_000

// Stream appends concluded games to a Redis stream. Entries carry the
// session id as a field so consumers can drop duplicates.
type Stream struct {
	rdb *redis.Client
	key string
}

func NewStream(rdb *redis.Client, key string) *Stream {
	return &Stream{rdb: rdb, key: key}
}

func (s *Stream) Name() string { return "stream:" + s.key }

func (s *Stream) Publish(ctx context.Context, g domain.ConcludedGame) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"session_id": g.SessionID,
			"result":     g.Result(),
			"payload":    string(payload),
		},
	}).Err()
}
