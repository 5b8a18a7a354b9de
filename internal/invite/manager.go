// Package invite matches two participants through a short code and creates
// the waiting session once the second one joins.
package invite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/coordinator"
	"github.com/park285/Cheese-PvP-Server/internal/game"
	"github.com/park285/Cheese-PvP-Server/internal/obslog"
)

// Starter creates the session for a matched pair.
type Starter interface {
	CreateSession(ctx context.Context, p coordinator.CreateParams) (*game.Session, error)
}

type Manager struct {
	rdb   *redis.Client
	store *Store
	start Starter
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithLogger(l *zap.Logger) Option       { return func(m *Manager) { m.log = l } }

func NewManager(rdb *redis.Client, start Starter, opts ...Option) *Manager {
	m := &Manager{rdb: rdb, store: NewStore(rdb), start: start, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	m.log = obslog.Or(m.log)
	return m
}

// Make opens an invite. A user may hold at most one open invite.
func (m *Manager) Make(ctx context.Context, userID, userName, color, timeControl string) (*Invite, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidArgs
	}
	if open, err := m.openInvite(ctx, userID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, ErrCreatorHasLobby
	}
	for i := 0; i < 5; i++ {
		code, err := codeGen()
		if err != nil {
			return nil, err
		}
		inv := &Invite{
			Code:        code,
			State:       StateLobby,
			CreatorID:   userID,
			CreatorName: strings.TrimSpace(userName),
			Color:       strings.TrimSpace(color),
			TimeControl: strings.TrimSpace(timeControl),
			CreatedAt:   m.now().UTC(),
		}
		ok, err := m.store.Create(ctx, inv)
		if err != nil {
			return nil, err
		}
		if ok {
			m.log.Info("invite_make", zap.String("code", code), zap.String("creator_id", userID))
			return inv, nil
		}
	}
	return nil, fmt.Errorf("failed to allocate invite code")
}

func (m *Manager) openInvite(ctx context.Context, userID string) (*Invite, error) {
	codes, err := m.store.CodesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range codes {
		inv, err := m.store.Load(ctx, c)
		if err != nil {
			return nil, err
		}
		if inv != nil && inv.State == StateLobby && inv.CreatorID == userID {
			return inv, nil
		}
	}
	return nil, nil
}

// Join claims the second seat and creates the session. The claim is made
// under WATCH so two concurrent joiners cannot both win.
func (m *Manager) Join(ctx context.Context, code, userID, userName string) (*JoinResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	userID = strings.TrimSpace(userID)
	if code == "" || userID == "" {
		return nil, ErrInvalidArgs
	}
	metaKey, partKey := keyMeta(code), keyParticipants(code)

	var inv *Invite
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, metaKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		inv = &Invite{}
		if err := json.Unmarshal(raw, inv); err != nil {
			return err
		}
		if inv.CreatorID == userID {
			return ErrSelfJoin
		}
		if inv.State != StateLobby {
			if inv.State == StateCancelled {
				return ErrNotFound
			}
			return ErrFull
		}
		cnt, err := tx.SCard(ctx, partKey).Result()
		if err != nil {
			return err
		}
		if cnt >= 2 {
			return ErrFull
		}
		inv.State = StateStarted
		inv.JoinerID, inv.JoinerName = userID, strings.TrimSpace(userName)
		claimed, err := json.Marshal(inv)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, metaKey, claimed, ttlInvite)
			pipe.SAdd(ctx, partKey, userID)
			pipe.Expire(ctx, partKey, ttlInvite)
			pipe.SAdd(ctx, keyUserIdx(userID), code)
			pipe.Expire(ctx, keyUserIdx(userID), ttlInvite)
			pipe.SRem(ctx, keyLobby(), code)
			return nil
		})
		return err
	}, metaKey, partKey)
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrFull
	}
	if err != nil {
		m.log.Warn("invite_join_error", zap.String("code", code), zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	s, err := m.start.CreateSession(ctx, coordinator.CreateParams{
		Creator:     game.Player{ID: inv.CreatorID, Name: inv.CreatorName},
		Opponent:    game.Player{ID: userID, Name: inv.JoinerName},
		Color:       inv.Color,
		TimeControl: inv.TimeControl,
	})
	if err != nil {
		m.release(ctx, inv)
		return nil, err
	}
	inv.SessionID = s.ID
	if err := m.store.Save(ctx, inv); err != nil {
		return nil, err
	}
	m.log.Info("invite_start_session",
		zap.String("code", code),
		zap.String("session_id", s.ID),
		zap.String("white_id", s.White.ID),
		zap.String("black_id", s.Black.ID),
	)
	return &JoinResult{Started: true, SessionID: s.ID, Invite: inv}, nil
}

// release reopens an invite whose session could not be created.
func (m *Manager) release(ctx context.Context, inv *Invite) {
	joiner := inv.JoinerID
	inv.State, inv.JoinerID, inv.JoinerName = StateLobby, "", ""
	if err := m.store.Save(ctx, inv); err != nil {
		m.log.Warn("invite_release_failed", zap.String("code", inv.Code), zap.Error(err))
		return
	}
	pipe := m.rdb.TxPipeline()
	pipe.SRem(ctx, keyParticipants(inv.Code), joiner)
	pipe.SRem(ctx, keyUserIdx(joiner), inv.Code)
	pipe.SAdd(ctx, keyLobby(), inv.Code)
	_, _ = pipe.Exec(ctx)
}

// Cancel closes an open invite. Only its creator may cancel it.
func (m *Manager) Cancel(ctx context.Context, code, userID string) error {
	inv, err := m.store.Load(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return err
	}
	if inv == nil || inv.State == StateCancelled {
		return ErrNotFound
	}
	if inv.CreatorID != userID {
		return ErrNotCreator
	}
	if inv.State != StateLobby {
		return ErrFull
	}
	inv.State = StateCancelled
	if err := m.store.Save(ctx, inv); err != nil {
		return err
	}
	return m.store.RemoveLobby(ctx, inv.Code)
}

func (m *Manager) Get(ctx context.Context, code string) (*Invite, error) {
	inv, err := m.store.Load(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrNotFound
	}
	return inv, nil
}

// ListLobby returns open invites, oldest first.
func (m *Manager) ListLobby(ctx context.Context) ([]*Invite, error) {
	out, err := m.store.ListLobby(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
