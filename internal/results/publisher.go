// Package results delivers the conclusion of finished sessions to
// downstream consumers. Delivery is at least once: every sink must be
// idempotent on the session id.
package results

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-PvP-Server/internal/domain"
	"github.com/park285/Cheese-PvP-Server/internal/obslog"
)

// Sink receives concluded games.
type Sink interface {
	Name() string
	Publish(ctx context.Context, g domain.ConcludedGame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	ID string
	Fn func(ctx context.Context, g domain.ConcludedGame) error
}

func (f SinkFunc) Name() string { return f.ID }
func (f SinkFunc) Publish(ctx context.Context, g domain.ConcludedGame) error {
	return f.Fn(ctx, g)
}

type Retry struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var DefaultRetry = Retry{Attempts: 4, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}

// Publisher fans a conclusion out to all sinks, retrying each one with
// exponential backoff and jitter.
type Publisher struct {
	sinks []Sink
	retry Retry
	log   *zap.Logger
}

type Option func(*Publisher)

func WithRetry(r Retry) Option         { return func(p *Publisher) { p.retry = r } }
func WithLogger(l *zap.Logger) Option { return func(p *Publisher) { p.log = l } }

func NewPublisher(sinks []Sink, opts ...Option) *Publisher {
	p := &Publisher{sinks: sinks, retry: DefaultRetry}
	for _, o := range opts {
		o(p)
	}
	p.log = obslog.Or(p.log)
	if p.retry.Attempts <= 0 {
		p.retry.Attempts = 1
	}
	return p
}

// Publish returns nil only when every sink accepted g.
func (p *Publisher) Publish(ctx context.Context, g domain.ConcludedGame) error {
	var errs []error
	for _, s := range p.sinks {
		if err := p.publishOne(ctx, s, g); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.log.Warn("session_conclusion_failed", zap.String("session_id", g.SessionID), zap.Error(err))
		return err
	}
	p.log.Info("session_conclusion_published",
		zap.String("session_id", g.SessionID),
		zap.String("status", g.Status),
		zap.String("end_reason", g.EndReason),
		zap.String("result", g.Result()),
	)
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, s Sink, g domain.ConcludedGame) error {
	var err error
	for attempt := 0; attempt < p.retry.Attempts; attempt++ {
		if err = s.Publish(ctx, g); err == nil {
			return nil
		}
		if attempt == p.retry.Attempts-1 {
			break
		}
		p.log.Debug("session_conclusion_retry", zap.String("sink", s.Name()), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
	return err
}

func (p *Publisher) backoff(attempt int) time.Duration {
	base := p.retry.BaseDelay
	if base <= 0 {
		return 0
	}
	d := base << uint(attempt)
	if p.retry.MaxDelay > 0 && d > p.retry.MaxDelay {
		d = p.retry.MaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(base)))
}

// LogSink only logs the conclusion; used when no archive is configured.
type LogSink struct{ Log *zap.Logger }

func (LogSink) Name() string { return "log" }

func (s LogSink) Publish(_ context.Context, g domain.ConcludedGame) error {
	obslog.Or(s.Log).Info("session_concluded",
		zap.String("session_id", g.SessionID),
		zap.String("white_id", g.WhiteID),
		zap.String("black_id", g.BlackID),
		zap.String("result", g.Result()),
		zap.String("end_reason", g.EndReason),
		zap.Int("plies", len(g.MovesUCI)),
	)
	return nil
}
