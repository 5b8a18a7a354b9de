package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-PvP-Server/internal/obslog"
	"github.com/park285/Cheese-PvP-Server/pkg/sessiondto"
)

const (
	defaultQueueSize    = 64
	defaultSendTimeout  = 5 * time.Second
	defaultPingInterval = 30 * time.Second
)

type WSOptions struct {
	QueueSize   int
	SendTimeout time.Duration
	// PingInterval <= 0 disables keepalive pings.
	PingInterval time.Duration
	Logger       *zap.Logger
}

// WSConn writes events to one websocket from a single goroutine. Events
// with a version older than the last one written are skipped; replies are
// always written.
type WSConn struct {
	id        string
	sessionID string
	playerID  string

	ws          *websocket.Conn
	queue       chan sessiondto.Event
	sendTimeout time.Duration
	pingEvery   time.Duration
	log         *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	overflow  atomic.Bool
	wg        sync.WaitGroup

	sent    atomic.Int64
	dropped atomic.Int64
}

func NewWSConn(ws *websocket.Conn, sessionID, playerID string, o WSOptions) *WSConn {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	return &WSConn{
		id:          uuid.NewString(),
		sessionID:   sessionID,
		playerID:    playerID,
		ws:          ws,
		queue:       make(chan sessiondto.Event, o.QueueSize),
		sendTimeout: o.SendTimeout,
		pingEvery:   o.PingInterval,
		log:         obslog.Or(o.Logger),
		done:        make(chan struct{}),
	}
}

func (c *WSConn) ID() string       { return c.id }
func (c *WSConn) PlayerID() string { return c.playerID }

// Done is closed once the connection is closed.
func (c *WSConn) Done() <-chan struct{} { return c.done }

// Start launches the writer and, if enabled, the ping loop.
func (c *WSConn) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.writeLoop(ctx)
	if c.pingEvery > 0 {
		c.wg.Add(1)
		go c.pingLoop(ctx)
	}
}

func (c *WSConn) Enqueue(ev sessiondto.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- ev:
		return true
	default:
		c.dropped.Add(1)
		c.overflow.Store(true)
		return false
	}
}

func (c *WSConn) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	var last int64
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.Close()
			return
		case ev := <-c.queue:
			if ev.Kind != sessiondto.EventReply && ev.Version < last {
				c.dropped.Add(1)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
			err := wsjson.Write(wctx, c.ws, ev)
			cancel()
			if err != nil {
				c.log.Debug("broadcast_write_failed", zap.String("conn_id", c.id), zap.Error(err))
				c.Close()
				return
			}
			if ev.Kind != sessiondto.EventReply {
				last = ev.Version
			}
			c.sent.Add(1)
		}
	}
}

func (c *WSConn) pingLoop(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingEvery)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.Close()
				return
			}
		}
	}
}

// Close stops the writer and closes the websocket. Safe to call repeatedly.
func (c *WSConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		code, reason := websocket.StatusNormalClosure, "close"
		if c.overflow.Load() {
			code, reason = websocket.StatusTryAgainLater, "slow consumer"
		}
		_ = c.ws.Close(code, reason)
		c.log.Info("broadcast_conn_closed",
			zap.String("session_id", c.sessionID),
			zap.String("conn_id", c.id),
			zap.String("player_id", c.playerID),
			zap.Int64("sent", c.sent.Load()),
			zap.Int64("dropped", c.dropped.Load()),
		)
	})
}

// Wait blocks until the writer and ping goroutines have exited.
func (c *WSConn) Wait() { c.wg.Wait() }

// Stats returns the delivery counters.
func (c *WSConn) Stats() (sent, dropped int64) { return c.sent.Load(), c.dropped.Load() }
