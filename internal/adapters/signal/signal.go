package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/novacast/internal/broker"
	"github.com/dkeye/novacast/internal/core"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const writeWait = 5 * time.Second

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
}

type SignalWSController struct {
	Registry *broker.Registry
	Policy   broker.Policy
	Limiter  *broker.RateLimiter
	Opts     Options
}

func NewSignalWSController(reg *broker.Registry, policy broker.Policy, limiter *broker.RateLimiter, opts Options) *SignalWSController {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	return &SignalWSController{
		Registry: reg,
		Policy:   policy,
		Limiter:  limiter,
		Opts:     opts,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, queue int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, queue),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal registers the caller under ?id= (or a fresh identity) and
// starts its pumps. ?token= overrides the cookie session token.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	if !ctl.Limiter.Allow(c.ClientIP()) {
		log.Warn().Str("module", "signal").Str("remote", c.ClientIP()).Msg("registration rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	id := domain.NewIdentity()
	if raw := c.Query("id"); raw != "" {
		parsed, err := domain.ParseIdentity(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id = parsed
	}
	token := c.Query("token")
	if token == "" {
		token = c.GetString("client_token")
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.Opts.SendQueue)
	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Registry.Bind(id, token, conn, cancel); err != nil {
		cancel()
		ctl.rejectAndClose(ws, core.ErrCodeIDTaken)
		return
	}
	log.Info().Str("module", "signal").Str("id", string(id)).Msg("new WS connection")

	ctl.sendJSON(conn, core.Envelope{Type: core.TypeOpen, ID: id})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}

func (ctl *SignalWSController) rejectAndClose(ws *websocket.Conn, code string) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(core.Envelope{Type: core.TypeError, Error: code}); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reject write")
	}
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(writeWait),
	)
	_ = ws.Close()
}
