// Package peer is the endpoint side of the broker: identity, relayed
// message channels and WebRTC media sessions negotiated over the broker.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/novacast/internal/adapters/rtc"
	"github.com/dkeye/novacast/internal/core"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrIdentityTaken   = errors.New("peer: identity taken")
	ErrPeerUnavailable = errors.New("peer: remote unavailable")
	ErrBrokerLost      = errors.New("peer: broker connection lost")
	ErrPeerClosed      = errors.New("peer: closed")
)

const writeWait = 5 * time.Second

type Options struct {
	BrokerURL   string
	ID          domain.Identity // empty lets the broker assign one
	Token       string
	RTC         *rtc.Factory
	OpenTimeout time.Duration
	Dialer      *websocket.Dialer
}

type Peer struct {
	id  domain.Identity
	ws  *websocket.Conn
	rtc *rtc.Factory

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu           sync.Mutex
	conns        map[string]*DataConn
	calls        map[string]*MediaConn
	pings        map[int64]chan struct{}
	onConnection func(*DataConn)
	onCall       func(*MediaConn)
	onError      func(error)
	closed       bool
	done         chan struct{}
}

// New dials the broker and blocks until it assigns an identity.
func New(ctx context.Context, opts Options) (*Peer, error) {
	if opts.RTC == nil {
		return nil, errors.New("peer: rtc factory required")
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	u, err := url.Parse(opts.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("broker url: %w", err)
	}
	q := u.Query()
	if opts.ID != "" {
		q.Set("id", string(opts.ID))
	}
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	u.RawQuery = q.Encode()

	dialCtx, cancelDial := context.WithTimeout(ctx, opts.OpenTimeout)
	defer cancelDial()
	ws, _, err := dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(opts.OpenTimeout))
	var open core.Envelope
	if err := ws.ReadJSON(&open); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("waiting for open: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	switch {
	case open.Type == core.TypeError && open.Error == core.ErrCodeIDTaken:
		_ = ws.Close()
		return nil, ErrIdentityTaken
	case open.Type != core.TypeOpen || open.ID == "":
		_ = ws.Close()
		return nil, fmt.Errorf("peer: unexpected first frame %q", open.Type)
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		id:     open.ID,
		ws:     ws,
		rtc:    opts.RTC,
		ctx:    pctx,
		cancel: cancel,
		conns:  make(map[string]*DataConn),
		calls:  make(map[string]*MediaConn),
		pings:  make(map[int64]chan struct{}),
		done:   make(chan struct{}),
	}
	log.Info().Str("module", "peer").Str("id", string(p.id)).Str("code", string(p.id.JoinCode())).Msg("registered with broker")

	go p.readLoop()
	return p, nil
}

func (p *Peer) ID() domain.Identity { return p.id }

// Done is closed once the peer has shut down.
func (p *Peer) Done() <-chan struct{} { return p.done }

// OnConnection registers the handler for inbound channels; they are accepted automatically.
func (p *Peer) OnConnection(fn func(*DataConn)) {
	p.mu.Lock()
	p.onConnection = fn
	p.mu.Unlock()
}

// OnCall registers the handler for inbound media sessions. Without one, calls are hung up.
func (p *Peer) OnCall(fn func(*MediaConn)) {
	p.mu.Lock()
	p.onCall = fn
	p.mu.Unlock()
}

func (p *Peer) OnError(fn func(error)) {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
}

// Connect opens a channel to remote. It opens once remote accepts.
func (p *Peer) Connect(remote domain.Identity) (*DataConn, error) {
	dc := newDataConn(p, "dc_"+uuid.NewString(), remote, "")
	if err := p.track(dc, nil); err != nil {
		return nil, err
	}
	if err := p.send(core.TypeConnect, remote, payload{ConnectionID: dc.id}); err != nil {
		p.forgetConn(dc.id)
		return nil, err
	}
	return dc, nil
}

// Call starts a media session to remote carrying stream's tracks.
// Negotiation continues in the background; failures surface via OnError.
func (p *Peer) Call(remote domain.Identity, stream LocalStream) (*MediaConn, error) {
	id := "mc_" + uuid.NewString()
	conn, err := p.rtc.NewConnection(id)
	if err != nil {
		return nil, fmt.Errorf("new connection: %w", err)
	}
	if err := conn.Start(p.ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if stream != nil {
		for _, t := range stream.Tracks() {
			if _, err := conn.AddLocalTrack(t); err != nil {
				conn.Close()
				return nil, fmt.Errorf("add track: %w", err)
			}
		}
	}
	mc := newMediaConn(p, id, remote, conn)
	if err := p.track(nil, mc); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info().Str("module", "peer").Str("call", id).Str("remote", string(remote)).Msg("calling")
	go mc.negotiate()
	return mc, nil
}

// Ping measures the round trip to the broker.
func (p *Peer) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	ts := start.UnixNano()
	ch := make(chan struct{}, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPeerClosed
	}
	p.pings[ts] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pings, ts)
		p.mu.Unlock()
	}()

	if err := p.writeEnvelope(core.Envelope{Type: core.TypePing, TS: ts}); err != nil {
		return 0, err
	}
	select {
	case <-ch:
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.done:
		return 0, ErrPeerClosed
	}
}

// Close hangs up every channel and call, then drops the broker socket.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := make([]*DataConn, 0, len(p.conns))
	for _, dc := range p.conns {
		conns = append(conns, dc)
	}
	calls := make([]*MediaConn, 0, len(p.calls))
	for _, mc := range p.calls {
		calls = append(calls, mc)
	}
	p.mu.Unlock()

	for _, dc := range conns {
		dc.Close()
	}
	for _, mc := range calls {
		mc.Close()
	}

	_ = p.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	_ = p.ws.Close()
	p.cancel()
	close(p.done)
	log.Info().Str("module", "peer").Str("id", string(p.id)).Msg("closed")
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) track(dc *DataConn, mc *MediaConn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	if dc != nil {
		p.conns[dc.id] = dc
	}
	if mc != nil {
		p.calls[mc.id] = mc
	}
	return nil
}

func (p *Peer) forgetConn(id string) {
	p.mu.Lock()
	delete(p.conns, id)
	p.mu.Unlock()
}

func (p *Peer) forgetCall(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

func (p *Peer) conn(id string) (*DataConn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc, ok := p.conns[id]
	return dc, ok
}

func (p *Peer) call(id string) (*MediaConn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mc, ok := p.calls[id]
	return mc, ok
}

func (p *Peer) send(typ string, dst domain.Identity, pl payload) error {
	b, err := json.Marshal(pl)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.writeEnvelope(core.Envelope{Type: typ, Dst: dst, Payload: b})
}

func (p *Peer) writeEnvelope(env core.Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.ws.WriteJSON(env)
}

func (p *Peer) emitError(err error) {
	p.mu.Lock()
	fn := p.onError
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
