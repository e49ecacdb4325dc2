package peer

import (
	"fmt"

	"github.com/dkeye/novacast/internal/core"
	"github.com/rs/zerolog/log"
)

func (p *Peer) readLoop() {
	for {
		var env core.Envelope
		if err := p.ws.ReadJSON(&env); err != nil {
			if p.isClosed() {
				return
			}
			log.Error().Err(err).Str("module", "peer").Str("id", string(p.id)).Msg("broker read error")
			p.emitError(fmt.Errorf("%w: %v", ErrBrokerLost, err))
			p.Close()
			return
		}
		p.dispatch(env)
	}
}

func (p *Peer) dispatch(env core.Envelope) {
	switch env.Type {
	case core.TypePong:
		p.mu.Lock()
		ch, ok := p.pings[env.TS]
		p.mu.Unlock()
		if ok {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		return
	case core.TypeError:
		p.handleBrokerError(env)
		return
	}

	pl, err := decodePayload(env.Payload)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("type", env.Type).Msg("bad payload")
		return
	}
	logger := log.With().Str("module", "peer").Str("src", string(env.Src)).Str("type", env.Type).Str("cid", pl.ConnectionID).Logger()

	switch env.Type {
	case core.TypeConnect:
		dc := newDataConn(p, pl.ConnectionID, env.Src, pl.Label)
		if err := p.track(dc, nil); err != nil {
			return
		}
		if err := p.send(core.TypeAccept, env.Src, payload{ConnectionID: dc.id}); err != nil {
			logger.Error().Err(err).Msg("accept failed")
			p.forgetConn(dc.id)
			return
		}
		p.mu.Lock()
		fn := p.onConnection
		p.mu.Unlock()
		if fn != nil {
			fn(dc)
		}
		dc.markOpen()

	case core.TypeAccept:
		if dc, ok := p.conn(pl.ConnectionID); ok {
			dc.markOpen()
		}

	case core.TypeData:
		if dc, ok := p.conn(pl.ConnectionID); ok {
			dc.deliver(pl.Data)
		} else {
			logger.Debug().Msg("data for unknown channel")
		}

	case core.TypeClose:
		if dc, ok := p.conn(pl.ConnectionID); ok {
			dc.shutdown()
		}

	case core.TypeOffer:
		p.handleOffer(env, pl)

	case core.TypeAnswer:
		if mc, ok := p.call(pl.ConnectionID); ok {
			mc.applyAnswer(pl.SDP)
		}

	case core.TypeCandidate:
		if mc, ok := p.call(pl.ConnectionID); ok {
			mc.addCandidate(pl.Candidate)
		}

	case core.TypeLeave:
		if mc, ok := p.call(pl.ConnectionID); ok {
			mc.shutdown(false)
		}

	default:
		logger.Warn().Msg("unknown frame")
	}
}

func (p *Peer) handleOffer(env core.Envelope, pl payload) {
	if pl.SDP == nil {
		return
	}
	conn, err := p.rtc.NewConnection(pl.ConnectionID)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("new connection for inbound call")
		return
	}
	if err := conn.Start(p.ctx); err != nil {
		conn.Close()
		return
	}
	mc := newMediaConn(p, pl.ConnectionID, env.Src, conn)
	mc.offer = pl.SDP
	if err := p.track(nil, mc); err != nil {
		conn.Close()
		return
	}

	p.mu.Lock()
	fn := p.onCall
	p.mu.Unlock()
	if fn == nil {
		log.Warn().Str("module", "peer").Str("src", string(env.Src)).Msg("no call handler, hanging up")
		mc.Close()
		return
	}
	log.Info().Str("module", "peer").Str("call", mc.id).Str("src", string(env.Src)).Msg("inbound call")
	// the call handler may block, keep the read loop free
	go fn(mc)
}

func (p *Peer) handleBrokerError(env core.Envelope) {
	switch env.Error {
	case core.ErrCodePeerUnavailable:
		err := fmt.Errorf("%w: %s", ErrPeerUnavailable, env.Dst)
		if pl, derr := decodePayload(env.Payload); derr == nil && pl.ConnectionID != "" {
			if dc, ok := p.conn(pl.ConnectionID); ok {
				dc.fail(err)
			}
			if mc, ok := p.call(pl.ConnectionID); ok {
				mc.fail(err)
			}
		}
		p.emitError(err)
	default:
		log.Warn().Str("module", "peer").Str("error", env.Error).Msg("broker error")
		p.emitError(fmt.Errorf("peer: broker error %s", env.Error))
	}
}
