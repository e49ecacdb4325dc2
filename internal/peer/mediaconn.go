package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/novacast/internal/core"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrAlreadyAnswered = errors.New("peer: call already answered")

// LocalStream is anything that can contribute local tracks to a call.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
}

// TrackHandler receives remote tracks of a call. ctx ends with the call.
type TrackHandler func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// MediaConn is one WebRTC media session with a remote identity.
type MediaConn struct {
	id     string
	remote domain.Identity
	peer   *Peer
	conn   core.MediaConnection

	mu       sync.Mutex
	offer    *webrtc.SessionDescription
	answered bool
	closed   bool
	err      error
	onError  []func(error)
	onClose  func()

	// local candidates wait until our SDP has gone out
	sdpSent    bool
	candidates []webrtc.ICECandidateInit
}

func newMediaConn(p *Peer, id string, remote domain.Identity, conn core.MediaConnection) *MediaConn {
	mc := &MediaConn{id: id, remote: remote, peer: p, conn: conn}
	conn.OnClosed(func() { mc.shutdown(false) })
	conn.OnICECandidate(mc.trickle)
	return mc
}

func (m *MediaConn) ID() string { return m.id }

func (m *MediaConn) Remote() domain.Identity { return m.remote }

// OnTrack must be set before Answer to catch the first track.
func (m *MediaConn) OnTrack(fn TrackHandler) {
	m.conn.OnTrack(fn)
}

func (m *MediaConn) OnError(fn func(error)) {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		fn(err)
		return
	}
	m.onError = append(m.onError, fn)
	m.mu.Unlock()
}

func (m *MediaConn) OnClose(fn func()) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

func (m *MediaConn) State() webrtc.PeerConnectionState {
	return m.conn.ConnectionState()
}

// Answer accepts an inbound call, optionally sending local tracks back.
func (m *MediaConn) Answer(stream LocalStream) error {
	m.mu.Lock()
	if m.answered {
		m.mu.Unlock()
		return ErrAlreadyAnswered
	}
	if m.closed {
		m.mu.Unlock()
		return ErrChannelClosed
	}
	m.answered = true
	offer := m.offer
	m.mu.Unlock()

	if offer == nil {
		return errors.New("peer: no offer to answer")
	}
	if stream != nil {
		for _, t := range stream.Tracks() {
			if _, err := m.conn.AddLocalTrack(t); err != nil {
				return fmt.Errorf("add track: %w", err)
			}
		}
	}
	answer, err := m.conn.ApplyOfferAndCreateAnswer(*offer)
	if err != nil {
		m.fail(fmt.Errorf("answer: %w", err))
		return err
	}
	if err := m.peer.send(core.TypeAnswer, m.remote, payload{ConnectionID: m.id, SDP: answer}); err != nil {
		return err
	}
	m.flushCandidates()
	return nil
}

// Close hangs up and tells the remote end.
func (m *MediaConn) Close() {
	m.shutdown(true)
}

// negotiate creates the offer and sends it; runs on its own goroutine.
func (m *MediaConn) negotiate() {
	offer, err := m.conn.CreateAndSetOffer()
	if err != nil {
		m.fail(fmt.Errorf("offer: %w", err))
		return
	}
	if err := m.peer.send(core.TypeOffer, m.remote, payload{ConnectionID: m.id, SDP: offer}); err != nil {
		m.fail(fmt.Errorf("send offer: %w", err))
		return
	}
	m.flushCandidates()
}

// trickle forwards a gathered local candidate, queueing it until the SDP is out.
func (m *MediaConn) trickle(c webrtc.ICECandidateInit) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if !m.sdpSent {
		m.candidates = append(m.candidates, c)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.sendCandidate(c)
}

func (m *MediaConn) flushCandidates() {
	m.mu.Lock()
	m.sdpSent = true
	queued := m.candidates
	m.candidates = nil
	m.mu.Unlock()
	for _, c := range queued {
		m.sendCandidate(c)
	}
}

func (m *MediaConn) sendCandidate(c webrtc.ICECandidateInit) {
	if err := m.peer.send(core.TypeCandidate, m.remote, payload{ConnectionID: m.id, Candidate: &c}); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("call", m.id).Msg("send candidate")
	}
}

func (m *MediaConn) applyAnswer(sdp *webrtc.SessionDescription) {
	if sdp == nil {
		return
	}
	if err := m.conn.ApplyAnswer(*sdp); err != nil {
		m.fail(fmt.Errorf("apply answer: %w", err))
	}
}

func (m *MediaConn) addCandidate(c *webrtc.ICECandidateInit) {
	if c == nil {
		return
	}
	if err := m.conn.AddICECandidate(*c); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("call", m.id).Msg("add candidate")
	}
}

func (m *MediaConn) fail(err error) {
	m.mu.Lock()
	if m.err != nil || m.closed {
		m.mu.Unlock()
		return
	}
	m.err = err
	fns := m.onError
	m.onError = nil
	m.mu.Unlock()

	log.Error().Err(err).Str("module", "peer").Str("call", m.id).Str("remote", string(m.remote)).Msg("media session failed")
	for _, fn := range fns {
		fn(err)
	}
	m.shutdown(true)
}

func (m *MediaConn) shutdown(notify bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	fn := m.onClose
	m.mu.Unlock()

	if notify {
		_ = m.peer.send(core.TypeLeave, m.remote, payload{ConnectionID: m.id})
	}
	m.peer.forgetCall(m.id)
	m.conn.Close()
	if fn != nil {
		fn()
	}
}
