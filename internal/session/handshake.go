// Package session implements the host/client handshake: a client asks a
// host for its stream over a signaling channel and the host calls back
// with a media session.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/dkeye/novacast/internal/domain"
	"github.com/dkeye/novacast/internal/media"
	"github.com/rs/zerolog/log"
)

// Channel is an opened or opening signaling channel.
type Channel interface {
	OnOpen(func())
	OnError(func(error))
	Send(v any) error
	Close()
}

// MediaSession is a media session in either direction.
type MediaSession interface {
	Remote() domain.Identity
	Close()
}

// IncomingSession is a media session offered to the client.
type IncomingSession interface {
	MediaSession
	Answer() error
}

// Transport is the identity provider plus the means to reach other endpoints.
type Transport interface {
	ID() domain.Identity
	Connect(remote domain.Identity) (Channel, error)
	Call(remote domain.Identity, stream media.Stream) (MediaSession, error)
}

// Renderer binds an incoming session for display. It runs before the answer.
type Renderer interface {
	Render(IncomingSession) error
}

type Handshake struct {
	transport Transport
	renderer  Renderer

	mu        sync.Mutex
	role      domain.Role
	status    domain.Status
	lastErr   *Error
	stream    media.Stream
	channels  []Channel
	sessions  []MediaSession
	listeners []func(domain.Status)
	closed    bool
}

// New returns a DISCONNECTED handshake. renderer may be nil on a host.
func New(t Transport, r Renderer) *Handshake {
	return &Handshake{
		transport: t,
		renderer:  r,
		status:    domain.StatusDisconnected,
	}
}

func (h *Handshake) Status() domain.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handshake) Role() domain.Role {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.role
}

// LastError is the failure behind StatusError, nil otherwise.
func (h *Handshake) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastErr == nil {
		return nil
	}
	return h.lastErr
}

// Sessions reports how many media sessions this endpoint has taken part in.
func (h *Handshake) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// OnStatus registers fn for every status change. Called outside the lock.
func (h *Handshake) OnStatus(fn func(domain.Status)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// StartHosting acquires capture from src and becomes host.
func (h *Handshake) StartHosting(ctx context.Context, src media.Source) error {
	h.mu.Lock()
	if err := h.claimLocked(domain.RoleHost); err != nil {
		h.mu.Unlock()
		return err
	}
	h.role = domain.RoleHost
	h.mu.Unlock()

	stream, err := src.Acquire(ctx)
	if err != nil {
		return h.fail(ReasonCaptureDenied, err)
	}
	if err := h.BecomeHost(stream); err != nil {
		if stream != nil {
			_ = stream.Close()
		}
		return err
	}
	return nil
}

// BecomeHost binds stream as this endpoint's source and waits for requests.
func (h *Handshake) BecomeHost(stream media.Stream) error {
	h.mu.Lock()
	if err := h.claimLocked(domain.RoleHost); err != nil {
		h.mu.Unlock()
		return err
	}
	h.role = domain.RoleHost
	if stream == nil {
		h.mu.Unlock()
		return h.fail(ReasonCaptureDenied, ErrNoStream)
	}
	h.stream = stream
	fns := h.setStatusLocked(domain.StatusWaiting)
	h.mu.Unlock()

	log.Info().Str("module", "session").Str("id", string(h.transport.ID())).Msg("hosting, waiting for viewers")
	notify(fns, domain.StatusWaiting)
	return nil
}

// ConnectToHost opens a channel to remote and asks it for its stream.
func (h *Handshake) ConnectToHost(remote domain.Identity) error {
	h.mu.Lock()
	if err := h.claimLocked(domain.RoleClient); err != nil {
		h.mu.Unlock()
		return err
	}
	h.role = domain.RoleClient
	remote = domain.Identity(strings.TrimSpace(string(remote)))
	if remote == "" {
		h.mu.Unlock()
		return h.fail(ReasonInvalidIdentity, ErrEmptyIdentity)
	}
	fns := h.setStatusLocked(domain.StatusConnecting)
	h.mu.Unlock()
	notify(fns, domain.StatusConnecting)

	ch, err := h.transport.Connect(remote)
	if err != nil {
		return h.fail(ReasonChannelFailed, err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ch.Close()
		return ErrClosed
	}
	h.channels = append(h.channels, ch)
	h.mu.Unlock()

	ch.OnError(func(err error) {
		_ = h.fail(ReasonChannelFailed, err)
	})
	ch.OnOpen(func() {
		req := domain.NewRequestStream(h.transport.ID())
		if err := ch.Send(req); err != nil {
			_ = h.fail(ReasonChannelFailed, err)
			return
		}
		log.Info().Str("module", "session").Str("host", string(remote)).Msg("stream requested")
	})
	return nil
}

// OnSignalingMessage handles one message received by a host. Every
// request-stream starts a new media session; duplicates are not filtered.
func (h *Handshake) OnSignalingMessage(raw json.RawMessage) {
	var msg domain.RequestStream
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("undecodable signaling message")
		return
	}
	if msg.Kind != domain.KindRequestStream {
		log.Debug().Str("module", "session").Str("kind", msg.Kind).Msg("ignoring message")
		return
	}

	h.mu.Lock()
	stream := h.stream
	ignore := h.closed || h.role != domain.RoleHost || stream == nil || h.status == domain.StatusError
	h.mu.Unlock()
	if ignore {
		log.Info().Str("module", "session").Str("requester", string(msg.RequesterIdentity)).Msg("request ignored, not hosting")
		return
	}

	ms, err := h.transport.Call(msg.RequesterIdentity, stream)
	if err != nil {
		_ = h.fail(ReasonTransportError, err)
		return
	}
	log.Info().Str("module", "session").Str("viewer", string(msg.RequesterIdentity)).Msg("media session initiated")

	h.mu.Lock()
	if h.closed || h.status == domain.StatusError {
		h.mu.Unlock()
		ms.Close()
		return
	}
	h.sessions = append(h.sessions, ms)
	fns := h.setStatusLocked(domain.StatusConnected)
	h.mu.Unlock()
	notify(fns, domain.StatusConnected)
}

// OnMediaSession accepts an incoming session, binds it for rendering and
// marks the client connected.
func (h *Handshake) OnMediaSession(s IncomingSession) {
	h.mu.Lock()
	if h.closed || h.role == domain.RoleHost {
		h.mu.Unlock()
		log.Warn().Str("module", "session").Str("src", string(s.Remote())).Msg("rejecting media session")
		s.Close()
		return
	}
	if h.role == domain.RoleNone {
		h.role = domain.RoleClient
	}
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()

	if h.renderer != nil {
		if err := h.renderer.Render(s); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("render bind failed")
		}
	}
	if err := s.Answer(); err != nil {
		_ = h.fail(ReasonTransportError, err)
		return
	}
	log.Info().Str("module", "session").Str("host", string(s.Remote())).Msg("media session accepted")

	h.mu.Lock()
	var fns []func(domain.Status)
	if h.status != domain.StatusError {
		fns = h.setStatusLocked(domain.StatusConnected)
	}
	h.mu.Unlock()
	notify(fns, domain.StatusConnected)
}

// OnTransportError moves a non-terminal handshake to ERROR.
func (h *Handshake) OnTransportError(err error) {
	_ = h.fail(ReasonTransportError, err)
}

// Close releases channels, media sessions and the capture stream.
func (h *Handshake) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	channels, sessions, stream := h.channels, h.sessions, h.stream
	h.channels, h.stream = nil, nil
	h.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	for _, s := range sessions {
		s.Close()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("close capture stream")
		}
	}
	log.Info().Str("module", "session").Msg("handshake closed")
}

func (h *Handshake) claimLocked(role domain.Role) error {
	if h.closed {
		return ErrClosed
	}
	if h.role != domain.RoleNone && h.role != role {
		return ErrRoleConflict
	}
	if h.status != domain.StatusDisconnected {
		return ErrAlreadyStarted
	}
	return nil
}

// fail records err and moves to ERROR unless the handshake is already terminal.
func (h *Handshake) fail(reason Reason, err error) error {
	tagged := &Error{Reason: reason, Err: err}

	h.mu.Lock()
	if h.closed || h.status.Terminal() {
		status := h.status
		h.mu.Unlock()
		log.Warn().Err(err).Str("module", "session").Str("reason", string(reason)).Str("status", string(status)).Msg("error after terminal state")
		return tagged
	}
	h.lastErr = tagged
	fns := h.setStatusLocked(domain.StatusError)
	h.mu.Unlock()

	log.Error().Err(err).Str("module", "session").Str("reason", string(reason)).Msg("handshake failed")
	notify(fns, domain.StatusError)
	return tagged
}

func (h *Handshake) setStatusLocked(s domain.Status) []func(domain.Status) {
	if h.status == s {
		return nil
	}
	h.status = s
	return append([]func(domain.Status){}, h.listeners...)
}

func notify(fns []func(domain.Status), s domain.Status) {
	for _, fn := range fns {
		fn(s)
	}
}
