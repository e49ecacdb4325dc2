// Package orch wires one endpoint together: the broker peer, the handshake,
// received-track relays, stream metrics and the assistant panel.
package orch

import (
	"context"
	"time"

	"github.com/dkeye/novacast/internal/assistant"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/dkeye/novacast/internal/media"
	"github.com/dkeye/novacast/internal/peer"
	"github.com/dkeye/novacast/internal/session"
	"github.com/rs/zerolog/log"
)

type RenderOptions struct {
	RecordPath  string
	ForwardAddr string
}

type Options struct {
	Render      RenderOptions
	StatsPeriod time.Duration
	Panel       *assistant.Panel
}

type Orchestrator struct {
	Peer      *peer.Peer
	Handshake *session.Handshake
	Relays    *media.RelayManager
	Collector *media.Collector
	Panel     *assistant.Panel

	render      RenderOptions
	statsPeriod time.Duration
}

// New binds the peer's callbacks to a fresh handshake.
func New(p *peer.Peer, opts Options) *Orchestrator {
	if opts.StatsPeriod <= 0 {
		opts.StatsPeriod = 5 * time.Second
	}
	if opts.Panel == nil {
		opts.Panel = assistant.NewPanel(nil)
	}
	o := &Orchestrator{
		Peer:        p,
		Relays:      media.NewRelayManager(),
		Collector:   media.NewCollector(),
		Panel:       opts.Panel,
		render:      opts.Render,
		statsPeriod: opts.StatsPeriod,
	}
	o.Handshake = session.New(&peerTransport{p: p}, o)
	o.bindPeer()
	return o
}

func (o *Orchestrator) bindPeer() {
	o.Peer.OnError(o.Handshake.OnTransportError)
	o.Peer.OnConnection(func(dc *peer.DataConn) {
		log.Info().Str("module", "orch").Str("remote", string(dc.Remote())).Msg("signaling channel opened")
		dc.OnData(o.Handshake.OnSignalingMessage)
	})
	o.Peer.OnCall(func(mc *peer.MediaConn) {
		o.Handshake.OnMediaSession(&incomingCall{mc: mc})
	})
}

// Host acquires capture from src and waits for viewers.
func (o *Orchestrator) Host(ctx context.Context, src media.Source) error {
	return o.Handshake.StartHosting(ctx, src)
}

// View asks the host with identity id for its stream.
func (o *Orchestrator) View(id domain.Identity) error {
	return o.Handshake.ConnectToHost(id)
}

func (o *Orchestrator) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Role:     o.Handshake.Role(),
		Status:   o.Handshake.Status(),
		ID:       o.Peer.ID(),
		JoinCode: o.Peer.ID().JoinCode(),
		Sessions: o.Handshake.Sessions(),
		Tracks:   o.Relays.Len(),
		Metrics:  o.Collector.Metrics(),
		Totals:   o.Collector.Totals(),
	}
	if err := o.Handshake.LastError(); err != nil {
		snap.Reason = string(session.ReasonOf(err))
	}
	return snap
}

func (o *Orchestrator) Analyze(ctx context.Context, image []byte) domain.ChatMessage {
	return o.Panel.Analyze(ctx, image)
}

func (o *Orchestrator) Chat(ctx context.Context, message string) domain.ChatMessage {
	return o.Panel.Chat(ctx, message)
}

func (o *Orchestrator) Messages() []domain.ChatMessage {
	return o.Panel.Messages()
}

func (o *Orchestrator) ResetChat() {
	o.Panel.Reset()
}

// WatchBroker waits for the broker connection to drop. Losing it before a
// session connected ends the endpoint with peer.ErrBrokerLost; a connected
// stream keeps running peer to peer.
func (o *Orchestrator) WatchBroker(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-o.Peer.Done():
	}
	if ctx.Err() != nil {
		return nil
	}
	if o.Handshake.Status() == domain.StatusConnected {
		log.Warn().Str("module", "orch").Msg("broker lost, stream continues without signaling")
		<-ctx.Done()
		return nil
	}
	return peer.ErrBrokerLost
}

// RunStats samples metrics and broker latency until ctx ends.
func (o *Orchestrator) RunStats(ctx context.Context) {
	ticker := time.NewTicker(o.statsPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, o.statsPeriod)
		rtt, err := o.Peer.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("module", "orch").Msg("latency sample")
		} else {
			o.Collector.SetLatency(rtt)
		}
		m := o.Collector.Sample()
		log.Debug().
			Str("module", "orch").
			Float64("latency_ms", m.LatencyMs).
			Float64("kbps", m.BandwidthKbps).
			Float64("fps", m.FPS).
			Str("resolution", m.Resolution()).
			Msg("stream metrics")
	}
}

// Close tears down the handshake, relays and the peer, in that order.
func (o *Orchestrator) Close() {
	o.Handshake.Close()
	o.Relays.StopAll()
	o.Peer.Close()
}
