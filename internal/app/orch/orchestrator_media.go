package orch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dkeye/novacast/internal/domain"
	"github.com/dkeye/novacast/internal/media"
	"github.com/dkeye/novacast/internal/peer"
	"github.com/dkeye/novacast/internal/session"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	statsSink   = "stats"
	recordSink  = "record"
	forwardSink = "forward"
)

var ErrNothingToRecord = errors.New("orch: no video track to record")

// peerTransport adapts *peer.Peer to the handshake.
type peerTransport struct {
	p *peer.Peer
}

func (t *peerTransport) ID() domain.Identity { return t.p.ID() }

func (t *peerTransport) Connect(remote domain.Identity) (session.Channel, error) {
	dc, err := t.p.Connect(remote)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (t *peerTransport) Call(remote domain.Identity, stream media.Stream) (session.MediaSession, error) {
	mc, err := t.p.Call(remote, stream)
	if err != nil {
		return nil, err
	}
	return mc, nil
}

// incomingCall is an offered call seen by the handshake.
type incomingCall struct {
	mc *peer.MediaConn
}

func (c *incomingCall) Remote() domain.Identity { return c.mc.Remote() }
func (c *incomingCall) Answer() error { return c.mc.Answer(nil) }
func (c *incomingCall) Close() { c.mc.Close() }

// Render binds the call's tracks to relays before it is answered.
func (o *Orchestrator) Render(s session.IncomingSession) error {
	call, ok := s.(*incomingCall)
	if !ok {
		return fmt.Errorf("orch: cannot render %T", s)
	}
	callID := call.mc.ID()
	call.mc.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.OnTrack(ctx, callID, track)
	})
	call.mc.OnClose(func() { o.OnMediaDisconnect(callID) })
	return nil
}

// OnTrack starts a relay for a received track with the configured sinks.
func (o *Orchestrator) OnTrack(ctx context.Context, callID string, track *webrtc.TrackRemote) {
	mime := track.Codec().MimeType
	key := callID + "/" + track.ID()
	logger := log.With().Str("module", "orch").Str("track", key).Str("codec", mime).Logger()

	sinks := map[string]media.Sink{statsSink: o.Collector.Sink(mime)}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		if o.render.RecordPath != "" && recordable(mime) {
			rec, err := media.NewIVFRecorder(o.render.RecordPath, mime)
			if err != nil {
				logger.Error().Err(err).Msg("recorder unavailable")
			} else {
				sinks[recordSink] = rec
			}
		}
		if o.render.ForwardAddr != "" {
			fwd, err := media.NewUDPForwarder(o.render.ForwardAddr)
			if err != nil {
				logger.Error().Err(err).Msg("forwarder unavailable")
			} else {
				sinks[forwardSink] = fwd
			}
		}
	}
	o.Relays.StartRelay(ctx, key, mime, track, sinks)
}

// Tracks lists received tracks and their sinks.
func (o *Orchestrator) Tracks() []domain.TrackInfo {
	return o.Relays.Tracks()
}

// MuteSink pauses or resumes the named sink on every track.
func (o *Orchestrator) MuteSink(name string, muted bool) int {
	n := o.Relays.SetSinkMuted(name, muted)
	log.Info().Str("module", "orch").Str("sink", name).Bool("muted", muted).Int("tracks", n).Msg("sink mute")
	return n
}

// DetachSink removes the named sink from every track.
func (o *Orchestrator) DetachSink(name string) int {
	n := o.Relays.RemoveSink(name)
	log.Info().Str("module", "orch").Str("sink", name).Int("tracks", n).Msg("sink detached")
	return n
}

// Record starts an IVF recorder on every received video track that has none.
// Extra tracks get the track index appended to the file name.
func (o *Orchestrator) Record(path string) (int, error) {
	n := 0
	for _, t := range o.Relays.Tracks() {
		if media.Kind(t.Mime) != "video" || !recordable(t.Mime) || slices.Contains(t.Sinks, recordSink) {
			continue
		}
		rec, err := media.NewIVFRecorder(numberedPath(path, n), t.Mime)
		if err != nil {
			return n, err
		}
		if !o.Relays.AddSink(t.Key, recordSink, rec) {
			_ = rec.Close()
			continue
		}
		n++
	}
	if n == 0 {
		return 0, ErrNothingToRecord
	}
	log.Info().Str("module", "orch").Str("path", path).Int("tracks", n).Msg("recording started")
	return n, nil
}

func numberedPath(path string, i int) string {
	if i == 0 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), i, ext)
}

// OnMediaDisconnect stops every relay of a closed call.
func (o *Orchestrator) OnMediaDisconnect(callID string) {
	log.Info().Str("module", "orch").Str("call", callID).Msg("media session closed")
	o.Relays.StopPrefix(callID + "/")
}

func recordable(mime string) bool {
	for _, m := range []string{webrtc.MimeTypeVP8, webrtc.MimeTypeVP9, webrtc.MimeTypeAV1} {
		if strings.EqualFold(m, mime) {
			return true
		}
	}
	return false
}
