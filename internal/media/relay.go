package media

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketReader is the read side of a remote track.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Relay reads one remote track and fans its packets out to sinks.
type Relay struct {
	Src  PacketReader
	Mime string

	mu    sync.RWMutex
	sinks map[string]*outSink

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src PacketReader, mime string, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:    src,
		Mime:   mime,
		sinks:  make(map[string]*outSink),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Done is closed when the read loop has stopped and sinks are closed.
func (r *Relay) Done() <-chan struct{} { return r.done }

// loop reads RTP packets from the source and forwards them to every sink.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	defer r.closeAll(logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, closing sinks")
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP ended")
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.sinks)
	r.mu.RUnlock()

	var dirty []string
	for name, out := range snapshot {
		switch out.State() {
		case SinkStateDelete:
			dirty = append(dirty, name)
		case SinkStateMuted:
		case SinkStateOk:
			if err := out.sink.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("sink", name).
					Msg("relay write RTP error, removing sink")
				out.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty, logger)
	}
}

func (r *Relay) cleanupDeleted(dirty []string, logger *zerolog.Logger) {
	r.mu.Lock()
	removed := make([]*outSink, 0, len(dirty))
	for _, name := range dirty {
		if out, ok := r.sinks[name]; ok {
			removed = append(removed, out)
			delete(r.sinks, name)
		}
	}
	r.mu.Unlock()
	for _, out := range removed {
		if err := out.sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("sink close")
		}
	}
}

func (r *Relay) closeAll(logger *zerolog.Logger) {
	r.mu.Lock()
	names := make([]string, 0, len(r.sinks))
	for name, out := range r.sinks {
		out.MarkDelete()
		names = append(names, name)
	}
	r.mu.Unlock()
	r.cleanupDeleted(names, logger)
}

func (r *Relay) AddSink(name string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = newOutSink(s)
}

// SetMuted pauses or resumes delivery to one sink.
func (r *Relay) SetMuted(name string, muted bool) bool {
	r.mu.RLock()
	out, ok := r.sinks[name]
	r.mu.RUnlock()
	if !ok || out.State() == SinkStateDelete {
		return false
	}
	if muted {
		out.MarkMuted()
	} else {
		out.MarkOk()
	}
	return true
}

// RemoveSink marks a sink for removal; the loop closes it on the next packet.
func (r *Relay) RemoveSink(name string) bool {
	r.mu.RLock()
	out, ok := r.sinks[name]
	r.mu.RUnlock()
	if !ok || out.State() == SinkStateDelete {
		return false
	}
	out.MarkDelete()
	return true
}

func (r *Relay) SinkNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sinks))
	for name, out := range r.sinks {
		if out.State() != SinkStateDelete {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
