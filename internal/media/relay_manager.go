package media

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/novacast/internal/domain"
	"github.com/rs/zerolog/log"
)

// RelayManager owns the relays of every received track, keyed by track id.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a relay for key with its initial sinks and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, key, mime string, src PacketReader, sinks map[string]Sink) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("track", key).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, mime, cancel)
	for name, s := range sinks {
		relay.AddSink(name, s)
	}

	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.cancel()
	}
	m.relays[key] = relay
	m.mu.Unlock()

	logger.Info().Int("sinks", len(sinks)).Msg("starting relay loop")

	go func() {
		relay.loop(relayCtx, &logger)
		m.forget(key, relay)
	}()
	return relay
}

func (m *RelayManager) forget(key string, r *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[key] == r {
		delete(m.relays, key)
	}
}

// AddSink attaches a sink to the relay of key unless one named name is active.
func (m *RelayManager) AddSink(key, name string, s Sink) bool {
	relay, ok := m.relay(key)
	if !ok || slices.Contains(relay.SinkNames(), name) {
		return false
	}
	relay.AddSink(name, s)
	return true
}

// SetSinkMuted mutes or resumes the sink called name on every relay.
// It returns how many relays had one.
func (m *RelayManager) SetSinkMuted(name string, muted bool) int {
	n := 0
	for _, r := range m.snapshot() {
		if r.SetMuted(name, muted) {
			n++
		}
	}
	return n
}

// RemoveSink detaches the sink called name from every relay.
func (m *RelayManager) RemoveSink(name string) int {
	n := 0
	for _, r := range m.snapshot() {
		if r.RemoveSink(name) {
			n++
		}
	}
	return n
}

// Tracks lists the running relays ordered by key.
func (m *RelayManager) Tracks() []domain.TrackInfo {
	m.mu.RLock()
	out := make([]domain.TrackInfo, 0, len(m.relays))
	for key, r := range m.relays {
		out = append(out, domain.TrackInfo{Key: key, Mime: r.Mime, Sinks: r.SinkNames()})
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.TrackInfo) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// StopPrefix stops every relay whose key starts with prefix.
func (m *RelayManager) StopPrefix(prefix string) {
	m.mu.Lock()
	var stopped []*Relay
	for key, r := range m.relays {
		if strings.HasPrefix(key, prefix) {
			stopped = append(stopped, r)
			delete(m.relays, key)
		}
	}
	m.mu.Unlock()
	for _, r := range stopped {
		r.cancel()
	}
}

// StopAll stops every relay.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.cancel()
	}
}

func (m *RelayManager) relay(key string) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[key]
	return r, ok
}

func (m *RelayManager) snapshot() []*Relay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Relay, 0, len(m.relays))
	for _, r := range m.relays {
		out = append(out, r)
	}
	return out
}

func (m *RelayManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}
