package broker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/novacast/internal/core"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrIdentityTaken = errors.New("identity taken")

type peerEntry struct {
	Token  string
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	Since  time.Time
}

// Registry maps live identities to their signaling connections.
// It never closes adapter-owned connections except through Kick.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.Identity]*peerEntry
}

func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[domain.Identity]*peerEntry),
	}
}

// Bind registers id. A second registration of the same id is only
// allowed with the same token and replaces the old connection.
func (r *Registry) Bind(
	id domain.Identity,
	token string,
	conn core.SignalConnection,
	cancel context.CancelFunc,
) error {
	r.mu.Lock()
	old, ok := r.peers[id]
	if ok && old.Token != token {
		r.mu.Unlock()
		log.Warn().Str("module", "broker.registry").Str("id", string(id)).Msg("identity taken")
		return ErrIdentityTaken
	}
	r.peers[id] = &peerEntry{
		Token:  token,
		Conn:   conn,
		Cancel: cancel,
		Since:  time.Now(),
	}
	r.mu.Unlock()

	if ok {
		log.Info().Str("module", "broker.registry").Str("id", string(id)).Msg("replacing connection")
		if old.Cancel != nil {
			old.Cancel()
		}
		old.Conn.Close()
	}
	log.Info().Str("module", "broker.registry").Str("id", string(id)).Msg("bound peer")
	return nil
}

func (r *Registry) Lookup(id domain.Identity) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.peers[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unbind removes id only while it is still bound to conn.
func (r *Registry) Unbind(id domain.Identity, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.peers, id)
	log.Info().Str("module", "broker.registry").Str("id", string(id)).Msg("unbind peer")
	return true
}

// Kick cancels the connection context and closes the transport.
func (r *Registry) Kick(id domain.Identity) bool {
	r.mu.Lock()
	e, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	e.Conn.Close()
	log.Info().Str("module", "broker.registry").Str("id", string(id)).Msg("kicked peer")
	return true
}

type PeerInfo struct {
	ID       domain.Identity `json:"id"`
	JoinCode domain.JoinCode `json:"join_code"`
	Since    time.Time       `json:"since"`
}

// Snapshot lists peers, oldest first.
func (r *Registry) Snapshot() []PeerInfo {
	r.mu.RLock()
	out := make([]PeerInfo, 0, len(r.peers))
	for id, e := range r.peers {
		out = append(out, PeerInfo{ID: id, JoinCode: id.JoinCode(), Since: e.Since})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ID < out[j].ID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// Resolve returns the oldest peer whose join code matches.
func (r *Registry) Resolve(code domain.JoinCode) (domain.Identity, bool) {
	for _, p := range r.Snapshot() {
		if p.JoinCode == code {
			return p.ID, true
		}
	}
	return "", false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
