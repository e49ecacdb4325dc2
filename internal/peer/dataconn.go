package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/novacast/internal/core"
	"github.com/dkeye/novacast/internal/domain"
)

var ErrChannelClosed = errors.New("peer: channel closed")

// DataConn is a message channel to one remote identity, relayed by the broker.
type DataConn struct {
	id     string
	remote domain.Identity
	label  string
	peer   *Peer

	mu      sync.Mutex
	open    bool
	closed  bool
	err     error
	onOpen  []func()
	onData  func(json.RawMessage)
	onError []func(error)
	onClose func()
}

func newDataConn(p *Peer, id string, remote domain.Identity, label string) *DataConn {
	return &DataConn{id: id, remote: remote, label: label, peer: p}
}

func (d *DataConn) ID() string { return d.id }
func (d *DataConn) Remote() domain.Identity { return d.remote }
func (d *DataConn) Label() string { return d.label }

func (d *DataConn) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open && !d.closed
}

// OnOpen runs fn once the remote accepted; immediately if it already has.
func (d *DataConn) OnOpen(fn func()) {
	d.mu.Lock()
	if d.open {
		d.mu.Unlock()
		fn()
		return
	}
	d.onOpen = append(d.onOpen, fn)
	d.mu.Unlock()
}

// OnError runs fn on channel failure; immediately if it already failed.
func (d *DataConn) OnError(fn func(error)) {
	d.mu.Lock()
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		fn(err)
		return
	}
	d.onError = append(d.onError, fn)
	d.mu.Unlock()
}

func (d *DataConn) OnData(fn func(json.RawMessage)) {
	d.mu.Lock()
	d.onData = fn
	d.mu.Unlock()
}

func (d *DataConn) OnClose(fn func()) {
	d.mu.Lock()
	d.onClose = fn
	d.mu.Unlock()
}

// Send marshals v and relays it to the remote end.
func (d *DataConn) Send(v any) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	return d.peer.send(core.TypeData, d.remote, payload{ConnectionID: d.id, Data: b})
}

// Close tells the remote end and releases the channel.
func (d *DataConn) Close() {
	if d.shutdown() {
		_ = d.peer.send(core.TypeClose, d.remote, payload{ConnectionID: d.id})
	}
}

func (d *DataConn) markOpen() {
	d.mu.Lock()
	if d.open || d.closed {
		d.mu.Unlock()
		return
	}
	d.open = true
	fns := d.onOpen
	d.onOpen = nil
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (d *DataConn) deliver(data json.RawMessage) {
	d.mu.Lock()
	fn := d.onData
	closed := d.closed
	d.mu.Unlock()
	if fn != nil && !closed {
		fn(data)
	}
}

func (d *DataConn) fail(err error) {
	d.mu.Lock()
	if d.err != nil || d.closed {
		d.mu.Unlock()
		return
	}
	d.err = err
	fns := d.onError
	d.onError = nil
	d.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
	d.shutdown()
}

// shutdown marks the channel closed; reports whether this call did it.
func (d *DataConn) shutdown() bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.closed = true
	fn := d.onClose
	d.mu.Unlock()

	d.peer.forgetConn(d.id)
	if fn != nil {
		fn()
	}
	return true
}
