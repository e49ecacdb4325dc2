package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

// Sink consumes RTP packets of one received track.
type Sink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// outSink is a single sink attached to a relay.
type outSink struct {
	sink  Sink
	state atomic.Int32 // zero by default (SinkStateOk)
}

func newOutSink(s Sink) *outSink {
	return &outSink{sink: s}
}

func (o *outSink) State() SinkState {
	return SinkState(o.state.Load())
}

func (o *outSink) MarkOk() {
	o.state.Store(int32(SinkStateOk))
}

func (o *outSink) MarkMuted() {
	o.state.Store(int32(SinkStateMuted))
}

func (o *outSink) MarkDelete() {
	o.state.Store(int32(SinkStateDelete))
}
