// Package media acquires capture streams on the host and fans received
// tracks out to sinks on the client.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrCaptureDenied wraps every capture acquisition failure.
var ErrCaptureDenied = errors.New("media: capture denied")

// Stream is an acquired capture stream.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// Source acquires a Stream. Acquire fails with ErrCaptureDenied.
type Source interface {
	Acquire(ctx context.Context) (Stream, error)
}
