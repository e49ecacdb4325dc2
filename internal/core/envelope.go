package core

import (
	"encoding/json"

	"github.com/dkeye/novacast/internal/domain"
)

// Frame types exchanged with the broker.
const (
	TypeOpen      = "open"
	TypeError     = "error"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeConnect   = "connect"
	TypeAccept    = "accept"
	TypeData      = "data"
	TypeClose     = "close"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeLeave     = "leave"
)

// Broker error codes carried in Envelope.Error.
const (
	ErrCodeIDTaken         = "id-taken"
	ErrCodePeerUnavailable = "peer-unavailable"
	ErrCodeMissingDst      = "missing-dst"
	ErrCodeBadPayload      = "bad_payload"
)

// Envelope is the single frame shape on the broker socket.
// The broker stamps Src on relayed frames; Payload is opaque to it.
type Envelope struct {
	Type    string          `json:"type"`
	ID      domain.Identity `json:"id,omitempty"`
	Src     domain.Identity `json:"src,omitempty"`
	Dst     domain.Identity `json:"dst,omitempty"`
	Error   string          `json:"error,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Relayed reports whether the broker forwards frames of this type to Dst.
func Relayed(t string) bool {
	switch t {
	case TypeConnect, TypeAccept, TypeData, TypeClose,
		TypeOffer, TypeAnswer, TypeCandidate, TypeLeave:
		return true
	}
	return false
}
