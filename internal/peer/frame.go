package peer

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// payload is the body of every relayed frame. The broker never looks inside.
type payload struct {
	ConnectionID string                     `json:"connectionId"`
	Label        string                     `json:"label,omitempty"`
	Data         json.RawMessage            `json:"data,omitempty"`
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func decodePayload(raw json.RawMessage) (payload, error) {
	var p payload
	if len(raw) == 0 {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}
