package domain

import "time"

const KindRequestStream = "request-stream"

// RequestStream is sent by a client over the signaling channel right after it opens.
type RequestStream struct {
	Kind              string   `json:"kind"`
	RequesterIdentity Identity `json:"requesterIdentity"`
}

func NewRequestStream(requester Identity) RequestStream {
	return RequestStream{Kind: KindRequestStream, RequesterIdentity: requester}
}

type ChatRole string

const (
	ChatRoleUser  ChatRole = "user"
	ChatRoleModel ChatRole = "model"
)

type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
