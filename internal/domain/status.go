package domain

type Status string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusWaiting      Status = "WAITING"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusError        Status = "ERROR"
)

// Terminal reports whether the handshake can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusConnected || s == StatusError
}

type Role string

const (
	RoleNone   Role = ""
	RoleHost   Role = "HOST"
	RoleClient Role = "CLIENT"
)
