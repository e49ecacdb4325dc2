package signal

import "github.com/dkeye/novacast/internal/core"

// handlePing echoes the caller's timestamp so it can measure round-trip time.
func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
	env core.Envelope,
) {
	_ = ctl.sendJSON(conn, core.Envelope{Type: core.TypePong, TS: env.TS})
}
