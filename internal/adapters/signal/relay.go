package signal

import (
	"errors"

	"github.com/dkeye/novacast/internal/broker"
	"github.com/dkeye/novacast/internal/core"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/rs/zerolog/log"
)

// relay forwards env to its destination with Src stamped by the broker,
// so a peer can never spoof another identity.
func (ctl *SignalWSController) relay(
	src domain.Identity,
	conn *WsSignalConn,
	env core.Envelope,
) {
	env.Src = src
	env.ID = ""
	env.Error = ""

	if env.Dst == "" {
		_ = ctl.sendJSON(conn, core.Envelope{Type: core.TypeError, Error: core.ErrCodeMissingDst})
		return
	}

	dst, ok := ctl.Registry.Lookup(env.Dst)
	if !ok {
		log.Info().
			Str("module", "signal").
			Str("src", string(src)).
			Str("dst", string(env.Dst)).
			Str("type", env.Type).
			Msg("destination unavailable")
		if env.Type == core.TypeLeave || env.Type == core.TypeClose {
			return
		}
		_ = ctl.sendJSON(conn, core.Envelope{
			Type:    core.TypeError,
			Error:   core.ErrCodePeerUnavailable,
			Dst:     env.Dst,
			Payload: env.Payload,
		})
		return
	}

	err := ctl.sendJSON(dst, env)
	if err == nil {
		log.Debug().Str("module", "signal").Str("src", string(src)).Str("dst", string(env.Dst)).Str("type", env.Type).Msg("relayed")
		return
	}
	if !errors.Is(err, ErrBackpressure) || ctl.Policy == nil {
		log.Warn().Err(err).Str("module", "signal").Str("dst", string(env.Dst)).Msg("relay failed")
		return
	}

	switch ctl.Policy.OnBackPressure(env.Dst) {
	case broker.KickPeer:
		log.Warn().Str("module", "signal").Str("dst", string(env.Dst)).Msg("kicking slow peer")
		ctl.Registry.Kick(env.Dst)
	case broker.DropFrame:
		log.Warn().Str("module", "signal").Str("dst", string(env.Dst)).Str("type", env.Type).Msg("dropped frame for slow peer")
	case broker.NoAction:
	}
}
