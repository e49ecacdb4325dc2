package broker

import "github.com/dkeye/novacast/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickPeer
)

type Policy interface {
	OnBackPressure(id domain.Identity) BackpressureAction
}

// SimplePolicy drops frames for slow peers, or kicks them when Kick is set.
type SimplePolicy struct {
	Kick bool
}

func (p SimplePolicy) OnBackPressure(domain.Identity) BackpressureAction {
	if p.Kick {
		return KickPeer
	}
	return DropFrame
}
