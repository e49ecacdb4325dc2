// Package discovery announces hosts on the LAN over mDNS so a viewer can
// find one by join code without a broker lookup.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_novacast._tcp"
	Domain      = "local"

	txtID   = "id"
	txtCode = "code"
)

var ErrNotFound = errors.New("discovery: no host with that join code")

// Info is what a host announces.
type Info struct {
	Instance string
	ID       domain.Identity
	Port     int
}

func (i Info) config() dnssd.Config {
	name := i.Instance
	if name == "" {
		name = "NovaCast " + string(i.ID.JoinCode())
	}
	return dnssd.Config{
		Name:   name,
		Type:   ServiceType,
		Domain: Domain,
		// mdns multicasts on every interface, so IPs stay nil
		IPs: nil,
		Text: map[string]string{
			txtID:   string(i.ID),
			txtCode: string(i.ID.JoinCode()),
		},
		Port: i.Port,
	}
}

// Announce responds to mDNS queries until ctx is done.
func Announce(ctx context.Context, info Info) error {
	service, err := dnssd.NewService(info.config())
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}
	if _, err := rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	log.Info().Str("module", "discovery").Str("name", service.Name).Str("code", string(info.ID.JoinCode())).Msg("announcing host")
	if err := rp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to respond to mDNS queries: %w", err)
	}
	return nil
}

// Lookup browses until a host announcing code shows up or ctx ends.
func Lookup(ctx context.Context, code domain.JoinCode) (domain.Identity, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan domain.Identity, 1)
	addFn := func(e dnssd.BrowseEntry) {
		if id, ok := match(e, code); ok {
			select {
			case found <- id:
			default:
			}
			cancel()
		}
	}
	rmvFn := func(dnssd.BrowseEntry) {}

	err := dnssd.LookupType(ctx, ServiceType+"."+Domain+".", addFn, rmvFn)
	select {
	case id := <-found:
		return id, nil
	default:
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("mDNS lookup failed: %w", err)
	}
	return "", ErrNotFound
}

func match(e dnssd.BrowseEntry, code domain.JoinCode) (domain.Identity, bool) {
	id, err := domain.ParseIdentity(e.Text[txtID])
	if err != nil {
		return "", false
	}
	announced := domain.JoinCode(strings.ToUpper(e.Text[txtCode]))
	if announced != code || !code.Matches(id) {
		return "", false
	}
	return id, true
}
