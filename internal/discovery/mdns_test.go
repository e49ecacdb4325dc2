package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/brutella/dnssd"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireMulticast skips when no interface can carry mDNS traffic.
func requireMulticast(t *testing.T) {
	t.Helper()
	ifaces, err := net.Interfaces()
	if err != nil {
		t.Skipf("list interfaces: %v", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagMulticast != 0 {
			return
		}
	}
	t.Skip("no multicast interface")
}

func TestInfoConfig(t *testing.T) {
	cfg := Info{ID: "3fa85f64-5717", Port: 8090}.config()
	assert.Equal(t, "NovaCast 3FA85F", cfg.Name)
	assert.Equal(t, ServiceType, cfg.Type)
	assert.Equal(t, Domain, cfg.Domain)
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, "3fa85f64-5717", cfg.Text["id"])
	assert.Equal(t, "3FA85F", cfg.Text["code"])

	assert.Equal(t, "studio", Info{Instance: "studio", ID: "x"}.config().Name)
}

func TestMatch(t *testing.T) {
	entry := dnssd.BrowseEntry{Text: map[string]string{"id": "3fa85f64-5717", "code": "3fa85f"}}

	id, ok := match(entry, "3FA85F")
	assert.True(t, ok)
	assert.Equal(t, domain.Identity("3fa85f64-5717"), id)

	_, ok = match(entry, "ABCDEF")
	assert.False(t, ok)

	// code and id disagree
	_, ok = match(dnssd.BrowseEntry{Text: map[string]string{"id": "ffffff-1", "code": "3FA85F"}}, "3FA85F")
	assert.False(t, ok)

	_, ok = match(dnssd.BrowseEntry{Text: map[string]string{}}, "3FA85F")
	assert.False(t, ok)
}

func TestAnnounceLookupLoopback(t *testing.T) {
	requireMulticast(t)

	id := domain.NewIdentity()
	ctx, cancel := context.WithCancel(context.Background())
	announced := make(chan error, 1)
	go func() { announced <- Announce(ctx, Info{ID: id, Port: 8090}) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-announced:
		case <-time.After(5 * time.Second):
		}
	})

	select {
	case err := <-announced:
		t.Skipf("mDNS responder unavailable: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	lookupCtx, lookupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer lookupCancel()
	got, err := Lookup(lookupCtx, id.JoinCode())
	if err != nil && !errors.Is(err, ErrNotFound) {
		t.Skipf("mDNS browse unavailable: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestLookupUnknownCode(t *testing.T) {
	requireMulticast(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := Lookup(ctx, "ZZZZZZ")
	if err != nil && !errors.Is(err, ErrNotFound) {
		t.Skipf("mDNS browse unavailable: %v", err)
	}
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Less(t, time.Since(start), 5*time.Second)
}
