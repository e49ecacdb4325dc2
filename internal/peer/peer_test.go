package peer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpadapter "github.com/dkeye/novacast/internal/adapters/http"
	"github.com/dkeye/novacast/internal/adapters/rtc"
	"github.com/dkeye/novacast/internal/adapters/signal"
	"github.com/dkeye/novacast/internal/broker"
	"github.com/dkeye/novacast/internal/config"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStream struct {
	tracks []webrtc.TrackLocal
}

func (s testStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func startBroker(t *testing.T) (wsURL string, reg *broker.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg = broker.NewRegistry()
	ctl := signal.NewSignalWSController(reg, broker.SimplePolicy{}, nil, signal.Options{})
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	srv := httptest.NewServer(httpadapter.SetupRouter(ctx, cfg, reg, ctl))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws", reg
}

func newPeer(t *testing.T, wsURL string, opts Options) *Peer {
	t.Helper()
	f, err := rtc.NewFactory(rtc.Config{})
	require.NoError(t, err)
	opts.BrokerURL = wsURL
	opts.RTC = f
	p, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestNewRegistersIdentity(t *testing.T) {
	wsURL, reg := startBroker(t)
	p := newPeer(t, wsURL, Options{})

	require.NotEmpty(t, p.ID())
	require.Eventually(t, func() bool {
		_, ok := reg.Lookup(p.ID())
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestNewRejectsTakenIdentity(t *testing.T) {
	wsURL, _ := startBroker(t)
	first := newPeer(t, wsURL, Options{ID: "fixed-id", Token: "a"})
	assert.Equal(t, domain.Identity("fixed-id"), first.ID())

	f, err := rtc.NewFactory(rtc.Config{})
	require.NoError(t, err)
	_, err = New(context.Background(), Options{BrokerURL: wsURL, ID: "fixed-id", Token: "b", RTC: f})
	assert.ErrorIs(t, err, ErrIdentityTaken)
}

func TestConnectSendsData(t *testing.T) {
	wsURL, _ := startBroker(t)
	host := newPeer(t, wsURL, Options{})
	client := newPeer(t, wsURL, Options{})

	got := make(chan domain.RequestStream, 1)
	inbound := make(chan *DataConn, 1)
	host.OnConnection(func(dc *DataConn) {
		inbound <- dc
		dc.OnData(func(raw json.RawMessage) {
			var msg domain.RequestStream
			if json.Unmarshal(raw, &msg) == nil {
				got <- msg
			}
		})
	})

	dc, err := client.Connect(host.ID())
	require.NoError(t, err)
	dc.OnOpen(func() {
		_ = dc.Send(domain.NewRequestStream(client.ID()))
	})

	select {
	case msg := <-got:
		assert.Equal(t, domain.KindRequestStream, msg.Kind)
		assert.Equal(t, client.ID(), msg.RequesterIdentity)
	case <-time.After(3 * time.Second):
		t.Fatal("request-stream not delivered")
	}

	in := <-inbound
	assert.Equal(t, client.ID(), in.Remote())
	assert.True(t, in.IsOpen())
	assert.True(t, dc.IsOpen())

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	select {
	case <-opened:
	default:
		t.Fatal("OnOpen after open must fire immediately")
	}

	closed := make(chan struct{})
	in.OnClose(func() { close(closed) })
	dc.Close()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("close not relayed")
	}
	assert.ErrorIs(t, dc.Send("late"), ErrChannelClosed)
}

func TestConnectUnavailablePeer(t *testing.T) {
	wsURL, _ := startBroker(t)
	client := newPeer(t, wsURL, Options{})

	peerErr := make(chan error, 1)
	client.OnError(func(err error) { peerErr <- err })

	dc, err := client.Connect("nobody-home")
	require.NoError(t, err)

	chanErr := make(chan error, 1)
	dc.OnError(func(err error) { chanErr <- err })

	select {
	case err := <-chanErr:
		assert.ErrorIs(t, err, ErrPeerUnavailable)
	case <-time.After(3 * time.Second):
		t.Fatal("channel error not reported")
	}
	select {
	case err := <-peerErr:
		assert.ErrorIs(t, err, ErrPeerUnavailable)
	case <-time.After(3 * time.Second):
		t.Fatal("peer error not reported")
	}
	assert.False(t, dc.IsOpen())
}

func TestPing(t *testing.T) {
	wsURL, _ := startBroker(t)
	p := newPeer(t, wsURL, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rtt, err := p.Ping(ctx)
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	p.Close()
	_, err = p.Ping(ctx)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestCallIsAnswered(t *testing.T) {
	wsURL, _ := startBroker(t)
	host := newPeer(t, wsURL, Options{})
	client := newPeer(t, wsURL, Options{})

	answered := make(chan error, 1)
	client.OnCall(func(mc *MediaConn) {
		assert.Equal(t, host.ID(), mc.Remote())
		answered <- mc.Answer(nil)
	})

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "novacast")
	require.NoError(t, err)
	mc, err := host.Call(client.ID(), testStream{tracks: []webrtc.TrackLocal{track}})
	require.NoError(t, err)
	assert.Equal(t, client.ID(), mc.Remote())

	select {
	case err := <-answered:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("call not answered")
	}

	assert.Eventually(t, func() bool {
		return mc.State() != webrtc.PeerConnectionStateNew
	}, 10*time.Second, 50*time.Millisecond)
}

func TestResolveJoinCode(t *testing.T) {
	wsURL, _ := startBroker(t)
	p := newPeer(t, wsURL, Options{ID: "abcdef-1234", Token: "t"})

	id, err := ResolveJoinCode(context.Background(), nil, wsURL, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, p.ID(), id)

	_, err = ResolveJoinCode(context.Background(), nil, wsURL, "ZZZZZZ")
	assert.ErrorIs(t, err, ErrUnknownJoinCode)
}
