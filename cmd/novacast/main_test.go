package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/novacast/internal/config"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/dkeye/novacast/internal/media"
)

func TestCaptureSource(t *testing.T) {
	cfg := &config.Config{Capture: config.CaptureConfig{Kind: "rtp", Addr: "127.0.0.1:0", MimeType: "video/VP8"}}
	src, err := captureSource(cfg)
	require.NoError(t, err)
	assert.IsType(t, media.RTPIngest{}, src)

	cfg.Capture = config.CaptureConfig{Kind: "ivf", Path: "demo.ivf", Loop: true}
	src, err = captureSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, media.IVFFile{Path: "demo.ivf", Loop: true}, src)

	cfg.Capture.Kind = "screen"
	_, err = captureSource(cfg)
	require.Error(t, err)
}

func TestConsolePort(t *testing.T) {
	assert.Equal(t, 8090, consolePort(":8090"))
	assert.Equal(t, 9000, consolePort("127.0.0.1:9000"))
	assert.Equal(t, 0, consolePort("bogus"))
}

func TestResolveHostPassesIdentityThrough(t *testing.T) {
	id := domain.NewIdentity()
	got, err := resolveHost(context.Background(), &config.Config{}, string(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestResolveHostAsksBrokerForJoinCode(t *testing.T) {
	id := domain.NewIdentity()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/resolve/"+string(id.JoinCode()) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"` + string(id) + `"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{Broker: config.BrokerConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"}}
	got, err := resolveHost(context.Background(), cfg, strings.ToLower(string(id.JoinCode())))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
