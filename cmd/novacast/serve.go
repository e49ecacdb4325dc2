package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/novacast/internal/adapters/http"
	"github.com/dkeye/novacast/internal/adapters/rtc"
	"github.com/dkeye/novacast/internal/assistant"
	"github.com/dkeye/novacast/internal/app/orch"
	"github.com/dkeye/novacast/internal/config"
	"github.com/dkeye/novacast/internal/peer"
)

const shutdownTimeout = 5 * time.Second

// serveHTTP runs srv until ctx ends, then shuts it down gracefully.
func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server, name string) {
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg(name + " started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down " + name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg(name + " forced to shutdown")
		}
		return nil
	})
}

// newEndpoint registers with the broker and wires an orchestrator around the peer.
func newEndpoint(ctx context.Context, cfg *config.Config) (*orch.Orchestrator, error) {
	factory, err := rtc.NewFactory(rtc.Config{
		ICEServers:   cfg.ICEServers,
		MulticastDNS: cfg.MulticastDNS,
	})
	if err != nil {
		return nil, err
	}
	model, err := assistant.NewClient(ctx, assistant.Config{
		APIKey:  cfg.Assistant.APIKey,
		Model:   cfg.Assistant.Model,
		BaseURL: cfg.Assistant.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	p, err := peer.New(ctx, peer.Options{
		BrokerURL:   cfg.Broker.URL,
		RTC:         factory,
		OpenTimeout: cfg.Broker.OpenTimeout,
	})
	if err != nil {
		return nil, err
	}
	return orch.New(p, orch.Options{
		Render: orch.RenderOptions{
			RecordPath:  cfg.Render.RecordPath,
			ForwardAddr: cfg.Render.ForwardAddr,
		},
		StatsPeriod: cfg.StatsPeriod,
		Panel:       assistant.NewPanel(model),
	}), nil
}

// runEndpoint serves the console and metrics sampler until ctx ends.
func runEndpoint(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, extra ...func(context.Context) error) error {
	defer o.Close()

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, &http.Server{
		Addr:    cfg.ConsoleAddr,
		Handler: router.SetupConsoleRouter(cfg, o),
	}, "console")
	g.Go(func() error {
		o.RunStats(gctx)
		return nil
	})
	g.Go(func() error { return o.WatchBroker(gctx) })
	for _, fn := range extra {
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}
