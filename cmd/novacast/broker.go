package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/novacast/internal/adapters/http"
	"github.com/dkeye/novacast/internal/adapters/signal"
	"github.com/dkeye/novacast/internal/broker"
	"github.com/dkeye/novacast/internal/config"
)

func newBrokerCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the identity and signaling broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBroker(cmd.Context(), cfg)
		},
	}
	cmd.Flags().Int("port", 8080, "port to listen on")
	return cmd
}

func runBroker(ctx context.Context, cfg *config.Config) error {
	reg := broker.NewRegistry()
	policy := broker.SimplePolicy{Kick: cfg.Broker.KickSlow}
	limiter := broker.NewRateLimiter(cfg.Broker.RegisterLimit, cfg.Broker.RegisterInterval)
	ctl := signal.NewSignalWSController(reg, policy, limiter, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendQueue:  cfg.Broker.SendQueue,
	})

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router.SetupRouter(gctx, cfg, reg, ctl),
	}, "NovaCast broker")

	g.Go(func() error {
		interval := cfg.Broker.RegisterInterval
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Prune()
				log.Debug().Int("peers", reg.Len()).Msg("broker tick")
			}
		}
	})

	err := g.Wait()
	log.Info().Msg("Broker exited gracefully")
	return err
}
