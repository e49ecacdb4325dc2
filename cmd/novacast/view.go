package main

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/novacast/internal/config"
	"github.com/dkeye/novacast/internal/discovery"
	"github.com/dkeye/novacast/internal/domain"
	"github.com/dkeye/novacast/internal/peer"
)

func newViewCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <host-id|join-code>",
		Short: "Connect to a host and render its stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(cmd.Context(), cfg, args[0])
		},
	}
	f := cmd.Flags()
	f.String("record", "", "record the received video to this IVF file")
	f.String("forward", "", "forward received video RTP to this UDP address")
	f.String("console", ":8090", "console listen address")
	f.Bool("mdns", false, "resolve join codes over mDNS first")
	return cmd
}

// resolveHost turns a join code into an identity; full identities pass through.
func resolveHost(ctx context.Context, cfg *config.Config, target string) (domain.Identity, error) {
	code, ok := domain.ParseJoinCode(target)
	if !ok {
		return domain.ParseIdentity(target)
	}
	if cfg.Discovery.Enabled {
		lctx, cancel := context.WithTimeout(ctx, cfg.Discovery.Timeout)
		id, err := discovery.Lookup(lctx, code)
		cancel()
		if err == nil {
			log.Info().Str("code", string(code)).Str("id", string(id)).Msg("found host over mDNS")
			return id, nil
		}
		if !errors.Is(err, discovery.ErrNotFound) {
			log.Warn().Err(err).Msg("mDNS lookup")
		}
	}
	return peer.ResolveJoinCode(ctx, nil, cfg.Broker.URL, code)
}

func runView(ctx context.Context, cfg *config.Config, target string) error {
	hostID, err := resolveHost(ctx, cfg, target)
	if err != nil {
		return err
	}
	o, err := newEndpoint(ctx, cfg)
	if err != nil {
		return err
	}
	if err := o.View(hostID); err != nil {
		log.Error().Err(err).Msg("connect failed")
	}
	return runEndpoint(ctx, cfg, o)
}

func consolePort(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}
