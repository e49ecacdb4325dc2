package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/novacast/internal/config"
	"github.com/dkeye/novacast/internal/discovery"
	"github.com/dkeye/novacast/internal/media"
)

func newHostCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Share a captured display and wait for viewers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHost(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.String("capture", "rtp", "capture source: rtp or ivf")
	f.String("capture-addr", "127.0.0.1:5004", "UDP address the encoder sends RTP to")
	f.String("capture-file", "", "IVF file to replay")
	f.String("codec", "video/VP8", "codec of the RTP capture")
	f.Bool("loop", true, "loop IVF replay")
	f.String("console", ":8090", "console listen address")
	f.Bool("mdns", false, "announce this host over mDNS")
	return cmd
}

func captureSource(cfg *config.Config) (media.Source, error) {
	switch cfg.Capture.Kind {
	case "rtp":
		return media.RTPIngest{Addr: cfg.Capture.Addr, MimeType: cfg.Capture.MimeType}, nil
	case "ivf":
		return media.IVFFile{Path: cfg.Capture.Path, Loop: cfg.Capture.Loop}, nil
	}
	return nil, fmt.Errorf("unknown capture kind %q", cfg.Capture.Kind)
}

func runHost(ctx context.Context, cfg *config.Config) error {
	src, err := captureSource(cfg)
	if err != nil {
		return err
	}
	o, err := newEndpoint(ctx, cfg)
	if err != nil {
		return err
	}

	id := o.Peer.ID()
	if err := o.Host(ctx, src); err != nil {
		// status stays visible on the console
		log.Error().Err(err).Msg("hosting failed")
	} else {
		log.Info().Str("id", string(id)).Str("join_code", string(id.JoinCode())).Msg("share this join code with the viewer")
	}

	var extra []func(context.Context) error
	if cfg.Discovery.Enabled {
		extra = append(extra, func(ctx context.Context) error {
			err := discovery.Announce(ctx, discovery.Info{
				Instance: cfg.Discovery.Instance,
				ID:       id,
				Port:     consolePort(cfg.ConsoleAddr),
			})
			if err != nil {
				log.Error().Err(err).Msg("mDNS announce")
			}
			return nil
		})
	}
	return runEndpoint(ctx, cfg, o, extra...)
}
