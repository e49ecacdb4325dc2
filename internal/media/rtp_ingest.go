package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const mtu = 1500

// RTPIngest takes the captured display as RTP on a local UDP port, e.g.
//
//	ffmpeg -f x11grab -i :0 -c:v libvpx -deadline realtime -f rtp rtp://127.0.0.1:5004
type RTPIngest struct {
	Addr     string
	MimeType string
}

func (s RTPIngest) Acquire(ctx context.Context) (Stream, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", ErrCaptureDenied, s.Addr, err)
	}
	capability := Capability(s.MimeType)
	track, err := webrtc.NewTrackLocalStaticRTP(capability, Kind(capability.MimeType), "novacast")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrCaptureDenied, err)
	}

	st := &ingestStream{conn: conn, track: track, done: make(chan struct{})}
	go st.loop()
	log.Info().Str("module", "media.ingest").Str("addr", conn.LocalAddr().String()).Str("codec", capability.MimeType).Msg("capture ingest listening")
	return st, nil
}

type ingestStream struct {
	conn  net.PacketConn
	track *webrtc.TrackLocalStaticRTP
	once  sync.Once
	done  chan struct{}
}

func (s *ingestStream) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{s.track} }

// Addr is the bound UDP address; useful with port 0.
func (s *ingestStream) Addr() net.Addr { return s.conn.LocalAddr() }

func (s *ingestStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
		<-s.done
	})
	return err
}

func (s *ingestStream) loop() {
	defer close(s.done)
	buf := make([]byte, mtu)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Str("module", "media.ingest").Msg("read error, stopping")
			}
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Debug().Err(err).Str("module", "media.ingest").Msg("dropping non-RTP datagram")
			continue
		}
		if err := s.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn().Err(err).Str("module", "media.ingest").Msg("write RTP")
		}
	}
}
