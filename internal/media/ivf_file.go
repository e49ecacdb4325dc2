package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"
)

// IVFFile replays a recorded IVF capture at its native frame rate.
type IVFFile struct {
	Path string
	Loop bool
}

func (s IVFFile) Acquire(_ context.Context) (Stream, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureDenied, err)
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCaptureDenied, s.Path, err)
	}
	mime, ok := mimeForFourCC(header.FourCC)
	if !ok {
		_ = f.Close()
		return nil, fmt.Errorf("%w: unsupported fourcc %q", ErrCaptureDenied, header.FourCC)
	}
	track, err := webrtc.NewTrackLocalStaticSample(Capability(mime), "video", "novacast")
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrCaptureDenied, err)
	}

	frameDuration := frameInterval(header)

	// replay outlives the acquire call
	ctx, cancel := context.WithCancel(context.Background())
	st := &fileStream{
		file:   f,
		reader: reader,
		track:  track,
		loop:   s.Loop,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go st.run(ctx, frameDuration)
	log.Info().
		Str("module", "media.ivf").
		Str("path", s.Path).
		Str("codec", mime).
		Uint16("width", header.Width).
		Uint16("height", header.Height).
		Dur("frame", frameDuration).
		Msg("replaying capture")
	return st, nil
}

const defaultFrameInterval = 33 * time.Millisecond

// frameInterval is one timebase tick, or ~30fps when the header has none.
func frameInterval(h *ivfreader.IVFFileHeader) time.Duration {
	if h.TimebaseDenominator == 0 {
		return defaultFrameInterval
	}
	d := time.Duration(float64(time.Second) * float64(h.TimebaseNumerator) / float64(h.TimebaseDenominator))
	if d <= 0 {
		return defaultFrameInterval
	}
	return d
}

type fileStream struct {
	file   *os.File
	reader *ivfreader.IVFReader
	track  *webrtc.TrackLocalStaticSample
	loop   bool
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *fileStream) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{s.track} }

func (s *fileStream) Close() error {
	s.cancel()
	<-s.done
	return s.file.Close()
}

func (s *fileStream) run(ctx context.Context, frameDuration time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		frame, _, err := s.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if !s.loop {
				log.Info().Str("module", "media.ivf").Msg("capture replay finished")
				return
			}
			if err := s.rewind(); err != nil {
				log.Error().Err(err).Str("module", "media.ivf").Msg("rewind failed")
				return
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("module", "media.ivf").Msg("parse frame")
			return
		}
		if err := s.track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn().Err(err).Str("module", "media.ivf").Msg("write sample")
		}
	}
}

func (s *fileStream) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	return nil
}
