package media

import (
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/novacast/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

// Collector turns received packets into stream metrics.
type Collector struct {
	mu      sync.Mutex
	now     func() time.Time
	packets uint64
	bytes   uint64
	frames  uint64
	width   int
	height  int
	latency time.Duration

	lastAt     time.Time
	lastBytes  uint64
	lastFrames uint64
	bandwidth  float64
	fps        float64
}

func NewCollector() *Collector {
	c := &Collector{now: time.Now}
	c.lastAt = c.now()
	return c
}

// Sink returns the sink for one track of the given mime type.
func (c *Collector) Sink(mime string) Sink {
	return &collectorSink{c: c, video: Kind(mime) == "video", vp8: strings.EqualFold(mime, webrtc.MimeTypeVP8)}
}

func (c *Collector) SetLatency(d time.Duration) {
	c.mu.Lock()
	c.latency = d
	c.mu.Unlock()
}

// Totals returns the raw counters.
func (c *Collector) Totals() domain.StreamTotals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.StreamTotals{Packets: c.packets, Bytes: c.bytes, Frames: c.frames}
}

// Sample computes rates since the previous Sample call.
func (c *Collector) Sample() domain.StreamMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elapsed := now.Sub(c.lastAt).Seconds(); elapsed > 0 {
		c.bandwidth = float64(c.bytes-c.lastBytes) * 8 / 1000 / elapsed
		c.fps = float64(c.frames-c.lastFrames) / elapsed
		c.lastAt, c.lastBytes, c.lastFrames = now, c.bytes, c.frames
	}
	return c.metricsLocked()
}

// Metrics returns the last sampled rates without sampling.
func (c *Collector) Metrics() domain.StreamMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metricsLocked()
}

func (c *Collector) metricsLocked() domain.StreamMetrics {
	return domain.StreamMetrics{
		LatencyMs:     float64(c.latency.Microseconds()) / 1000,
		BandwidthKbps: c.bandwidth,
		FPS:           c.fps,
		Width:         c.width,
		Height:        c.height,
	}
}

type collectorSink struct {
	c     *Collector
	video bool
	vp8   bool
	depkt codecs.VP8Packet
}

func (s *collectorSink) WriteRTP(pkt *rtp.Packet) error {
	var w, h int
	if s.vp8 {
		w, h = s.vp8KeyframeSize(pkt.Payload)
	}

	c := s.c
	c.mu.Lock()
	c.packets++
	c.bytes += uint64(pkt.MarshalSize())
	if s.video && pkt.Marker {
		c.frames++
	}
	if w > 0 && h > 0 {
		c.width, c.height = w, h
	}
	c.mu.Unlock()
	return nil
}

func (s *collectorSink) Close() error { return nil }

// vp8KeyframeSize reads the frame size from the first partition of a keyframe.
func (s *collectorSink) vp8KeyframeSize(payload []byte) (int, int) {
	frame, err := s.depkt.Unmarshal(payload)
	if err != nil || s.depkt.S != 1 || s.depkt.PID != 0 {
		return 0, 0
	}
	if len(frame) < 10 || frame[0]&0x01 != 0 {
		return 0, 0
	}
	if frame[3] != 0x9d || frame[4] != 0x01 || frame[5] != 0x2a {
		return 0, 0
	}
	w := int(binary.LittleEndian.Uint16(frame[6:8]) & 0x3fff)
	h := int(binary.LittleEndian.Uint16(frame[8:10]) & 0x3fff)
	return w, h
}
