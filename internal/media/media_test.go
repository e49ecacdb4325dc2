package media

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/novacast/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanReader struct {
	ch chan *rtp.Packet
}

func (r *chanReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-r.ch
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

type recordSink struct {
	mu     sync.Mutex
	got    []uint16
	err    error
	closed bool
}

func (s *recordSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, pkt.SequenceNumber)
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordSink) seqs() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.got...)
}

func (s *recordSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq}, Payload: []byte{0x00}}
}

func TestRelayFansOutAndDropsFailingSinks(t *testing.T) {
	src := &chanReader{ch: make(chan *rtp.Packet)}
	good := &recordSink{}
	bad := &recordSink{err: errors.New("disk full")}
	muted := &recordSink{}

	m := NewRelayManager()
	relay := m.StartRelay(context.Background(), "video", webrtc.MimeTypeVP8, src, map[string]Sink{
		"good":  good,
		"bad":   bad,
		"muted": muted,
	})
	require.Equal(t, 1, m.SetSinkMuted("muted", true))
	assert.Equal(t, 0, m.SetSinkMuted("absent", true))

	src.ch <- packet(1)
	src.ch <- packet(2)

	require.Eventually(t, func() bool { return len(good.seqs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint16{1, 2}, good.seqs())
	assert.Empty(t, muted.seqs())
	require.Eventually(t, bad.isClosed, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"good", "muted"}, relay.SinkNames())

	require.True(t, relay.SetMuted("muted", false))
	src.ch <- packet(3)
	require.Eventually(t, func() bool { return len(muted.seqs()) == 1 }, time.Second, 5*time.Millisecond)

	close(src.ch)
	select {
	case <-relay.Done():
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	assert.True(t, good.isClosed())
	assert.True(t, muted.isClosed())
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRelayRemoveSink(t *testing.T) {
	src := &chanReader{ch: make(chan *rtp.Packet)}
	a := &recordSink{}
	m := NewRelayManager()
	m.StartRelay(context.Background(), "t", webrtc.MimeTypeVP8, src, map[string]Sink{"a": a})

	assert.Equal(t, 1, m.RemoveSink("a"))
	assert.Equal(t, 0, m.RemoveSink("a"))
	assert.Equal(t, 0, m.SetSinkMuted("a", false))
	src.ch <- packet(1)
	require.Eventually(t, a.isClosed, time.Second, 5*time.Millisecond)
	assert.Empty(t, a.seqs())
	close(src.ch)
}

func TestRelayManagerTracksAndAddSink(t *testing.T) {
	video := &chanReader{ch: make(chan *rtp.Packet)}
	audio := &chanReader{ch: make(chan *rtp.Packet)}
	m := NewRelayManager()
	m.StartRelay(context.Background(), "call/video", webrtc.MimeTypeVP8, video, map[string]Sink{"stats": &recordSink{}})
	m.StartRelay(context.Background(), "call/audio", webrtc.MimeTypeOpus, audio, map[string]Sink{"stats": &recordSink{}})

	late := &recordSink{}
	assert.True(t, m.AddSink("call/video", "record", late))
	assert.False(t, m.AddSink("call/video", "record", &recordSink{}))
	assert.False(t, m.AddSink("missing", "record", &recordSink{}))

	tracks := m.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, domain.TrackInfo{Key: "call/audio", Mime: webrtc.MimeTypeOpus, Sinks: []string{"stats"}}, tracks[0])
	assert.Equal(t, domain.TrackInfo{Key: "call/video", Mime: webrtc.MimeTypeVP8, Sinks: []string{"record", "stats"}}, tracks[1])

	video.ch <- packet(9)
	require.Eventually(t, func() bool { return len(late.seqs()) == 1 }, time.Second, 5*time.Millisecond)

	m.StopPrefix("call/")
	assert.Equal(t, 0, m.Len())
	close(video.ch)
	close(audio.ch)
}

func vp8Keyframe(width, height uint16) []byte {
	// payload descriptor: S=1, PID=0
	p := []byte{0x10}
	frame := []byte{0x50, 0x00, 0x00, 0x9d, 0x01, 0x2a, 0, 0, 0, 0}
	binary.LittleEndian.PutUint16(frame[6:8], width)
	binary.LittleEndian.PutUint16(frame[8:10], height)
	return append(p, frame...)
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	base := time.Unix(1000, 0)
	c.now = func() time.Time { return base }
	c.lastAt = base

	video := c.Sink(webrtc.MimeTypeVP8)
	audio := c.Sink(webrtc.MimeTypeOpus)

	key := &rtp.Packet{Header: rtp.Header{Version: 2, Marker: true}, Payload: vp8Keyframe(1280, 720)}
	require.NoError(t, video.WriteRTP(key))
	for i := 0; i < 9; i++ {
		require.NoError(t, video.WriteRTP(&rtp.Packet{Header: rtp.Header{Version: 2, Marker: true}, Payload: []byte{0x10, 0x01}}))
	}
	require.NoError(t, audio.WriteRTP(&rtp.Packet{Header: rtp.Header{Version: 2, Marker: true}, Payload: make([]byte, 100)}))

	totals := c.Totals()
	assert.Equal(t, uint64(11), totals.Packets)
	assert.Equal(t, uint64(10), totals.Frames)
	assert.Greater(t, totals.Bytes, uint64(0))
	bytes := totals.Bytes

	c.SetLatency(42 * time.Millisecond)
	c.now = func() time.Time { return base.Add(time.Second) }
	m := c.Sample()
	assert.Equal(t, 1280, m.Width)
	assert.Equal(t, 720, m.Height)
	assert.InDelta(t, 10.0, m.FPS, 0.001)
	assert.InDelta(t, float64(bytes)*8/1000, m.BandwidthKbps, 0.001)
	assert.InDelta(t, 42.0, m.LatencyMs, 0.001)
	assert.Equal(t, m, c.Metrics())

	c.now = func() time.Time { return base.Add(2 * time.Second) }
	m = c.Sample()
	assert.Zero(t, m.FPS)
	assert.Equal(t, "1280x720", m.Resolution())
}

func TestRTPIngest(t *testing.T) {
	_, err := RTPIngest{Addr: "256.0.0.1:99999"}.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrCaptureDenied)

	st, err := RTPIngest{Addr: "127.0.0.1:0", MimeType: "video/VP8"}.Acquire(context.Background())
	require.NoError(t, err)
	tracks := st.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, "video", tracks[0].Kind().String())
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
}

func writeIVF(t *testing.T, path string, frames int) {
	t.Helper()
	writeIVFTimebase(t, path, frames, 30, 1)
}

func writeIVFTimebase(t *testing.T, path string, frames int, den, num uint32) {
	t.Helper()
	hdr := make([]byte, 32)
	copy(hdr[0:4], "DKIF")
	binary.LittleEndian.PutUint16(hdr[4:6], 0)
	binary.LittleEndian.PutUint16(hdr[6:8], 32)
	copy(hdr[8:12], "VP80")
	binary.LittleEndian.PutUint16(hdr[12:14], 640)
	binary.LittleEndian.PutUint16(hdr[14:16], 480)
	binary.LittleEndian.PutUint32(hdr[16:20], den)
	binary.LittleEndian.PutUint32(hdr[20:24], num)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(frames))

	out := hdr
	for i := 0; i < frames; i++ {
		payload := []byte{0x50, 0x00, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0, 0x01}
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		out = append(out, fh...)
		out = append(out, payload...)
	}
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func TestIVFFile(t *testing.T) {
	_, err := IVFFile{Path: filepath.Join(t.TempDir(), "missing.ivf")}.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrCaptureDenied)

	bad := filepath.Join(t.TempDir(), "bad.ivf")
	require.NoError(t, os.WriteFile(bad, []byte("not an ivf file at all, too short?"), 0o644))
	_, err = IVFFile{Path: bad}.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrCaptureDenied)

	path := filepath.Join(t.TempDir(), "screen.ivf")
	writeIVF(t, path, 3)
	st, err := IVFFile{Path: path, Loop: true}.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Tracks(), 1)

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, st.Close())
}

func TestFrameInterval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, frameInterval(&ivfreader.IVFFileHeader{TimebaseDenominator: 2, TimebaseNumerator: 1}))
	assert.Equal(t, defaultFrameInterval, frameInterval(&ivfreader.IVFFileHeader{}))
	assert.Equal(t, defaultFrameInterval, frameInterval(&ivfreader.IVFFileHeader{TimebaseDenominator: 30}))
}

func TestIVFFileZeroTimebaseNumerator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zero.ivf")
	writeIVFTimebase(t, path, 2, 30, 0)
	st, err := IVFFile{Path: path, Loop: true}.Acquire(context.Background())
	require.NoError(t, err)

	// replay must keep running on the default interval
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, st.Close())
}

func TestCapability(t *testing.T) {
	assert.Equal(t, uint32(48000), Capability("audio/opus").ClockRate)
	assert.Equal(t, webrtc.MimeTypeH264, Capability("video/h264").MimeType)
	assert.Equal(t, webrtc.MimeTypeVP8, Capability("").MimeType)
	assert.Equal(t, "audio", Kind("audio/opus"))
	assert.Equal(t, "video", Kind("video/VP9"))
}

func TestUDPForwarder(t *testing.T) {
	f, err := NewUDPForwarder("127.0.0.1:9")
	require.NoError(t, err)
	require.NoError(t, f.WriteRTP(packet(7)))
	require.NoError(t, f.Close())

	_, err = NewUDPForwarder("not-an-addr")
	assert.Error(t, err)
}
