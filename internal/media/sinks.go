package media

import (
	"fmt"
	"net"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

// NewIVFRecorder writes a received video track to an IVF file.
func NewIVFRecorder(path, mime string) (Sink, error) {
	w, err := ivfwriter.New(path, ivfwriter.WithCodec(mime))
	if err != nil {
		return nil, fmt.Errorf("ivf recorder %s: %w", path, err)
	}
	return w, nil
}

// UDPForwarder re-sends every packet to a local player, e.g. ffplay with an SDP file.
type UDPForwarder struct {
	conn *net.UDPConn
	buf  []byte
}

func NewUDPForwarder(addr string) (*UDPForwarder, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &UDPForwarder{conn: conn, buf: make([]byte, mtu)}, nil
}

func (f *UDPForwarder) WriteRTP(pkt *rtp.Packet) error {
	n, err := pkt.MarshalTo(f.buf)
	if err != nil {
		return err
	}
	_, err = f.conn.Write(f.buf[:n])
	return err
}

func (f *UDPForwarder) Close() error {
	return f.conn.Close()
}
