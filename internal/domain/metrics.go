package domain

import "fmt"

// StreamMetrics is what the stats view renders.
type StreamMetrics struct {
	LatencyMs     float64 `json:"latency"`
	BandwidthKbps float64 `json:"bandwidth"`
	FPS           float64 `json:"fps"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
}

// StreamTotals are the raw counters since the endpoint started.
type StreamTotals struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Frames  uint64 `json:"frames"`
}

func (m StreamMetrics) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}
