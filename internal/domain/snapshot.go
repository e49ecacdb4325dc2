package domain

// Snapshot is the externally visible state of one endpoint.
type Snapshot struct {
	Role     Role          `json:"role"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	ID       Identity      `json:"id"`
	JoinCode JoinCode      `json:"join_code"`
	Sessions int           `json:"sessions"`
	Tracks   int           `json:"tracks"`
	Metrics  StreamMetrics `json:"metrics"`
	Totals   StreamTotals  `json:"totals"`
}

// TrackInfo describes one received track and the sinks it feeds.
type TrackInfo struct {
	Key   string   `json:"key"`
	Mime  string   `json:"mime"`
	Sinks []string `json:"sinks"`
}
