package api

import (
	"github.com/yanrk/resource-monitor/monitor"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string                 `json:"type"`
	IntervalMS int                    `json:"interval_ms"`
	Cards      []monitor.GraphicsCard `json:"cards"`
	Features   map[string]bool        `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS int, cards []monitor.GraphicsCard, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		IntervalMS: intervalMS,
		Cards:      cards,
		Features:   features,
	}
}

// StatsMessage wraps a completed tick snapshot for transport.
type StatsMessage struct {
	Type string `json:"type"`
	monitor.Snapshot
}

// NewStatsMessage constructs a stats payload.
func NewStatsMessage(snapshot monitor.Snapshot) StatsMessage {
	return StatsMessage{
		Type:     "stats",
		Snapshot: snapshot,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// WatchMessage asks the server to register a pid with the sampler.
type WatchMessage struct {
	Type string `json:"type"`
	PID  uint32 `json:"pid"`
	Tree bool   `json:"tree"`
}

// UnwatchMessage asks the server to unregister a pid.
type UnwatchMessage struct {
	Type string `json:"type"`
	PID  uint32 `json:"pid"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
