package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/sparse-speed/internal/sparse"
)

// Client is one sensor link. A session is set up once, then frames are pulled
// one at a time by the acquisition loop. Implementations are not safe for
// concurrent use; Disconnect is called after the loop has returned.
type Client interface {
	SetupSession(ctx context.Context, cfg Config) (SessionInfo, error)
	StartStreaming(ctx context.Context) error
	// Next blocks until a frame arrives. It returns io.EOF when the source is
	// exhausted.
	Next(ctx context.Context) (FrameInfo, *sparse.Sweep, error)
	Disconnect() error
}

// DefaultReplyTimeout bounds how long setup waits for the sensor to answer.
const DefaultReplyTimeout = 5 * time.Second

// Control commands understood by networked sensors.
const (
	CmdSetup = "setup"
	CmdStart = "start"
	CmdStop  = "stop"
)

// controlRequest is sent by the host to a networked sensor.
type controlRequest struct {
	Cmd    string  `json:"cmd"`
	Config *Config `json:"config,omitempty"`
}

// controlReply is the sensor's answer. Replies to setup carry the session.
type controlReply struct {
	Status      string       `json:"status"`
	Message     string       `json:"message,omitempty"`
	SessionInfo *SessionInfo `json:"session_info,omitempty"`
}

func (r controlReply) err(cmd string) error {
	if r.Status == "ok" {
		return nil
	}
	if r.Message == "" {
		r.Message = r.Status
	}
	return fmt.Errorf("sensor rejected %s: %s", cmd, r.Message)
}

// isControlPayload reports whether a datagram is JSON rather than a binary
// frame. Frames always start with the "SPRS" magic.
func isControlPayload(b []byte) bool {
	return len(b) > 0 && b[0] == '{'
}

func decodeSessionReply(b []byte) (SessionInfo, error) {
	var reply controlReply
	if err := json.Unmarshal(b, &reply); err != nil {
		return SessionInfo{}, fmt.Errorf("decode session reply: %w", err)
	}
	if err := reply.err(CmdSetup); err != nil {
		return SessionInfo{}, err
	}
	if reply.SessionInfo == nil {
		return SessionInfo{}, fmt.Errorf("setup reply without session info: %w", ErrSessionNotReady)
	}
	return *reply.SessionInfo, nil
}

// EncodeSessionReply builds the datagram a networked sensor answers setup
// with. Simulators and capture tooling use it.
func EncodeSessionReply(info SessionInfo) ([]byte, error) {
	return json.Marshal(controlReply{Status: "ok", SessionInfo: &info})
}
