package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/sparse-speed/internal/monitoring"
	"github.com/banshee-data/sparse-speed/internal/sparse"
	"github.com/banshee-data/sparse-speed/internal/timeutil"
)

// MaxDatagramSize fits a 512x65 frame with room to spare.
const MaxDatagramSize = 1 << 16

// pollInterval is the read deadline used so blocked reads notice ctx.
const pollInterval = 100 * time.Millisecond

// SocketClient talks to a networked sensor over UDP. Control requests and
// replies are JSON datagrams; frames are binary datagrams from the same peer.
type SocketClient struct {
	addr  string
	clock timeutil.Clock
	// ReplyTimeout bounds how long a control request waits for its answer.
	ReplyTimeout time.Duration

	conn    *net.UDPConn
	buf     []byte
	session *SessionInfo
	seq     sequenceTracker
}

// NewSocketClient returns a client for the sensor at addr (host:port).
func NewSocketClient(addr string, clock timeutil.Clock) *SocketClient {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SocketClient{
		addr:         addr,
		clock:        clock,
		ReplyTimeout: DefaultReplyTimeout,
		buf:          make([]byte, MaxDatagramSize),
	}
}

func (c *SocketClient) dial() error {
	if c.conn != nil {
		return nil
	}
	raddr, err := net.ResolveUDPAddr("udp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve sensor address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("failed to dial sensor: %w", err)
	}
	c.conn = conn
	return nil
}

// read waits for one datagram, polling ctx every pollInterval. A zero
// deadline waits forever.
func (c *SocketClient) read(ctx context.Context, deadline time.Time) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !deadline.IsZero() && !c.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("no reply from %s within %v", c.addr, c.ReplyTimeout)
		}
		c.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := c.conn.Read(c.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, fmt.Errorf("sensor read: %w", err)
		}
		return c.buf[:n], nil
	}
}

// request sends a control message and returns the first JSON reply. Frames
// still in flight are skipped.
func (c *SocketClient) request(ctx context.Context, req controlRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(b); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Cmd, err)
	}
	deadline := c.clock.Now().Add(c.ReplyTimeout)
	for {
		payload, err := c.read(ctx, deadline)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.Cmd, err)
		}
		if isControlPayload(payload) {
			return payload, nil
		}
	}
}

// SetupSession sends the configuration and returns the sensor's session.
func (c *SocketClient) SetupSession(ctx context.Context, cfg Config) (SessionInfo, error) {
	if err := cfg.Validate(); err != nil {
		return SessionInfo{}, fmt.Errorf("invalid sensor config: %w", err)
	}
	if err := c.dial(); err != nil {
		return SessionInfo{}, err
	}
	payload, err := c.request(ctx, controlRequest{Cmd: CmdSetup, Config: &cfg})
	if err != nil {
		return SessionInfo{}, err
	}
	info, err := decodeSessionReply(payload)
	if err != nil {
		return SessionInfo{}, err
	}
	c.session = &info
	monitoring.Logf("sensor session via %s: %.1f Hz subsweep rate, %d samples per frame", c.addr, info.SubsweepRate, info.DataLength)
	return info, nil
}

// StartStreaming asks the sensor to start sending frames.
func (c *SocketClient) StartStreaming(ctx context.Context) error {
	if c.session == nil {
		return ErrSessionNotReady
	}
	payload, err := c.request(ctx, controlRequest{Cmd: CmdStart})
	if err != nil {
		return err
	}
	var reply controlReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return fmt.Errorf("decode start reply: %w", err)
	}
	return reply.err(CmdStart)
}

// Next blocks until a frame datagram arrives. Stray control datagrams are
// ignored.
func (c *SocketClient) Next(ctx context.Context) (FrameInfo, *sparse.Sweep, error) {
	if c.session == nil {
		return FrameInfo{}, nil, ErrSessionNotReady
	}
	for {
		payload, err := c.read(ctx, time.Time{})
		if err != nil {
			return FrameInfo{}, nil, err
		}
		if isControlPayload(payload) {
			continue
		}
		info, sweep, err := DecodeFrame(payload)
		if err != nil {
			return FrameInfo{}, nil, err
		}
		info.Received = c.clock.Now()
		c.seq.observe(&info)
		return info, sweep, nil
	}
}

// Disconnect sends stop on a best-effort basis and closes the socket.
func (c *SocketClient) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	if c.session != nil {
		if b, err := json.Marshal(controlRequest{Cmd: CmdStop}); err == nil {
			if _, err := c.conn.Write(b); err != nil {
				monitoring.Logf("sensor stop: %v", err)
			}
		}
		c.session = nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
