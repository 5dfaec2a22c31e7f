package sensor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/banshee-data/sparse-speed/internal/monitoring"
	"github.com/banshee-data/sparse-speed/internal/serialmux"
	"github.com/banshee-data/sparse-speed/internal/sparse"
	"github.com/banshee-data/sparse-speed/internal/timeutil"
)

// UART line protocol. The host sends the CFG lines from Config.Commands
// followed by SETUP, then START and finally STOP. The sensor answers with
// prefixed lines; anything else is ignored so the debug console can share
// the port.
const (
	uartSetup = "SETUP"
	uartStart = "START"
	uartStop  = "STOP"

	uartSession = "S "
	uartFrame   = "F "
	uartError   = "E "
	uartOK      = "OK"
)

// UARTClient drives a sensor over a multiplexed serial port. The caller runs
// the mux's Monitor loop.
type UARTClient struct {
	mux   serialmux.SerialMuxInterface
	clock timeutil.Clock
	// ReplyTimeout bounds setup and start acknowledgements.
	ReplyTimeout time.Duration

	subID string
	lines chan string

	session *SessionInfo
	seq     sequenceTracker
}

// NewUARTClient returns a client reading from mux. A nil clock uses the
// wall clock.
func NewUARTClient(mux serialmux.SerialMuxInterface, clock timeutil.Clock) *UARTClient {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &UARTClient{mux: mux, clock: clock, ReplyTimeout: DefaultReplyTimeout}
}

func (c *UARTClient) subscribe() {
	if c.lines == nil {
		c.subID, c.lines = c.mux.Subscribe()
	}
}

// SetupSession configures the sensor and waits for its session line.
func (c *UARTClient) SetupSession(ctx context.Context, cfg Config) (SessionInfo, error) {
	if err := cfg.Validate(); err != nil {
		return SessionInfo{}, fmt.Errorf("invalid sensor config: %w", err)
	}
	c.subscribe()
	for _, cmd := range append(cfg.Commands(), uartSetup) {
		if err := c.mux.SendCommand(cmd); err != nil {
			return SessionInfo{}, fmt.Errorf("send %q: %w", cmd, err)
		}
	}

	line, err := c.await(ctx, uartSession)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("setup: %w", err)
	}
	var info SessionInfo
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, uartSession)), &info); err != nil {
		return SessionInfo{}, fmt.Errorf("decode session line: %w", err)
	}
	c.session = &info
	monitoring.Logf("sensor session: %.1f Hz subsweep rate, %d samples per frame", info.SubsweepRate, info.DataLength)
	return info, nil
}

// StartStreaming asks the sensor to start sending frames.
func (c *UARTClient) StartStreaming(ctx context.Context) error {
	if c.session == nil {
		return ErrSessionNotReady
	}
	if err := c.mux.SendCommand(uartStart); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	if _, err := c.await(ctx, uartOK); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// await waits for a line with prefix, failing on an error line or timeout.
// Frame lines seen meanwhile are discarded.
func (c *UARTClient) await(ctx context.Context, prefix string) (string, error) {
	timeout := c.clock.After(c.ReplyTimeout)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout:
			return "", fmt.Errorf("no %q reply within %v", strings.TrimSpace(prefix), c.ReplyTimeout)
		case line, ok := <-c.lines:
			if !ok {
				return "", io.ErrUnexpectedEOF
			}
			switch {
			case strings.HasPrefix(line, uartError):
				return "", errors.New("sensor error: " + strings.TrimPrefix(line, uartError))
			case strings.HasPrefix(line, prefix):
				return line, nil
			}
		}
	}
}

// Next returns the next frame line decoded into a sweep.
func (c *UARTClient) Next(ctx context.Context) (FrameInfo, *sparse.Sweep, error) {
	if c.session == nil {
		return FrameInfo{}, nil, ErrSessionNotReady
	}
	for {
		select {
		case <-ctx.Done():
			return FrameInfo{}, nil, ctx.Err()
		case line, ok := <-c.lines:
			if !ok {
				return FrameInfo{}, nil, io.EOF
			}
			switch {
			case strings.HasPrefix(line, uartError):
				return FrameInfo{}, nil, errors.New("sensor error: " + strings.TrimPrefix(line, uartError))
			case !strings.HasPrefix(line, uartFrame):
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, uartFrame))
			if err != nil {
				return FrameInfo{}, nil, fmt.Errorf("frame line: %v: %w", err, ErrBadFrame)
			}
			info, sweep, err := DecodeFrame(raw)
			if err != nil {
				return FrameInfo{}, nil, err
			}
			info.Received = c.clock.Now()
			c.seq.observe(&info)
			return info, sweep, nil
		}
	}
}

// Disconnect stops streaming and releases the subscription. The port itself
// belongs to the mux owner.
func (c *UARTClient) Disconnect() error {
	var err error
	if c.session != nil {
		err = c.mux.SendCommand(uartStop)
		c.session = nil
	}
	if c.lines != nil {
		c.mux.Unsubscribe(c.subID)
		c.lines = nil
	}
	return err
}

// EncodeFrameLine renders a frame as a UART line without the newline.
func EncodeFrameLine(frame []byte) string {
	return uartFrame + base64.StdEncoding.EncodeToString(frame)
}

// EncodeSessionLine renders session info as a UART line.
func EncodeSessionLine(info SessionInfo) (string, error) {
	b, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	return uartSession + string(b), nil
}
