package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/sparse-speed/internal/monitoring"
	"github.com/banshee-data/sparse-speed/internal/sparse"
	"github.com/banshee-data/sparse-speed/internal/timeutil"
)

// PcapOptions configures offline replay of a captured sensor stream.
type PcapOptions struct {
	// Port restricts replay to UDP datagrams from or to this port. Zero
	// accepts all UDP traffic.
	Port int
	// Realtime paces frames by their capture timestamps.
	Realtime bool
	// SpeedMultiplier scales realtime pacing; 2 replays twice as fast.
	SpeedMultiplier float64
	Clock           timeutil.Clock
}

// PcapClient replays a capture of a networked sensor. The session reply
// recorded in the capture stands in for setup; frames follow in order.
type PcapClient struct {
	path string
	opts PcapOptions

	f      *os.File
	reader *pcapgo.Reader

	session *SessionInfo
	seq     sequenceTracker
	lastTS  time.Time
	packets int
	skipped int
}

// NewPcapClient returns a client replaying the capture at path.
func NewPcapClient(path string, opts PcapOptions) *PcapClient {
	if opts.SpeedMultiplier <= 0 {
		opts.SpeedMultiplier = 1
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &PcapClient{path: path, opts: opts}
}

func (c *PcapClient) open() error {
	if c.reader != nil {
		return nil
	}
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", c.path, err)
	}
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read PCAP header of %s: %w", c.path, err)
	}
	c.f, c.reader = f, r
	return nil
}

// nextPayload returns the next matching UDP payload and its capture time.
func (c *PcapClient) nextPayload() ([]byte, time.Time, error) {
	for {
		data, ci, err := c.reader.ReadPacketData()
		if err != nil {
			return nil, time.Time{}, err
		}
		c.packets++
		packet := gopacket.NewPacket(data, c.reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			c.skipped++
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if p := c.opts.Port; p != 0 && int(udp.SrcPort) != p && int(udp.DstPort) != p {
			c.skipped++
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}
		return udp.Payload, ci.Timestamp, nil
	}
}

// SetupSession scans the capture for the sensor's session reply. The
// configuration is only validated: a capture cannot be reconfigured.
func (c *PcapClient) SetupSession(ctx context.Context, cfg Config) (SessionInfo, error) {
	if err := cfg.Validate(); err != nil {
		return SessionInfo{}, fmt.Errorf("invalid sensor config: %w", err)
	}
	if err := c.open(); err != nil {
		return SessionInfo{}, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return SessionInfo{}, err
		}
		payload, _, err := c.nextPayload()
		if errors.Is(err, io.EOF) {
			return SessionInfo{}, fmt.Errorf("no session reply in %s: %w", c.path, ErrSessionNotReady)
		}
		if err != nil {
			return SessionInfo{}, fmt.Errorf("read %s: %w", c.path, err)
		}
		if !isControlPayload(payload) {
			continue
		}
		info, err := decodeSessionReply(payload)
		if err != nil {
			// Requests and start acknowledgements share the channel.
			continue
		}
		c.session = &info
		monitoring.Logf("PCAP replay of %s: %.1f Hz subsweep rate, %d samples per frame", c.path, info.SubsweepRate, info.DataLength)
		return info, nil
	}
}

// StartStreaming is a no-op beyond checking the session.
func (c *PcapClient) StartStreaming(ctx context.Context) error {
	if c.session == nil {
		return ErrSessionNotReady
	}
	return nil
}

// Next returns the next frame in the capture, io.EOF at its end.
func (c *PcapClient) Next(ctx context.Context) (FrameInfo, *sparse.Sweep, error) {
	if c.session == nil {
		return FrameInfo{}, nil, ErrSessionNotReady
	}
	for {
		if err := ctx.Err(); err != nil {
			return FrameInfo{}, nil, err
		}
		payload, ts, err := c.nextPayload()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("PCAP replay complete: %d packets, %d skipped", c.packets, c.skipped)
			return FrameInfo{}, nil, io.EOF
		}
		if err != nil {
			return FrameInfo{}, nil, fmt.Errorf("read %s: %w", c.path, err)
		}
		if isControlPayload(payload) {
			continue
		}
		info, sweep, err := DecodeFrame(payload)
		if err != nil {
			return FrameInfo{}, nil, err
		}
		if err := c.pace(ctx, ts); err != nil {
			return FrameInfo{}, nil, err
		}
		info.Received = ts
		c.seq.observe(&info)
		return info, sweep, nil
	}
}

// pace sleeps for the capture gap between consecutive frames.
func (c *PcapClient) pace(ctx context.Context, ts time.Time) error {
	last := c.lastTS
	c.lastTS = ts
	if !c.opts.Realtime || last.IsZero() {
		return nil
	}
	gap := time.Duration(float64(ts.Sub(last)) / c.opts.SpeedMultiplier)
	if gap <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.opts.Clock.After(gap):
		return nil
	}
}

// Disconnect closes the capture file.
func (c *PcapClient) Disconnect() error {
	c.session = nil
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f, c.reader = nil, nil
	return err
}
