package sensor

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sparse-speed/internal/timeutil"
)

type capturedDatagram struct {
	srcPort int
	payload []byte
}

// writeCapture writes datagrams to a pcap file 100ms apart.
func writeCapture(t *testing.T, datagrams []capturedDatagram) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensor.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, d := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, 20),
			DstIP:    net.IPv4(192, 168, 1, 10),
		}
		udp := &layers.UDP{SrcPort: layers.UDPPort(d.srcPort), DstPort: 40000}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(d.payload)))
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * 100 * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func sessionDatagram(t *testing.T, port int) capturedDatagram {
	b, err := EncodeSessionReply(SessionInfo{SubsweepRate: 6000, DataLength: 4})
	require.NoError(t, err)
	return capturedDatagram{srcPort: port, payload: b}
}

func frameDatagram(t *testing.T, port int, seq uint32) capturedDatagram {
	b, err := EncodeFrame(seq, 0, mustSweep(t, 2, 2, []float64{float64(seq), 1, 2, 3}))
	require.NoError(t, err)
	return capturedDatagram{srcPort: port, payload: b}
}

func TestPcapClientReplay(t *testing.T) {
	path := writeCapture(t, []capturedDatagram{
		frameDatagram(t, 2111, 99), // before the session, skipped
		{srcPort: 2111, payload: []byte(`{"cmd":"setup"}`)},
		sessionDatagram(t, 2111),
		{srcPort: 2111, payload: []byte(`{"status":"ok"}`)},
		frameDatagram(t, 2111, 0),
		frameDatagram(t, 5000, 50), // other port
		frameDatagram(t, 2111, 1),
		frameDatagram(t, 2111, 3),
	})

	c := NewPcapClient(path, PcapOptions{Port: 2111})
	defer c.Disconnect()
	ctx := context.Background()

	info, err := c.SetupSession(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 6000.0, info.SubsweepRate)
	require.NoError(t, c.StartStreaming(ctx))

	var seqs []uint32
	var missed uint32
	for {
		fi, sweep, err := c.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, float64(fi.Sequence), sweep.At(0, 0))
		seqs = append(seqs, fi.Sequence)
		missed += fi.Missed
	}
	assert.Equal(t, []uint32{0, 1, 3}, seqs)
	assert.Equal(t, uint32(1), missed)
}

func TestPcapClientNoSession(t *testing.T) {
	path := writeCapture(t, []capturedDatagram{frameDatagram(t, 2111, 0)})
	c := NewPcapClient(path, PcapOptions{})
	defer c.Disconnect()

	_, err := c.SetupSession(context.Background(), DefaultConfig())
	assert.ErrorIs(t, err, ErrSessionNotReady)

	_, _, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrSessionNotReady)
}

func TestPcapClientMissingFile(t *testing.T) {
	c := NewPcapClient(filepath.Join(t.TempDir(), "missing.pcap"), PcapOptions{})
	_, err := c.SetupSession(context.Background(), DefaultConfig())
	assert.Error(t, err)
}

func TestPcapClientRealtimePacing(t *testing.T) {
	path := writeCapture(t, []capturedDatagram{
		sessionDatagram(t, 2111),
		frameDatagram(t, 2111, 0),
		frameDatagram(t, 2111, 1),
	})
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewPcapClient(path, PcapOptions{Realtime: true, Clock: clock})
	defer c.Disconnect()
	ctx := context.Background()

	_, err := c.SetupSession(ctx, DefaultConfig())
	require.NoError(t, err)

	// The first frame has no predecessor to pace against.
	_, _, err = c.Next(ctx)
	require.NoError(t, err)

	done := make(chan uint32, 1)
	go func() {
		fi, _, err := c.Next(ctx)
		if err == nil {
			done <- fi.Sequence
		}
	}()

	select {
	case <-done:
		t.Fatal("frame delivered before its capture gap elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	deadline := time.After(2 * time.Second)
	for {
		clock.Advance(100 * time.Millisecond)
		select {
		case seq := <-done:
			assert.Equal(t, uint32(1), seq)
			return
		case <-deadline:
			t.Fatal("paced frame never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
