package sensor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/banshee-data/sparse-speed/internal/sparse"
)

// Frame header layout, little endian:
//
//	0  magic     [4]byte "SPRS"
//	4  version   uint8
//	5  flags     uint8
//	6  sequence  uint32
//	10 subsweeps uint16
//	12 depths    uint16
//	14 samples   int16 * subsweeps * depths, row-major
const (
	FrameVersion    = 1
	FrameHeaderSize = 14
)

var frameMagic = [4]byte{'S', 'P', 'R', 'S'}

// Frame flags reported by the sensor.
const (
	FlagSaturated uint8 = 1 << iota
	FlagDelayed
)

// FrameInfo describes one received frame.
type FrameInfo struct {
	Sequence uint32
	Flags    uint8
	Received time.Time
	// Missed counts frames skipped since the previous one, judged from the
	// sequence number.
	Missed uint32
}

// Saturated reports whether the sensor flagged ADC saturation.
func (f FrameInfo) Saturated() bool { return f.Flags&FlagSaturated != 0 }

// Delayed reports whether the sensor could not keep its sweep rate.
func (f FrameInfo) Delayed() bool { return f.Flags&FlagDelayed != 0 }

type frameHeader struct {
	Magic     [4]byte
	Version   uint8
	Flags     uint8
	Sequence  uint32
	Subsweeps uint16
	Depths    uint16
}

// EncodeFrame serialises a sweep. Samples are rounded and clamped to int16.
func EncodeFrame(seq uint32, flags uint8, s *sparse.Sweep) ([]byte, error) {
	if s == nil || s.Dense == nil {
		return nil, fmt.Errorf("encode nil sweep: %w", ErrBadFrame)
	}
	rows, cols := s.Subsweeps(), s.Depths()
	if rows > 0xffff || cols > 0xffff {
		return nil, fmt.Errorf("sweep %dx%d too large: %w", rows, cols, ErrBadFrame)
	}
	var buf bytes.Buffer
	buf.Grow(FrameHeaderSize + 2*rows*cols)
	hdr := frameHeader{
		Magic:     frameMagic,
		Version:   FrameVersion,
		Flags:     flags,
		Sequence:  seq,
		Subsweeps: uint16(rows),
		Depths:    uint16(cols),
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	samples := make([]int16, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			samples[i*cols+j] = clampInt16(s.At(i, j))
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, samples); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clampInt16(v float64) int16 {
	switch {
	case v >= 32767:
		return 32767
	case v <= -32768:
		return -32768
	case v >= 0:
		return int16(v + 0.5)
	default:
		return int16(v - 0.5)
	}
}

// DecodeFrame parses one frame.
func DecodeFrame(b []byte) (FrameInfo, *sparse.Sweep, error) {
	if len(b) < FrameHeaderSize {
		return FrameInfo{}, nil, fmt.Errorf("frame of %d bytes shorter than header: %w", len(b), ErrBadFrame)
	}
	var hdr frameHeader
	if err := binary.Read(bytes.NewReader(b[:FrameHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return FrameInfo{}, nil, fmt.Errorf("read header: %w", ErrBadFrame)
	}
	if hdr.Magic != frameMagic {
		return FrameInfo{}, nil, fmt.Errorf("bad magic %q: %w", hdr.Magic[:], ErrBadFrame)
	}
	if hdr.Version != FrameVersion {
		return FrameInfo{}, nil, fmt.Errorf("unsupported frame version %d: %w", hdr.Version, ErrBadFrame)
	}
	n := int(hdr.Subsweeps) * int(hdr.Depths)
	if n == 0 {
		return FrameInfo{}, nil, fmt.Errorf("empty frame %dx%d: %w", hdr.Subsweeps, hdr.Depths, ErrBadFrame)
	}
	if want := FrameHeaderSize + 2*n; len(b) != want {
		return FrameInfo{}, nil, fmt.Errorf("frame is %d bytes, want %d: %w", len(b), want, ErrBadFrame)
	}
	data := make([]float64, n)
	payload := b[FrameHeaderSize:]
	for i := range data {
		data[i] = float64(int16(binary.LittleEndian.Uint16(payload[2*i:])))
	}
	s, err := sparse.NewSweep(int(hdr.Subsweeps), int(hdr.Depths), data)
	if err != nil {
		return FrameInfo{}, nil, fmt.Errorf("%v: %w", err, ErrBadFrame)
	}
	return FrameInfo{Sequence: hdr.Sequence, Flags: hdr.Flags}, s, nil
}

// sequenceTracker fills in FrameInfo.Missed from consecutive sequence numbers.
type sequenceTracker struct {
	last uint32
	seen bool
}

func (t *sequenceTracker) observe(info *FrameInfo) {
	if t.seen && info.Sequence > t.last+1 {
		info.Missed = info.Sequence - t.last - 1
	}
	t.last, t.seen = info.Sequence, true
}
