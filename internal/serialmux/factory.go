package serialmux

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

// ErrNoPorts is returned by AutodetectPort when no serial port is present.
var ErrNoPorts = errors.New("no serial ports found")

// NewRealSerialMux opens the serial port at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}

// listPorts is replaced in tests.
var listPorts = serial.GetPortsList

// AutodetectPort returns the first serial port reported by the system.
func AutodetectPort() (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", ErrNoPorts
	}
	return ports[0], nil
}
