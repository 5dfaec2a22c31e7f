package serialmux

import (
	"context"
	"io"
	"net/http"
)

// SerialPorter is the minimal interface needed for a serial port. Tests
// substitute in-memory ports.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialMuxInterface is what sensor clients and the admin UI depend on.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel of received lines. The channel is
	// closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one line to the port.
	SendCommand(string) error
	// Monitor reads lines until ctx is done or the port fails.
	Monitor(context.Context) error
	Close() error
	// AttachAdminRoutes registers debug handlers under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}
