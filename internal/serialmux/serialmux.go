// Package serialmux multiplexes one serial port between several readers: the
// sensor client consumes frame lines while the debug UI tails the same
// stream and can inject commands.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// SubscriberBuffer is the per-subscriber line queue length. Lines are
// dropped for subscribers whose queue is full.
const SubscriberBuffer = 64

// MaxLineBytes bounds a single received line. Frame lines carry a base64
// encoded sweep, far longer than bufio's default token size.
const MaxLineBytes = 1 << 20

// SerialMux fans lines from one port out to any number of subscribers.
type SerialMux[T SerialPorter] struct {
	port T

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
	closing      bool

	commandMu sync.Mutex
	dropped   atomic.Uint64
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new line subscriber. After Close it returns an
// already closed channel.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, SubscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes command to the port, newline terminated.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Dropped returns how many lines were discarded for slow subscribers.
func (s *SerialMux[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Monitor reads lines from the port and delivers them to every subscriber.
// It returns nil when the port reaches EOF or the mux is closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking Scan runs on its own goroutine so cancellation is
	// observed without waiting for the next line
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- strings.TrimRight(scan.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			s.broadcast(line)
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) broadcast(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close closes all subscriber channels and the port. Further calls only
// close the port again.
func (s *SerialMux[T]) Close() error {
	s.subscriberMu.Lock()
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}
