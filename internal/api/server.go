// Package api serves the live speed estimate, stored sequences, runtime
// configuration and the rendered views over HTTP.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/sparse-speed/internal/config"
	"github.com/banshee-data/sparse-speed/internal/db"
	"github.com/banshee-data/sparse-speed/internal/monitoring"
	"github.com/banshee-data/sparse-speed/internal/render"
	"github.com/banshee-data/sparse-speed/internal/sensor"
	"github.com/banshee-data/sparse-speed/internal/serialmux"
	"github.com/banshee-data/sparse-speed/internal/session"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Processing is the part of session.Runner the handlers use.
type Processing interface {
	Latest() *session.Update
	Config() *config.ProcessingConfig
	UpdateConfig(patch *config.ProcessingConfig) error
	SessionInfo() sensor.SessionInfo
	Stats() session.Stats
}

// SequenceStore reads persisted sessions and sequences.
type SequenceStore interface {
	RecentSequences(ctx context.Context, sessionID string, limit int) ([]db.Sequence, error)
	Sessions(ctx context.Context, limit int) ([]db.Session, error)
}

// FrameSource provides the latest rendered frame.
type FrameSource interface {
	Latest() *render.Frame
}

// Options wires a Server. Only Processing is required; routes backed by a
// nil collaborator answer 503.
type Options struct {
	Processing Processing
	Store      SequenceStore
	Frames     FrameSource
	// Stream serves the websocket frame stream, normally the render.Hub.
	Stream http.Handler
	// Serial is set when the sensor sits behind a serial mux.
	Serial serialmux.SerialMuxInterface
}

type Server struct {
	proc   Processing
	store  SequenceStore
	frames FrameSource
	stream http.Handler
	serial serialmux.SerialMuxInterface
}

func NewServer(opts Options) *Server {
	return &Server{
		proc:   opts.Processing,
		store:  opts.Store,
		frames: opts.Frames,
		stream: opts.Stream,
		serial: opts.Serial,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack is needed for the websocket upgrade on /ws.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/speed", s.showSpeed)
	mux.HandleFunc("/api/sequences", s.listSequences)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/chart", s.showChart)
	mux.HandleFunc("/api/plot.png", s.showPlot)
	mux.HandleFunc("/command", s.sendCommandHandler)
	if s.stream != nil {
		mux.Handle("/ws", s.stream)
	}
	return mux
}
