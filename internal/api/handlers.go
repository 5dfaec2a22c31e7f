package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sparse-speed/internal/config"
	"github.com/banshee-data/sparse-speed/internal/db"
	"github.com/banshee-data/sparse-speed/internal/httputil"
	"github.com/banshee-data/sparse-speed/internal/monitoring"
	"github.com/banshee-data/sparse-speed/internal/render"
	"github.com/banshee-data/sparse-speed/internal/sensor"
	"github.com/banshee-data/sparse-speed/internal/session"
	"github.com/banshee-data/sparse-speed/internal/units"
	"github.com/banshee-data/sparse-speed/internal/version"
)

const (
	defaultSequenceLimit = 50
	maxSequenceLimit     = 1000
)

// SpeedResponse is the latest estimate in the requested unit. Speeds are
// null when nothing is detected.
type SpeedResponse struct {
	Frame      int64     `json:"frame"`
	ReceivedAt time.Time `json:"received_at"`
	Missed     uint32    `json:"missed_frames"`
	Unit       string    `json:"unit"`
	// Speed is the best speed in the recent history.
	Speed   *float64 `json:"speed"`
	Instant *float64 `json:"instant"`

	Threshold       float64   `json:"threshold"`
	NoiseEstimate   float64   `json:"noise_estimate"`
	SequenceStarted bool      `json:"sequence_started"`
	Sequences       []float64 `json:"sequences"`
}

// SequenceResponse is a stored sequence with its peak in the requested unit.
type SequenceResponse struct {
	db.Sequence
	Peak float64 `json:"peak"`
	Unit string  `json:"unit"`
}

// StatsResponse gathers the service counters.
type StatsResponse struct {
	Version       string             `json:"version"`
	Session       sensor.SessionInfo `json:"session"`
	Runner        session.Stats      `json:"runner"`
	StreamClients int                `json:"stream_clients"`
	StreamDropped uint64             `json:"stream_dropped"`
}

// requestUnit returns the unit named by the "units" query parameter, or the
// configured display unit.
func (s *Server) requestUnit(r *http.Request) (string, error) {
	if u := r.URL.Query().Get("units"); u != "" {
		return units.Parse(u)
	}
	return s.proc.Config().GetShownSpeedUnit(), nil
}

func convertOrNil(v float64, unit string) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	c := units.ConvertSpeed(v, unit)
	return &c
}

func (s *Server) showSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	unit, err := s.requestUnit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	u := s.proc.Latest()
	if u == nil {
		httputil.ServiceUnavailable(w, "no frame processed yet")
		return
	}

	res := u.Result
	resp := SpeedResponse{
		Frame:           res.Frame,
		ReceivedAt:      u.Frame.Received,
		Missed:          u.Frame.Missed,
		Unit:            unit,
		Speed:           convertOrNil(res.Velocity, unit),
		Instant:         convertOrNil(res.Instant, unit),
		Threshold:       res.Threshold,
		NoiseEstimate:   res.NoiseEstimate,
		SequenceStarted: res.SequenceStarted,
		Sequences:       make([]float64, len(res.SequenceVelocities)),
	}
	for i, v := range res.SequenceVelocities {
		resp.Sequences[i] = units.ConvertSpeed(v, unit)
	}
	httputil.WriteJSONOK(w, resp)
}

func parseLimit(r *http.Request) (int, error) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return defaultSequenceLimit, nil
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 || n > maxSequenceLimit {
		return 0, fmt.Errorf("invalid 'limit' parameter, want 1 to %d", maxSequenceLimit)
	}
	return n, nil
}

func (s *Server) listSequences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "sequence storage is disabled")
		return
	}
	unit, err := s.requestUnit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	seqs, err := s.store.RecentSequences(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sequences: %v", err))
		return
	}
	out := make([]SequenceResponse, len(seqs))
	for i, seq := range seqs {
		out[i] = SequenceResponse{Sequence: seq, Peak: units.ConvertSpeed(seq.PeakMPS, unit), Unit: unit}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "sequence storage is disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sessions, err := s.store.Sessions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

// handleConfig returns the configuration in effect, or applies a runtime
// patch on POST and PATCH.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.proc.Config())
	case http.MethodPost, http.MethodPatch:
		var patch config.ProcessingConfig
		if err := httputil.DecodeJSON(w, r, &patch); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.proc.UpdateConfig(&patch); err != nil {
			if errors.Is(err, config.ErrNotUpdateable) {
				httputil.WriteJSONError(w, http.StatusConflict, err.Error())
				return
			}
			httputil.BadRequest(w, err.Error())
			return
		}
		monitoring.Logf("processing config updated")
		httputil.WriteJSONOK(w, s.proc.Config())
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodPatch)
	}
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	resp := StatsResponse{
		Version: version.Version,
		Session: s.proc.SessionInfo(),
		Runner:  s.proc.Stats(),
	}
	if hs, ok := s.frames.(interface {
		Clients() int
		Dropped() uint64
	}); ok {
		resp.StreamClients = hs.Clients()
		resp.StreamDropped = hs.Dropped()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) latestFrame(w http.ResponseWriter) *render.Frame {
	if s.frames == nil {
		httputil.ServiceUnavailable(w, "rendering is disabled")
		return nil
	}
	f := s.frames.Latest()
	if f == nil {
		httputil.ServiceUnavailable(w, "no frame rendered yet")
	}
	return f
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	f := s.latestFrame(w)
	if f == nil {
		return
	}
	var buf bytes.Buffer
	if err := render.RenderPage(&buf, f); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		monitoring.Logf("failed to write chart: %v", err)
	}
}

func (s *Server) showPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	var build func(*render.Frame) (*plot.Plot, error)
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "history":
		build = render.HistoryPlot
	case "sequences":
		build = render.SequencePlot
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown plot kind %q, want history or sequences", kind))
		return
	}
	f := s.latestFrame(w)
	if f == nil {
		return
	}

	p, err := build(f)
	if errors.Is(err, render.ErrNoHistory) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to build plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if err := render.WritePNG(&buf, p, 10*vg.Inch, 4*vg.Inch); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := buf.WriteTo(w); err != nil {
		monitoring.Logf("failed to write plot: %v", err)
	}
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.serial == nil {
		http.Error(w, "No serial sensor attached", http.StatusServiceUnavailable)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.serial.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}
