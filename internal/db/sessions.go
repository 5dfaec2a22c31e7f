package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/sparse-speed/internal/sensor"
	"github.com/banshee-data/sparse-speed/internal/sparse"
	"github.com/banshee-data/sparse-speed/internal/timeutil"
)

// ErrNoSession is returned when a sequence is recorded outside a session.
var ErrNoSession = errors.New("no active session")

// Session is one row of the sessions table plus its sequence aggregates.
type Session struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Sensor       sensor.Config `json:"sensor"`
	SubsweepRate float64       `json:"subsweep_rate"`
	RangeStart   float64       `json:"range_start"`
	RangeLength  float64       `json:"range_length"`
	DataLength   int           `json:"data_length"`
	UpdateRate   float64       `json:"update_rate"`
	Sequences    int64         `json:"sequences"`
	PeakMPS      float64       `json:"peak_mps"`
}

// Sequence is one completed detection sequence.
type Sequence struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	PeakMPS    float64   `json:"peak_mps"`
	FirstFrame int64     `json:"first_frame"`
	LastFrame  int64     `json:"last_frame"`
	Detections int       `json:"detections"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder writes one session at a time into the database. It satisfies
// session.Recorder.
type Recorder struct {
	db    *DB
	clock timeutil.Clock

	mu sync.Mutex
	id string
}

// NewRecorder returns a recorder for db. A nil clock uses the real clock.
func NewRecorder(db *DB, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{db: db, clock: clock}
}

// SessionID returns the id of the open session, or "" when none is open.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// StartSession inserts a session row. A session that is still open is
// closed first.
func (r *Recorder) StartSession(ctx context.Context, cfg sensor.Config, info sensor.SessionInfo, updateRate float64) error {
	if err := r.EndSession(ctx); err != nil {
		return err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode sensor config: %w", err)
	}

	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, started_unix, sensor_config, subsweep_rate,
			range_start, range_length, data_length, update_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, unixSeconds(r.clock.Now()), string(cfgJSON), info.SubsweepRate,
		info.RangeStart, info.RangeLength, info.DataLength, updateRate,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
	return nil
}

// RecordSequence stores a completed sequence against the open session.
func (r *Recorder) RecordSequence(ctx context.Context, s sparse.SequenceSummary) error {
	id := r.SessionID()
	if id == "" {
		return ErrNoSession
	}
	if math.IsNaN(s.Peak) || math.IsInf(s.Peak, 0) {
		return fmt.Errorf("sequence peak %v is not finite", s.Peak)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sequences (
			session_id, peak_mps, first_frame, last_frame, detections, recorded_unix
		) VALUES (?, ?, ?, ?, ?, ?)`,
		id, s.Peak, s.FirstFrame, s.LastFrame, s.Detections, unixSeconds(r.clock.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}
	return nil
}

// EndSession stamps the open session with an end time. It is a no-op when
// no session is open.
func (r *Recorder) EndSession(ctx context.Context) error {
	r.mu.Lock()
	id := r.id
	r.id = ""
	r.mu.Unlock()
	if id == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET ended_unix = ? WHERE session_id = ?`,
		unixSeconds(r.clock.Now()), id,
	); err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return nil
}

// RecentSequences returns up to limit sequences, newest first. An empty
// sessionID covers every session.
func (db *DB) RecentSequences(ctx context.Context, sessionID string, limit int) ([]Sequence, error) {
	if limit <= 0 {
		return []Sequence{}, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT sequence_id, session_id, peak_mps, first_frame, last_frame, detections, recorded_unix
		FROM sequences
		WHERE ? = '' OR session_id = ?
		ORDER BY sequence_id DESC
		LIMIT ?`, sessionID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seqs := []Sequence{}
	for rows.Next() {
		var s Sequence
		var recorded float64
		if err := rows.Scan(&s.ID, &s.SessionID, &s.PeakMPS, &s.FirstFrame, &s.LastFrame, &s.Detections, &recorded); err != nil {
			return nil, err
		}
		s.RecordedAt = fromUnixSeconds(recorded)
		seqs = append(seqs, s)
	}
	return seqs, rows.Err()
}

// Sessions returns up to limit sessions, newest first, with their sequence
// count and peak speed.
func (db *DB) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		return []Session{}, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT s.session_id, s.started_unix, s.ended_unix, s.sensor_config,
			s.subsweep_rate, s.range_start, s.range_length, s.data_length, s.update_rate,
			COUNT(q.sequence_id), COALESCE(MAX(q.peak_mps), 0)
		FROM sessions s
		LEFT JOIN sequences q ON q.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_unix DESC, s.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		var started float64
		var ended sql.NullFloat64
		var cfgJSON string
		if err := rows.Scan(&s.ID, &started, &ended, &cfgJSON,
			&s.SubsweepRate, &s.RangeStart, &s.RangeLength, &s.DataLength, &s.UpdateRate,
			&s.Sequences, &s.PeakMPS); err != nil {
			return nil, err
		}
		s.StartedAt = fromUnixSeconds(started)
		if ended.Valid {
			t := fromUnixSeconds(ended.Float64)
			s.EndedAt = &t
		}
		if err := json.Unmarshal([]byte(cfgJSON), &s.Sensor); err != nil {
			return nil, fmt.Errorf("decode sensor config of session %s: %w", s.ID, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}
