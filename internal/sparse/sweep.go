package sparse

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when a sweep does not have the shape the
// session was configured for.
var ErrShapeMismatch = errors.New("sweep shape does not match session")

// Sweep is one frame of sparse data: rows are subsweeps (time), columns are
// depth bins (range).
type Sweep struct {
	*mat.Dense
}

// NewSweep wraps data, laid out row-major as subsweeps x depths. The slice is
// used directly, not copied.
func NewSweep(subsweeps, depths int, data []float64) (*Sweep, error) {
	if subsweeps < 1 || depths < 1 {
		return nil, fmt.Errorf("invalid sweep shape %dx%d: %w", subsweeps, depths, ErrShapeMismatch)
	}
	if len(data) != subsweeps*depths {
		return nil, fmt.Errorf("sweep data length %d, want %d: %w", len(data), subsweeps*depths, ErrShapeMismatch)
	}
	return &Sweep{Dense: mat.NewDense(subsweeps, depths, data)}, nil
}

// Subsweeps returns the number of rows.
func (s *Sweep) Subsweeps() int {
	r, _ := s.Dims()
	return r
}

// Depths returns the number of depth bins.
func (s *Sweep) Depths() int {
	_, c := s.Dims()
	return c
}

// Depth copies the time series of depth bin j into dst.
func (s *Sweep) Depth(dst []float64, j int) []float64 {
	if cap(dst) < s.Subsweeps() {
		dst = make([]float64, s.Subsweeps())
	}
	return mat.Col(dst[:s.Subsweeps()], j, s)
}

// Clone returns a deep copy.
func (s *Sweep) Clone() *Sweep {
	if s == nil || s.Dense == nil {
		return nil
	}
	return &Sweep{Dense: mat.DenseCopyOf(s.Dense)}
}

// MarshalJSON encodes the sweep as an array of subsweep rows.
func (s *Sweep) MarshalJSON() ([]byte, error) {
	if s == nil || s.Dense == nil {
		return []byte("null"), nil
	}
	rows := make([][]float64, s.Subsweeps())
	for i := range rows {
		rows[i] = mat.Row(nil, i, s)
	}
	return json.Marshal(rows)
}
