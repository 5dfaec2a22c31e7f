package render

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sparse-speed/internal/config"
	"github.com/banshee-data/sparse-speed/internal/sensor"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestHistoryPlotPNG(t *testing.T) {
	f := NewBuilder(sensor.SessionInfo{DataLength: 4}, 2, 2).Build(testUpdate(t, allPlots("mps")))
	p, err := HistoryPlot(f)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, p, 4*vg.Inch, 3*vg.Inch))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestHistoryPlotHidden(t *testing.T) {
	f := NewBuilder(sensor.SessionInfo{DataLength: 4}, 2, 2).Build(testUpdate(t, config.Display{SpeedUnit: "mps"}))
	_, err := HistoryPlot(f)
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestSavePlots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	f := NewBuilder(sensor.SessionInfo{DataLength: 4}, 2, 2).Build(testUpdate(t, allPlots("mps")))

	files, err := SavePlots(dir, "session 1/../x", f)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, path := range files {
		assert.Equal(t, dir, filepath.Dir(path))
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(b, pngMagic), path)
	}
}

func TestSavePlots_SequencesOnly(t *testing.T) {
	f := NewBuilder(sensor.SessionInfo{DataLength: 4}, 2, 2).Build(testUpdate(t, config.Display{SpeedUnit: "mps"}))
	files, err := SavePlots(t.TempDir(), "s", f)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
