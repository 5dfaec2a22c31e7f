package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/sparse-speed/internal/sparse"
	"github.com/banshee-data/sparse-speed/internal/units"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultProcessingConfig(t *testing.T) {
	cfg := DefaultProcessingConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if diff := cmp.Diff(sparse.DefaultParams(), cfg.Params()); diff != "" {
		t.Errorf("Params() mismatch (-want +got):\n%s", diff)
	}
	want := Display{SpeedUnit: units.MPS, ShowDataPlot: false, ShowSDPlot: true, ShowVelHistoryPlot: true}
	if got := cfg.Display(); got != want {
		t.Errorf("Display() = %+v, want %+v", got, want)
	}
}

func TestEmptyConfigMatchesDefaults(t *testing.T) {
	empty := &ProcessingConfig{}
	if diff := cmp.Diff(DefaultProcessingConfig().Params(), empty.Params()); diff != "" {
		t.Errorf("empty Params() mismatch (-want +got):\n%s", diff)
	}
	if empty.Display() != DefaultProcessingConfig().Display() {
		t.Errorf("empty Display() = %+v", empty.Display())
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultProcessingConfig(), cfg); diff != "" {
		t.Errorf("%s does not match built-in defaults (-want +got):\n%s", DefaultConfigPath, diff)
	}
}

func TestLoadProcessingConfig_JSON(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"min_speed": 0.25, "history_length": "4s", "shown_speed_unit": "mph"}`)
	cfg, err := LoadProcessingConfig(path)
	if err != nil {
		t.Fatalf("LoadProcessingConfig: %v", err)
	}
	if cfg.GetMinSpeed() != 0.25 {
		t.Errorf("GetMinSpeed() = %v, want 0.25", cfg.GetMinSpeed())
	}
	if cfg.GetHistoryLength() != 4*time.Second {
		t.Errorf("GetHistoryLength() = %v, want 4s", cfg.GetHistoryLength())
	}
	if cfg.GetShownSpeedUnit() != units.MPH {
		t.Errorf("GetShownSpeedUnit() = %q", cfg.GetShownSpeedUnit())
	}
	// omitted fields keep defaults
	if cfg.Params().NumFFTBins != sparse.DefaultNumFFTBins {
		t.Errorf("NumFFTBins = %d", cfg.Params().NumFFTBins)
	}
}

func TestLoadProcessingConfig_YAML(t *testing.T) {
	for _, name := range []string{"cfg.yaml", "cfg.yml"} {
		path := writeFile(t, name, "min_speed: 0.5\nsequence_timeout_frames: 4\nshow_data_plot: true\n")
		cfg, err := LoadProcessingConfig(path)
		if err != nil {
			t.Fatalf("LoadProcessingConfig(%s): %v", name, err)
		}
		p := cfg.Params()
		if p.MinSpeed != 0.5 || p.SequenceTimeout != 4 {
			t.Errorf("%s: params = %+v", name, p)
		}
		if !cfg.GetShowDataPlot() {
			t.Errorf("%s: show_data_plot not applied", name)
		}
	}
}

func TestLoadExampleConfigFile(t *testing.T) {
	cfg, err := LoadProcessingConfig("../../config/processing.example.yaml")
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if cfg.GetShownSpeedUnit() != units.KMPH {
		t.Errorf("GetShownSpeedUnit() = %q", cfg.GetShownSpeedUnit())
	}
}

func TestLoadProcessingConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantSub string
	}{
		{"wrong extension", "cfg.toml", "min_speed = 1", "extension"},
		{"bad json", "cfg.json", "{", "parse"},
		{"bad yaml", "cfg.yaml", "min_speed: [", "parse"},
		{"out of range", "cfg.json", `{"min_speed": 11}`, "min_speed"},
		{"bad unit", "cfg.json", `{"shown_speed_unit": "knots"}`, "shown_speed_unit"},
		{"bad duration", "cfg.json", `{"history_length": "soon"}`, "history_length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProcessingConfig(writeFile(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}

	if _, err := LoadProcessingConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadProcessingConfig_RejectsLargeFile(t *testing.T) {
	big := `{"min_speed": 0.1` + strings.Repeat(" ", 1024*1024) + `}`
	if _, err := LoadProcessingConfig(writeFile(t, "big.json", big)); err == nil {
		t.Error("expected error for oversized file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProcessingConfig
		wantErr bool
	}{
		{"empty", ProcessingConfig{}, false},
		{"min speed zero", ProcessingConfig{MinSpeed: ptrFloat64(0)}, false},
		{"min speed max", ProcessingConfig{MinSpeed: ptrFloat64(10)}, false},
		{"min speed negative", ProcessingConfig{MinSpeed: ptrFloat64(-0.1)}, true},
		{"odd fft", ProcessingConfig{NumFFTBins: ptrInt(257)}, true},
		{"zero history", ProcessingConfig{HistoryLength: ptrString("0s")}, true},
		{"no saved sequences", ProcessingConfig{SavedSequences: ptrInt(0)}, true},
		{"negative timeout", ProcessingConfig{SequenceTimeout: ptrInt(-1)}, true},
		{"no noise bins", ProcessingConfig{NoiseBins: ptrInt(0)}, true},
		{"negative threshold", ProcessingConfig{MinThreshold: ptrFloat64(-1)}, true},
		{"dynamic above one", ProcessingConfig{DynamicThreshold: ptrFloat64(1.5)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	cfg := DefaultProcessingConfig()
	patch := &ProcessingConfig{MinSpeed: ptrFloat64(1.5), ShownSpeedUnit: ptrString(units.KMPH), ShowDataPlot: ptrBool(true)}
	if err := cfg.Update(patch); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cfg.GetMinSpeed() != 1.5 || cfg.GetShownSpeedUnit() != units.KMPH || !cfg.GetShowDataPlot() {
		t.Errorf("patch not applied: %+v", cfg.Display())
	}
	// patch values are copied, not aliased
	*patch.MinSpeed = 9
	if cfg.GetMinSpeed() != 1.5 {
		t.Errorf("config aliases patch memory")
	}
	// untouched fields keep their values
	if !cfg.GetShowSDPlot() {
		t.Error("show_sd_plot changed")
	}
}

func TestUpdate_RejectsSessionFields(t *testing.T) {
	cfg := DefaultProcessingConfig()
	before := cfg.Clone()

	err := cfg.Update(&ProcessingConfig{MinSpeed: ptrFloat64(2), NoiseBins: ptrInt(5), MinThreshold: ptrFloat64(3)})
	if !errors.Is(err, ErrNotUpdateable) {
		t.Fatalf("Update error = %v, want ErrNotUpdateable", err)
	}
	if !strings.Contains(err.Error(), "min_threshold, noise_bins") {
		t.Errorf("error %q should list the fields", err)
	}
	if diff := cmp.Diff(before, cfg); diff != "" {
		t.Errorf("config changed on rejected update (-want +got):\n%s", diff)
	}
}

func TestUpdate_RejectsInvalidValues(t *testing.T) {
	cfg := DefaultProcessingConfig()
	if err := cfg.Update(&ProcessingConfig{MinSpeed: ptrFloat64(12)}); err == nil {
		t.Error("expected error for min_speed above range")
	}
	if err := cfg.Update(&ProcessingConfig{ShownSpeedUnit: ptrString("furlongs")}); err == nil {
		t.Error("expected error for unknown unit")
	}
	if cfg.GetMinSpeed() != sparse.DefaultMinSpeed {
		t.Errorf("min_speed changed to %v", cfg.GetMinSpeed())
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultProcessingConfig()
	c := cfg.Clone()
	*c.MinSpeed = 3
	if cfg.GetMinSpeed() == 3 {
		t.Error("Clone shares memory with the original")
	}
	if (&ProcessingConfig{}).Clone().MinSpeed != nil {
		t.Error("Clone of empty config should stay empty")
	}
}
