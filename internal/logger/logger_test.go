package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	log.Named("calibration").Info(ctx, "calibrated", Athlete("a1"), Float64("tau_fitness", 25), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "calibrated" {
		t.Errorf("msg = %v, want calibrated", rec["msg"])
	}
	if rec["component"] != "calibration" {
		t.Errorf("component = %v, want calibration", rec["component"])
	}
	if rec["athlete_id"] != "a1" {
		t.Errorf("athlete_id = %v, want a1", rec["athlete_id"])
	}
	if rec["error"] != "boom" {
		t.Errorf("error = %v, want boom", rec["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	log.Debug(ctx, "hidden debug")
	log.Info(ctx, "hidden info")
	log.Warn(ctx, "shown warn")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("below-level lines were written: %q", out)
	}
	if !strings.Contains(out, "shown warn") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log, _ := New(&buf, "debug", "text")
	log.With(String("run_id", "r-1")).Debug(context.Background(), "step")

	if !strings.Contains(buf.String(), "run_id=r-1") {
		t.Errorf("With field missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"INFO", false},
		{"", false},
		{"warning", false},
		{"error", false},
		{"verbose", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}

	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNop(t *testing.T) {
	// must not panic
	Nop().Named("x").With(Int("n", 1)).Error(context.Background(), "discarded")
}
