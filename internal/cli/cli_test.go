package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adaptive-training/internal/analysis"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	dir    string
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("log:\n  level: error\n  format: text\n"), 0o600))
	return &harness{dir: dir, config: cfg}
}

// run executes one command line and returns stdout
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(func() time.Time { return fixedNow })
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", h.config, "--db", filepath.Join(h.dir, "data.db")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func trainingJSON(t *testing.T, from time.Time, days int, stress float64) string {
	t.Helper()
	records := make([]trainingRecord, days)
	for i := range records {
		records[i] = trainingRecord{Date: from.AddDate(0, 0, i).Format("2006-01-02"), Stress: stress}
	}
	b, err := json.Marshal(records)
	require.NoError(t, err)
	return string(b)
}

func TestIngestPlanAdapt(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	out, err := h.run(t, trainingJSON(t, start, 150, 45), "ingest", "training", "-a", "a1")
	require.NoError(t, err)
	var ingested struct {
		Stored      int `json:"stored"`
		Duplicates  int `json:"duplicates"`
		Calibration *struct {
			Params struct {
				AthleteID string `json:"athlete_id"`
			} `json:"params"`
		} `json:"calibration"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &ingested))
	assert.Equal(t, 150, ingested.Stored)
	require.NotNil(t, ingested.Calibration)
	assert.Equal(t, "a1", ingested.Calibration.Params.AthleteID)

	out, err = h.run(t, trainingJSON(t, start, 2, 45), "ingest", "training", "-a", "a1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &ingested))
	assert.Equal(t, 0, ingested.Stored)
	assert.Equal(t, 2, ingested.Duplicates)

	out, err = h.run(t, "", "plan", "-a", "a1", "--event", "2025-08-01")
	require.NoError(t, err)
	var plan struct {
		EventDate string `json:"event_date"`
		Points    []struct {
			TargetStress float64 `json:"target_stress"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.True(t, strings.HasPrefix(plan.EventDate, "2025-08-01"))
	assert.Len(t, plan.Points, 61)

	out, err = h.run(t, "", "adapt", "-a", "a1", "--date", "2025-06-01")
	require.NoError(t, err)
	var decision struct {
		AthleteID  string            `json:"athlete_id"`
		Triggers   []json.RawMessage `json:"triggers"`
		Adjustment struct {
			Multiplier    float64  `json:"multiplier"`
			PlannedStress *float64 `json:"planned_stress"`
		} `json:"adjustment"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decision))
	assert.Equal(t, "a1", decision.AthleteID)
	assert.NotNil(t, decision.Triggers)
	assert.NotNil(t, decision.Adjustment.PlannedStress)
	assert.Greater(t, decision.Adjustment.Multiplier, 0.0)
}

func TestSignalsAndFindings(t *testing.T) {
	h := newHarness(t)

	records := []signalRecord{
		{Date: "2025-05-01", Inputs: map[string]float64{"sleep_hours": 7}, Outputs: map[string]float64{"hrv": 60}},
		{Date: "2025-05-02", Inputs: map[string]float64{"sleep_hours": 8}},
	}
	b, err := json.Marshal(records)
	require.NoError(t, err)

	file := filepath.Join(h.dir, "signals.json")
	require.NoError(t, os.WriteFile(file, b, 0o600))

	out, err := h.run(t, "", "ingest", "signals", "-a", "a1", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, `"stored": 2`)

	out, err = h.run(t, "", "correlate", "-a", "a1", "--output", "hrv")
	require.NoError(t, err)
	assert.Contains(t, out, `"run_id"`)

	// two days is far below the sample minimum, so nothing is stored
	out, err = h.run(t, "", "findings", "-a", "a1")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestIngestSessions(t *testing.T) {
	h := newHarness(t)

	speed, hr := 4.0, 144.5
	points := make([]analysis.SessionPoint, 900)
	for i := range points {
		points[i] = analysis.SessionPoint{Speed: &speed, HeartRate: &hr}
	}
	b, err := json.Marshal([]sessionRecord{
		{Date: "2025-05-30", Points: points},
		{Date: "2025-05-31", Points: points},
	})
	require.NoError(t, err)

	out, err := h.run(t, string(b), "ingest", "sessions", "-a", "a1")
	require.NoError(t, err)
	var res struct {
		Training struct {
			Stored int `json:"stored"`
		} `json:"training"`
		Outputs struct {
			Stored int `json:"stored"`
		} `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Training.Stored)
	assert.Equal(t, 2, res.Outputs.Stored)

	_, err = h.run(t, `[{"date": "30/05/2025", "points": []}]`, "ingest", "sessions", "-a", "a1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 0")
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "calibrate")
	assert.EqualError(t, err, "--athlete is required")

	_, err = h.run(t, "", "plan", "-a", "a1", "--event", "June 1st")
	assert.ErrorContains(t, err, "want YYYY-MM-DD")

	_, err = h.run(t, "[{\"date\": \"2025-13-01\", \"stress\": 1}]", "ingest", "training", "-a", "a1")
	assert.ErrorContains(t, err, "record 0")

	_, err = h.run(t, "", "schedule", "--once", "nightly")
	assert.ErrorContains(t, err, `unknown job "nightly"`)
}

func TestScheduleOnce(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"a1", "a2"} {
		_, err := h.run(t, trainingJSON(t, start, 60, 40), "ingest", "training", "-a", id)
		require.NoError(t, err)
	}

	out, err := h.run(t, "", "schedule", "--once", "adaptation")
	require.NoError(t, err)
	var res struct {
		Athletes  int `json:"athletes"`
		Succeeded int `json:"succeeded"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Athletes)
	assert.Equal(t, 2, res.Succeeded)
}
