package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/store"
)

// trainingRecord is one line of a training import file
type trainingRecord struct {
	Date   string  `json:"date"`
	Stress float64 `json:"stress"`
}

// signalRecord is one day of check-ins and measured outputs
type signalRecord struct {
	Date    string             `json:"date"`
	Inputs  map[string]float64 `json:"inputs,omitempty"`
	Outputs map[string]float64 `json:"outputs,omitempty"`
}

// sessionRecord is one recorded workout, sampled once per second
type sessionRecord struct {
	Date   string                  `json:"date"`
	Points []analysis.SessionPoint `json:"points"`
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(store.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return d, nil
}

// readRecords decodes a JSON array from path, or stdin when path is "-"
func readRecords[T any](path string, stdin io.Reader) ([]T, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var records []T
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return records, nil
}

func trainingSamples(athleteID string, records []trainingRecord) ([]store.TrainingSample, error) {
	samples := make([]store.TrainingSample, 0, len(records))
	for i, r := range records {
		d, err := parseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		samples = append(samples, store.TrainingSample{AthleteID: athleteID, Date: d, Stress: r.Stress})
	}
	return samples, nil
}

func signalSamples(athleteID string, records []signalRecord) ([]store.SignalSample, error) {
	samples := make([]store.SignalSample, 0, len(records))
	for i, r := range records {
		d, err := parseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		samples = append(samples, store.SignalSample{AthleteID: athleteID, Date: d, Inputs: r.Inputs, Outputs: r.Outputs})
	}
	return samples, nil
}

func sessions(records []sessionRecord) ([]analysis.Session, error) {
	out := make([]analysis.Session, 0, len(records))
	for i, r := range records {
		d, err := parseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, analysis.Session{Date: d, Points: r.Points})
	}
	return out, nil
}
