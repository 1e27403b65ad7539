package correlation

import (
	"errors"
	"slices"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		metric string
		want   Polarity
		safe   bool
	}{
		{"efficiency", Ambiguous, false},
		{"pace_at_effort", LowerIsBetter, true},
		{"completion", HigherIsBetter, true},
		{"personal_best", HigherIsBetter, true},
		{"hrv", HigherIsBetter, true},
		{"never_registered", Ambiguous, false},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			m := r.Lookup(tt.metric)
			if m.Polarity != tt.want {
				t.Errorf("Polarity = %s, want %s", m.Polarity, tt.want)
			}
			if r.IsSafe(tt.metric) != tt.safe {
				t.Errorf("IsSafe = %v, want %v", r.IsSafe(tt.metric), tt.safe)
			}
		})
	}

	safe := r.SafeMetrics()
	if slices.Contains(safe, "efficiency") {
		t.Errorf("SafeMetrics() = %v must not include an ambiguous metric", safe)
	}
	if !slices.IsSorted(safe) {
		t.Errorf("SafeMetrics() = %v, want sorted", safe)
	}
}

func TestRegisterConflict(t *testing.T) {
	r := DefaultRegistry()

	if err := r.Register("completion", HigherIsBetter); err != nil {
		t.Fatalf("same polarity again: %v", err)
	}

	err := r.Register("completion", LowerIsBetter)
	if !errors.Is(err, ErrMetricConflict) {
		t.Fatalf("err = %v, want ErrMetricConflict", err)
	}
	if r.IsSafe("completion") {
		t.Error("a conflicted metric must leave the safe whitelist")
	}
	if slices.Contains(r.SafeMetrics(), "completion") {
		t.Error("SafeMetrics still lists the conflicted metric")
	}
	if got := r.Conflicted(); !slices.Equal(got, []string{"completion"}) {
		t.Errorf("Conflicted() = %v, want [completion]", got)
	}

	// the conflict is sticky, even re-registering the original polarity
	if err := r.Register("completion", HigherIsBetter); !errors.Is(err, ErrMetricConflict) {
		t.Errorf("re-register after conflict err = %v, want ErrMetricConflict", err)
	}
}

func TestParsePolarity(t *testing.T) {
	for _, s := range []string{"higher_is_better", "lower_is_better", "ambiguous"} {
		if _, err := ParsePolarity(s); err != nil {
			t.Errorf("ParsePolarity(%q): %v", s, err)
		}
	}
	if _, err := ParsePolarity("sideways"); err == nil {
		t.Error("expected error for unknown polarity")
	}
	if err := NewRegistry().Register("x", "sideways"); err == nil {
		t.Error("Register accepted an unknown polarity")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	shared := DefaultRegistry()
	_ = shared.Register("completion", LowerIsBetter)

	athlete := shared.Clone()
	if err := athlete.Override("pace_at_effort", Ambiguous); err != nil {
		t.Fatalf("Override: %v", err)
	}

	if got := athlete.Lookup("pace_at_effort").Polarity; got != Ambiguous {
		t.Errorf("clone pace_at_effort = %s, want ambiguous", got)
	}
	if !shared.IsSafe("pace_at_effort") {
		t.Error("override on the clone leaked into the shared registry")
	}
	if len(shared.Conflicted()) != 1 {
		t.Errorf("shared Conflicted() = %v, want only completion", shared.Conflicted())
	}

	// a conflict carried into the clone is not cleared by an override
	if err := athlete.Override("completion", HigherIsBetter); err != nil {
		t.Fatalf("Override: %v", err)
	}
	if athlete.IsSafe("completion") {
		t.Error("override cleared a conflict")
	}

	if err := athlete.Override("x", "sideways"); err == nil {
		t.Error("Override accepted an unknown polarity")
	}
}
