package analysis

import (
	"math"
	"testing"
	"time"

	"adaptive-training/internal/store"
)

func date(s string) time.Time {
	d, err := time.Parse(store.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDailyLoads(t *testing.T) {
	samples := []store.TrainingSample{
		{AthleteID: "a1", Date: date("2024-01-04"), Stress: 80},
		{AthleteID: "a1", Date: date("2024-01-01"), Stress: 50},
	}

	tests := []struct {
		name     string
		from, to time.Time
		want     []float64
	}{
		{
			name: "sample bounds, rest days zero-filled",
			want: []float64{50, 0, 0, 80},
		},
		{
			name: "explicit window extends past samples",
			from: date("2023-12-31"),
			to:   date("2024-01-05"),
			want: []float64{0, 50, 0, 0, 80, 0},
		},
		{
			name: "inverted window",
			from: date("2024-01-05"),
			to:   date("2024-01-01"),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loads := DailyLoads(samples, tt.from, tt.to)
			if len(loads) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(loads), len(tt.want))
			}
			for i, w := range tt.want {
				if loads[i].Stress != w {
					t.Errorf("day %d stress = %v, want %v", i, loads[i].Stress, w)
				}
			}
		})
	}

	if got := DailyLoads(nil, time.Time{}, time.Time{}); got != nil {
		t.Errorf("DailyLoads(nil) = %v, want nil", got)
	}
}

func TestSimulateConstantLoadConverges(t *testing.T) {
	p := store.BanisterParams{TauFitness: 42, TauFatigue: 7, KFitness: 1, KFatigue: 2, Offset: 10}

	loads := make([]DailyLoad, 1000)
	for i := range loads {
		loads[i] = DailyLoad{Date: date("2020-01-01").AddDate(0, 0, i), Stress: 60}
	}

	end := CurrentState(p, loads)
	if math.Abs(end.Fitness-60) > 0.01 {
		t.Errorf("Fitness = %v, want ~60", end.Fitness)
	}
	if math.Abs(end.Fatigue-60) > 0.01 {
		t.Errorf("Fatigue = %v, want ~60", end.Fatigue)
	}
	if math.Abs(end.Form) > 0.01 {
		t.Errorf("Form = %v, want ~0", end.Form)
	}
	// 10 + 60 - 2*60
	if math.Abs(end.Performance-(-50)) > 0.05 {
		t.Errorf("Performance = %v, want ~-50", end.Performance)
	}
}

func TestSimulateSingleImpulse(t *testing.T) {
	p := store.BanisterParams{TauFitness: 42, TauFatigue: 7, KFitness: 1, KFatigue: 2}

	loads := make([]DailyLoad, 30)
	for i := range loads {
		loads[i] = DailyLoad{Date: date("2024-01-01").AddDate(0, 0, i)}
	}
	loads[0].Stress = 100

	states := Simulate(p, loads)
	if len(states) != 30 {
		t.Fatalf("len = %d, want 30", len(states))
	}

	wantFit := 100 * (1 - math.Exp(-1.0/42))
	wantFat := 100 * (1 - math.Exp(-1.0/7))
	if math.Abs(states[0].Fitness-wantFit) > 1e-9 || math.Abs(states[0].Fatigue-wantFat) > 1e-9 {
		t.Errorf("day 0 = (%v, %v), want (%v, %v)", states[0].Fitness, states[0].Fatigue, wantFit, wantFat)
	}
	if states[0].Form >= 0 {
		t.Errorf("day 0 form = %v, want negative right after the impulse", states[0].Form)
	}
	if states[20].Form <= 0 {
		t.Errorf("day 20 form = %v, want positive once fatigue has cleared", states[20].Form)
	}
	for i := 1; i < len(states); i++ {
		if states[i].Fitness > states[i-1].Fitness {
			t.Fatalf("fitness rose on rest day %d", i)
		}
	}
}

func TestSimulateFromContinues(t *testing.T) {
	p := store.BanisterParams{TauFitness: 30, TauFatigue: 5, KFitness: 1, KFatigue: 1.5}
	loads := DailyLoads([]store.TrainingSample{
		{Date: date("2024-01-01"), Stress: 70},
		{Date: date("2024-01-10"), Stress: 40},
	}, time.Time{}, time.Time{})

	whole := Simulate(p, loads)
	first := Simulate(p, loads[:5])
	rest := SimulateFrom(p, first[len(first)-1], loads[5:])

	got, want := rest[len(rest)-1], whole[len(whole)-1]
	if math.Abs(got.Fitness-want.Fitness) > 1e-12 || math.Abs(got.Fatigue-want.Fatigue) > 1e-12 {
		t.Errorf("split simulation = %+v, want %+v", got, want)
	}
}

func TestAverageStress(t *testing.T) {
	loads := []DailyLoad{{Stress: 10}, {Stress: 20}, {Stress: 30}, {Stress: 40}}

	tests := []struct {
		window int
		want   float64
	}{
		{2, 35},
		{4, 25},
		{10, 25},
		{0, 0},
	}
	for _, tt := range tests {
		if got := AverageStress(loads, tt.window); got != tt.want {
			t.Errorf("AverageStress(window=%d) = %v, want %v", tt.window, got, tt.want)
		}
	}
}

func TestFormDescription(t *testing.T) {
	tests := []struct {
		form, fitness float64
		want          string
	}{
		{30, 100, "very_fresh"},
		{15, 100, "fresh"},
		{5, 100, "neutral"},
		{-5, 100, "slightly_fatigued"},
		{-20, 100, "building"},
		{-40, 100, "very_fatigued"},
		{5, 0, "no_history"},
	}
	for _, tt := range tests {
		if got := FormDescription(tt.form, tt.fitness); got != tt.want {
			t.Errorf("FormDescription(%v, %v) = %q, want %q", tt.form, tt.fitness, got, tt.want)
		}
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC)
	if got := DaysBetween(a, b); got != 2 {
		t.Errorf("DaysBetween = %d, want 2", got)
	}
	if got := DaysBetween(b, a); got != -2 {
		t.Errorf("DaysBetween reversed = %d, want -2", got)
	}
}
