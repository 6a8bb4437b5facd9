package enforce

import (
	"slices"
	"testing"
)

func strategist() *Contract {
	return &Contract{
		ID:        "vex",
		Archetype: "cold_strategist",
		Requirements: Requirements{
			PitchRangeHz:     [2]float64{100, 160},
			MaxPitchVariance: 20,
			MaxTempoBPM:      160,
			MaxRMS:           0.10,
		},
		ForbiddenTraits: []string{"Shouting at allies", "giggling"},
	}
}

func calm() Analysis {
	return Analysis{RMS: 0.05, F0Hz: 130, PitchVarianceHz: 12, TempoBPM: 150, Traits: []string{}}
}

func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		edit       func(*Analysis)
		wantScore  float64
		wantPassed bool
		wantCodes  []string
	}{
		{name: "clean", edit: func(*Analysis) {}, wantScore: 100, wantPassed: true},
		{name: "f0 at lower bound", edit: func(a *Analysis) { a.F0Hz = 100 }, wantScore: 100, wantPassed: true},
		{name: "f0 at upper bound", edit: func(a *Analysis) { a.F0Hz = 160 }, wantScore: 100, wantPassed: true},
		{name: "f0 one hz above", edit: func(a *Analysis) { a.F0Hz = 161 }, wantScore: 75, wantPassed: true, wantCodes: []string{CodePitchRange}},
		{name: "f0 one hz below", edit: func(a *Analysis) { a.F0Hz = 99 }, wantScore: 75, wantPassed: true, wantCodes: []string{CodePitchRange}},
		{name: "variance", edit: func(a *Analysis) { a.PitchVarianceHz = 30 }, wantScore: 80, wantPassed: true, wantCodes: []string{CodePitchVariance}},
		{name: "tempo", edit: func(a *Analysis) { a.TempoBPM = 170 }, wantScore: 90, wantPassed: true, wantCodes: []string{CodeTempo}},
		{name: "loud", edit: func(a *Analysis) { a.RMS = 0.20 }, wantScore: 90, wantPassed: true, wantCodes: []string{CodeLoudness}},
		{
			name: "every soft check",
			edit: func(a *Analysis) {
				a.F0Hz, a.PitchVarianceHz, a.TempoBPM, a.RMS = 200, 30, 170, 0.2
			},
			wantScore:  35,
			wantPassed: false,
			wantCodes:  []string{CodePitchRange, CodePitchVariance, CodeTempo, CodeLoudness},
		},
		{
			name:       "forbidden trait alone fails",
			edit:       func(a *Analysis) { a.Traits = []string{TraitShouting} },
			wantScore:  70,
			wantPassed: false,
			wantCodes:  []string{CodeForbiddenTrait},
		},
		{
			name:       "allowed trait ignored",
			edit:       func(a *Analysis) { a.Traits = []string{TraitMonotone} },
			wantScore:  100,
			wantPassed: true,
		},
		{
			name: "floor at zero",
			edit: func(a *Analysis) {
				a.F0Hz, a.PitchVarianceHz, a.TempoBPM, a.RMS = 200, 30, 170, 0.2
				a.Traits = []string{TraitShouting, "giggling"}
			},
			wantScore:  0,
			wantPassed: false,
			wantCodes:  []string{CodePitchRange, CodePitchVariance, CodeTempo, CodeLoudness, CodeForbiddenTrait, CodeForbiddenTrait},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := calm()
			tt.edit(&a)
			res := Score(strategist(), a)

			if res.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", res.Score, tt.wantScore)
			}
			if res.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", res.Passed, tt.wantPassed)
			}
			wantStatus := StatusFailed
			if tt.wantPassed {
				wantStatus = StatusPassed
			}
			if res.Status != wantStatus {
				t.Errorf("Status = %q, want %q", res.Status, wantStatus)
			}
			var codes []string
			for _, v := range res.Violations {
				codes = append(codes, v.Code)
			}
			if !slices.Equal(codes, tt.wantCodes) {
				t.Errorf("violations = %v, want %v", codes, tt.wantCodes)
			}
		})
	}
}

func TestScore_Severities(t *testing.T) {
	t.Parallel()

	a := calm()
	a.F0Hz, a.RMS = 300, 0.3
	a.Traits = []string{TraitShouting}
	res := Score(strategist(), a)

	want := map[string]Severity{
		CodePitchRange:     SeverityMajor,
		CodeLoudness:       SeverityMinor,
		CodeForbiddenTrait: SeverityCritical,
	}
	for _, v := range res.Violations {
		if v.Severity != want[v.Code] {
			t.Errorf("%s severity = %q, want %q", v.Code, v.Severity, want[v.Code])
		}
		if v.Expected == "" || v.Actual == "" || v.Message == "" {
			t.Errorf("%s has empty fields: %+v", v.Code, v)
		}
	}
}

func TestScore_UncheckedBounds(t *testing.T) {
	t.Parallel()

	a := Analysis{RMS: 0.9, F0Hz: 390, PitchVarianceHz: 200, TempoBPM: 150, Traits: []string{TraitShouting, TraitEmotional}}
	res := Score(&Contract{ID: "open"}, a)
	if res.Score != 100 || !res.Passed || len(res.Violations) != 0 {
		t.Errorf("contract without bounds: %+v", res)
	}
}

// A loud sample against a quiet contract loses exactly the loudness
// penalty and is flagged as shouting.
func TestScore_LoudSample(t *testing.T) {
	t.Parallel()

	c := &Contract{
		ID: "vex",
		Requirements: Requirements{
			PitchRangeHz: [2]float64{100, 200},
			MaxRMS:       0.10,
		},
	}
	a := Analyze(sine(160, 0.2, 1), AnalysisRate, DefaultThresholds())
	res := Score(c, a)

	if res.Score != 90 {
		t.Errorf("Score = %v, want 90 (violations %+v)", res.Score, res.Violations)
	}
	if !slices.Contains(res.Analysis.Traits, TraitShouting) {
		t.Errorf("traits %v missing %q", res.Analysis.Traits, TraitShouting)
	}
	if !res.Passed {
		t.Error("sample should still pass")
	}
}

func TestForbidden(t *testing.T) {
	t.Parallel()

	entries := []string{"  ", "Never Whispering", "emotion"}
	tests := []struct {
		trait  string
		want   string
		wantOK bool
	}{
		{TraitWhispering, "Never Whispering", true},
		{TraitEmotional, "emotion", true},
		{TraitShouting, "", false},
	}
	for _, tt := range tests {
		got, ok := forbidden(tt.trait, entries)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("forbidden(%q) = %q, %v; want %q, %v", tt.trait, got, ok, tt.want, tt.wantOK)
		}
	}
}
