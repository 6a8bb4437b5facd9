package enforce

import (
	"fmt"
	"strings"
)

// Severity ranks a violation. Any critical violation fails the contract.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Status is the overall outcome of one contract evaluation.
type Status string

const (
	StatusPassed        Status = "passed"
	StatusFailed        Status = "failed"
	StatusMissingSample Status = "missing_sample"
	StatusDecodeError   Status = "decode_error"
)

// Violation codes.
const (
	CodePitchRange     = "pitch_out_of_range"
	CodePitchVariance  = "pitch_variance_exceeded"
	CodeTempo          = "tempo_exceeded"
	CodeLoudness       = "loudness_exceeded"
	CodeForbiddenTrait = "forbidden_trait"
)

// Score deductions.
const (
	PenaltyPitchRange     = 25
	PenaltyPitchVariance  = 20
	PenaltyTempo          = 10
	PenaltyLoudness       = 10
	PenaltyForbiddenTrait = 30

	// PassScore is the lowest passing score.
	PassScore = 70
)

// Violation is one failed check.
type Violation struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
}

// Result is the outcome of evaluating one contract.
type Result struct {
	Character  string      `json:"character"`
	Status     Status      `json:"status"`
	Passed     bool        `json:"passed"`
	Score      float64     `json:"score"`
	Sample     string      `json:"sample,omitempty"`
	Analysis   *Analysis   `json:"analysis"`
	Violations []Violation `json:"violations"`
	Error      string      `json:"error,omitempty"`
}

// Score checks a against the contract. Violations are listed in check order:
// pitch range, pitch variance, tempo, loudness, then forbidden traits.
func Score(c *Contract, a Analysis) Result {
	r := c.Requirements
	res := Result{
		Character:  c.ID,
		Analysis:   &a,
		Violations: []Violation{},
	}
	score := 100.0

	if lo, hi := r.PitchRangeHz[0], r.PitchRangeHz[1]; hi > 0 && (a.F0Hz < lo || a.F0Hz > hi) {
		score -= PenaltyPitchRange
		res.Violations = append(res.Violations, Violation{
			Code:     CodePitchRange,
			Severity: SeverityMajor,
			Message:  "fundamental frequency outside the declared pitch range",
			Expected: fmt.Sprintf("%g-%g Hz", lo, hi),
			Actual:   fmt.Sprintf("%.1f Hz", a.F0Hz),
		})
	}
	if r.MaxPitchVariance > 0 && a.PitchVarianceHz > r.MaxPitchVariance {
		score -= PenaltyPitchVariance
		res.Violations = append(res.Violations, Violation{
			Code:     CodePitchVariance,
			Severity: SeverityMajor,
			Message:  "pitch varies more than allowed",
			Expected: fmt.Sprintf("<= %g Hz", r.MaxPitchVariance),
			Actual:   fmt.Sprintf("%.1f Hz", a.PitchVarianceHz),
		})
	}
	if r.MaxTempoBPM > 0 && a.TempoBPM > r.MaxTempoBPM {
		score -= PenaltyTempo
		res.Violations = append(res.Violations, Violation{
			Code:     CodeTempo,
			Severity: SeverityMinor,
			Message:  "speech rate above the declared maximum",
			Expected: fmt.Sprintf("<= %g wpm", r.MaxTempoBPM),
			Actual:   fmt.Sprintf("%.0f wpm", a.TempoBPM),
		})
	}
	if r.MaxRMS > 0 && a.RMS > r.MaxRMS {
		score -= PenaltyLoudness
		res.Violations = append(res.Violations, Violation{
			Code:     CodeLoudness,
			Severity: SeverityMinor,
			Message:  "loudness above the declared ceiling",
			Expected: fmt.Sprintf("<= %.3f RMS", r.MaxRMS),
			Actual:   fmt.Sprintf("%.3f RMS", a.RMS),
		})
	}
	for _, trait := range a.Traits {
		f, ok := forbidden(trait, c.ForbiddenTraits)
		if !ok {
			continue
		}
		score -= PenaltyForbiddenTrait
		res.Violations = append(res.Violations, Violation{
			Code:     CodeForbiddenTrait,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("detected trait %q is forbidden", trait),
			Expected: "not " + f,
			Actual:   trait,
		})
	}

	res.Score = max(score, 0)
	res.Passed = res.Score >= PassScore && !hasCritical(res.Violations)
	res.Status = StatusFailed
	if res.Passed {
		res.Status = StatusPassed
	}
	return res
}

// forbidden returns the first forbidden entry that names trait. Entries are
// free text, so either may contain the other.
func forbidden(trait string, entries []string) (string, bool) {
	t := strings.ToLower(trait)
	for _, e := range entries {
		l := strings.ToLower(strings.TrimSpace(e))
		if l == "" {
			continue
		}
		if strings.Contains(l, t) || strings.Contains(t, l) {
			return e, true
		}
	}
	return "", false
}

func hasCritical(vs []Violation) bool {
	for _, v := range vs {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// unscored builds the result for a sample that could not be analysed.
func unscored(c *Contract, status Status, sample string, err error) Result {
	r := Result{
		Character:  c.ID,
		Status:     status,
		Sample:     sample,
		Violations: []Violation{},
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
