package enforce

import (
	"math"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/castvoice/pkg/audio"
)

// AnalysisRate is the sample rate every sample is converted to before
// analysis.
const AnalysisRate = 16000

// Detected traits.
const (
	TraitShouting   = "shouting"
	TraitWhispering = "whispering"
	TraitEmotional  = "emotional"
	TraitMonotone   = "monotone"
)

// Thresholds holds the tunable constants of the analysis.
type Thresholds struct {
	// MinF0Hz and MaxF0Hz bound the autocorrelation lag window.
	MinF0Hz float64 `yaml:"min_f0_hz" json:"min_f0_hz"`
	MaxF0Hz float64 `yaml:"max_f0_hz" json:"max_f0_hz"`

	// Segment estimates outside [SanityMinHz, SanityMaxHz] are discarded. A
	// whole-sample estimate outside the band is replaced by the median of
	// the valid segment estimates.
	SanityMinHz float64 `yaml:"sanity_min_hz" json:"sanity_min_hz"`
	SanityMaxHz float64 `yaml:"sanity_max_hz" json:"sanity_max_hz"`

	// Segments is the number of equal windows used for pitch variance.
	Segments int `yaml:"segments" json:"segments"`

	// WordsPerSecond drives the tempo estimate. The estimate is a fixed
	// speech-rate assumption, not a measurement.
	WordsPerSecond float64 `yaml:"words_per_second" json:"words_per_second"`

	ShoutingRMS         float64 `yaml:"shouting_rms" json:"shouting_rms"`
	WhisperingRMS       float64 `yaml:"whispering_rms" json:"whispering_rms"`
	EmotionalVarianceHz float64 `yaml:"emotional_variance_hz" json:"emotional_variance_hz"`
	MonotoneVarianceHz  float64 `yaml:"monotone_variance_hz" json:"monotone_variance_hz"`
	MonotoneMinSegments int     `yaml:"monotone_min_segments" json:"monotone_min_segments"`
}

// DefaultThresholds returns the thresholds used unless configured otherwise.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinF0Hz:             70,
		MaxF0Hz:             400,
		SanityMinHz:         50,
		SanityMaxHz:         400,
		Segments:            8,
		WordsPerSecond:      2.5,
		ShoutingRMS:         0.15,
		WhisperingRMS:       0.02,
		EmotionalVarianceHz: 80,
		MonotoneVarianceHz:  10,
		MonotoneMinSegments: 2,
	}
}

// UnmarshalYAML decodes a partial override on top of [DefaultThresholds].
func (t *Thresholds) UnmarshalYAML(value *yaml.Node) error {
	type plain Thresholds
	p := plain(DefaultThresholds())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = Thresholds(p)
	return nil
}

// Analysis holds the features extracted from one sample.
type Analysis struct {
	DurationSec     float64   `json:"duration_s"`
	RMS             float64   `json:"rms"`
	F0Hz            float64   `json:"f0_hz"`
	PitchVarianceHz float64   `json:"pitch_variance_hz"`
	SegmentF0Hz     []float64 `json:"segment_f0_hz"`
	TempoBPM        float64   `json:"tempo_bpm"`
	Traits          []string  `json:"detected_traits"`
}

// Analyze extracts features from mono 16-bit samples at sampleRate.
func Analyze(samples []int16, sampleRate int, th Thresholds) Analysis {
	a := Analysis{
		DurationSec: audio.Duration(len(samples), sampleRate).Seconds(),
		RMS:         rms(samples),
	}
	if a.DurationSec > 0 {
		words := th.WordsPerSecond * a.DurationSec
		a.TempoBPM = words / a.DurationSec * 60
	}

	a.F0Hz = estimateF0(samples, sampleRate, th.MinF0Hz, th.MaxF0Hz)

	valid := make([]float64, 0, th.Segments)
	if th.Segments > 0 {
		size := len(samples) / th.Segments
		for i := range th.Segments {
			if size == 0 {
				break
			}
			f := estimateF0(samples[i*size:(i+1)*size], sampleRate, th.MinF0Hz, th.MaxF0Hz)
			if f >= th.SanityMinHz && f <= th.SanityMaxHz {
				valid = append(valid, f)
			}
		}
	}
	a.SegmentF0Hz = valid
	if len(valid) > 0 {
		a.PitchVarianceHz = slices.Max(valid) - slices.Min(valid)
	}
	if a.F0Hz < th.SanityMinHz || a.F0Hz > th.SanityMaxHz {
		a.F0Hz = median(valid)
	}

	a.Traits = traits(a, len(valid), th)
	return a
}

func traits(a Analysis, validSegments int, th Thresholds) []string {
	out := []string{}
	switch {
	case a.RMS > th.ShoutingRMS:
		out = append(out, TraitShouting)
	case a.RMS < th.WhisperingRMS:
		out = append(out, TraitWhispering)
	}
	switch {
	case a.PitchVarianceHz > th.EmotionalVarianceHz:
		out = append(out, TraitEmotional)
	case a.PitchVarianceHz < th.MonotoneVarianceHz && validSegments >= th.MonotoneMinSegments:
		out = append(out, TraitMonotone)
	}
	return out
}

// rms returns the root mean square of samples normalised to [0, 1].
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// estimateF0 picks the lag in [rate/maxHz, rate/minHz] with the strongest
// autocorrelation and returns rate/lag. It returns 0 when no lag correlates
// positively.
func estimateF0(samples []int16, sampleRate int, minHz, maxHz float64) float64 {
	if sampleRate <= 0 || minHz <= 0 || maxHz <= minHz {
		return 0
	}
	minLag := int(float64(sampleRate) / maxHz)
	maxLag := int(float64(sampleRate) / minHz)
	minLag = max(minLag, 1)
	maxLag = min(maxLag, len(samples)-1)
	if minLag > maxLag {
		return 0
	}

	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}

	bestLag, best := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var sum float64
		for i := 0; i+lag < len(x); i++ {
			sum += x[i] * x[i+lag]
		}
		if sum > best {
			best, bestLag = sum, lag
		}
	}
	if bestLag == 0 {
		return 0
	}
	return float64(sampleRate) / float64(bestLag)
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := slices.Clone(v)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
