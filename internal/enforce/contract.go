// Package enforce scores rendered voice samples against per-character voice
// contracts.
//
// A [Contract] declares the acoustic bounds a character's voice must stay
// within and the traits it must never show. [Analyze] extracts loudness,
// pitch, pitch variance and a tempo estimate from a sample, [Score] turns the
// analysis into a [Result], and [Pipeline] runs every contract of a directory
// in sequence and writes the results as a JSON array.
//
// Violations are data. A failing contract is a normal result, never an error.
package enforce

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/castvoice/internal/archetype"
)

// Requirements are the measurable bounds of a contract. A zero bound is not
// checked.
type Requirements struct {
	Gender           archetype.Gender `yaml:"gender" json:"gender,omitempty"`
	AgeRange         [2]int           `yaml:"age_range" json:"age_range"`
	PitchRangeHz     [2]float64       `yaml:"pitch_range_hz" json:"pitch_range_hz"`
	MaxPitchVariance float64          `yaml:"max_pitch_variance" json:"max_pitch_variance"`
	MaxTempoBPM      float64          `yaml:"max_tempo_bpm" json:"max_tempo_bpm"`
	MaxRMS           float64          `yaml:"max_rms" json:"max_rms"`
}

// Contract is the voice contract of one character. Contracts are authored by
// hand and never modified by the pipeline.
type Contract struct {
	ID              string       `yaml:"id" json:"id"`
	DisplayName     string       `yaml:"display_name" json:"display_name"`
	Archetype       string       `yaml:"archetype" json:"archetype"`
	PsychProfile    string       `yaml:"psych_profile" json:"psych_profile"`
	Requirements    Requirements `yaml:"voice_requirements" json:"voice_requirements"`
	ForbiddenTraits []string     `yaml:"forbidden_traits" json:"forbidden_traits"`
	TestScript      string       `yaml:"test_script" json:"test_script"`
}

// Validate checks the contract for structural errors. All problems are
// reported together.
func (c *Contract) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	r := c.Requirements
	if r.Gender != "" && !r.Gender.IsValid() {
		errs = append(errs, fmt.Errorf("voice_requirements.gender %q is not one of M, F, NB", r.Gender))
	}
	if r.AgeRange[0] < 0 || r.AgeRange[0] > r.AgeRange[1] {
		errs = append(errs, errors.New("voice_requirements.age_range must be [min, max]"))
	}
	if r.PitchRangeHz != [2]float64{} && (r.PitchRangeHz[0] <= 0 || r.PitchRangeHz[0] > r.PitchRangeHz[1]) {
		errs = append(errs, errors.New("voice_requirements.pitch_range_hz must be [min, max] with 0 < min <= max"))
	}
	if r.MaxPitchVariance < 0 {
		errs = append(errs, errors.New("voice_requirements.max_pitch_variance must not be negative"))
	}
	if r.MaxTempoBPM < 0 {
		errs = append(errs, errors.New("voice_requirements.max_tempo_bpm must not be negative"))
	}
	if r.MaxRMS < 0 || r.MaxRMS > 1 {
		errs = append(errs, errors.New("voice_requirements.max_rms must be in [0, 1]"))
	}
	for i, t := range c.ForbiddenTraits {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, fmt.Errorf("forbidden_traits[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

// LoadContract reads and validates a contract file.
func LoadContract(path string) (*Contract, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("enforce: open contract: %w", err)
	}
	defer f.Close()

	c, err := LoadContractFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("enforce: load contract %q: %w", path, err)
	}
	return c, nil
}

// LoadContractFromReader parses and validates a YAML contract from r.
func LoadContractFromReader(r io.Reader) (*Contract, error) {
	var c Contract
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode contract yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid contract: %w", err)
	}
	return &c, nil
}

// LoadContracts loads every *.yaml and *.yml file in dir, ordered by file
// name. Duplicate ids are an error.
func LoadContracts(dir string) ([]*Contract, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("enforce: read contracts: %w", err)
	}

	var (
		out  []*Contract
		errs []error
		seen = make(map[string]string)
	)
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		c, err := LoadContract(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := seen[c.ID]; dup {
			errs = append(errs, fmt.Errorf("enforce: contract id %q in both %s and %s", c.ID, prev, e.Name()))
			continue
		}
		seen[c.ID] = e.Name()
		out = append(out, c)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
