// Package archetype holds the voice archetype catalog and the matcher that
// maps a character's free-text profile onto an archetype and a gender.
//
// A [Catalog] is immutable after loading and safe for concurrent use. The
// [Matcher] is a pure function of its catalog and input: it performs no I/O
// and has no hidden state, so identical input always yields an identical
// [Match].
package archetype

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// EmotionalRange buckets how much expressive variation an archetype allows.
type EmotionalRange string

const (
	RangeMinimal EmotionalRange = "minimal"
	RangeNarrow  EmotionalRange = "narrow"
	RangeMedium  EmotionalRange = "medium"
	RangeWide    EmotionalRange = "wide"
)

// IsValid reports whether r is a known bucket.
func (r EmotionalRange) IsValid() bool {
	switch r {
	case RangeMinimal, RangeNarrow, RangeMedium, RangeWide:
		return true
	}
	return false
}

// VoiceProfile is a provider-agnostic description of the voice a character
// should get.
type VoiceProfile struct {
	ID          string  `yaml:"id" json:"id"`
	Description string  `yaml:"description" json:"description"`
	BasePitchHz float64 `yaml:"base_pitch_hz" json:"base_pitch_hz"`
}

// Archetype is a named bucket of acoustic and personality traits.
type Archetype struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name" json:"name"`
	PitchRangeHz   [2]float64     `yaml:"pitch_range_hz" json:"pitch_range_hz"`
	TempoBPM       [2]float64     `yaml:"tempo_bpm" json:"tempo_bpm"`
	MaxRMS         float64        `yaml:"max_rms" json:"max_rms"`
	EmotionalRange EmotionalRange `yaml:"emotional_range" json:"emotional_range"`
	Qualities      []string       `yaml:"qualities" json:"qualities"`
	CharacterTypes []string       `yaml:"character_types" json:"character_types"`
	Keywords       []string       `yaml:"keywords" json:"keywords,omitempty"`

	// VoiceProfiles maps a gender to this archetype's voice. Genders without
	// an entry use the catalog's default profiles.
	VoiceProfiles map[Gender]VoiceProfile `yaml:"voice_profiles,omitempty" json:"-"`
}

// catalogFile is the on-disk layout of a catalog document.
type catalogFile struct {
	Version         int                     `yaml:"version"`
	Default         string                  `yaml:"default"`
	DefaultProfiles map[Gender]VoiceProfile `yaml:"default_profiles"`
	Archetypes      []Archetype             `yaml:"archetypes"`
}

// Catalog is the ordered, immutable table of archetypes.
type Catalog struct {
	version         int
	defaultID       string
	defaultProfiles map[Gender]VoiceProfile
	archetypes      []Archetype
	byID            map[string]int
}

// Embedded returns the catalog compiled into the binary.
func Embedded() (*Catalog, error) {
	return LoadFromReader(bytes.NewReader(embeddedCatalog))
}

// Load reads and validates a catalog file from disk.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archetype: open catalog %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("archetype: load catalog %q: %w", path, err)
	}
	return c, nil
}

// LoadFromReader parses and validates catalog YAML from r.
func LoadFromReader(r io.Reader) (*Catalog, error) {
	var cf catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("archetype: decode catalog yaml: %w", err)
	}
	return New(cf.Version, cf.Default, cf.DefaultProfiles, cf.Archetypes)
}

// New builds a catalog from already-parsed archetypes. Order is preserved and
// is significant for tie-breaking.
func New(version int, defaultID string, defaultProfiles map[Gender]VoiceProfile, archetypes []Archetype) (*Catalog, error) {
	c := &Catalog{
		version:         version,
		defaultID:       defaultID,
		defaultProfiles: make(map[Gender]VoiceProfile, len(defaultProfiles)),
		archetypes:      make([]Archetype, 0, len(archetypes)),
		byID:            make(map[string]int, len(archetypes)),
	}
	for g, p := range defaultProfiles {
		c.defaultProfiles[g] = p
	}

	var errs []error
	for i, a := range archetypes {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("archetypes[%d]: id is required", i))
			continue
		}
		if _, dup := c.byID[a.ID]; dup {
			errs = append(errs, fmt.Errorf("archetypes[%d]: duplicate id %q", i, a.ID))
			continue
		}
		if !a.EmotionalRange.IsValid() {
			errs = append(errs, fmt.Errorf("archetype %q: invalid emotional_range %q", a.ID, a.EmotionalRange))
		}
		if a.PitchRangeHz[0] <= 0 || a.PitchRangeHz[0] >= a.PitchRangeHz[1] {
			errs = append(errs, fmt.Errorf("archetype %q: pitch_range_hz must be [min, max] with 0 < min < max", a.ID))
		}
		if a.TempoBPM[0] < 0 || a.TempoBPM[0] > a.TempoBPM[1] {
			errs = append(errs, fmt.Errorf("archetype %q: tempo_bpm must be [min, max]", a.ID))
		}
		if a.MaxRMS <= 0 || a.MaxRMS > 1 {
			errs = append(errs, fmt.Errorf("archetype %q: max_rms must be in (0, 1]", a.ID))
		}
		for g := range a.VoiceProfiles {
			if !g.IsValid() {
				errs = append(errs, fmt.Errorf("archetype %q: voice profile for unknown gender %q", a.ID, g))
			}
		}

		a.Keywords = lowerAll(a.Keywords)
		c.byID[a.ID] = len(c.archetypes)
		c.archetypes = append(c.archetypes, a)
	}

	if defaultID == "" {
		errs = append(errs, errors.New("default archetype is required"))
	} else if _, ok := c.byID[defaultID]; !ok {
		errs = append(errs, fmt.Errorf("default archetype %q is not in the catalog", defaultID))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("archetype: invalid catalog: %w", err)
	}
	return c, nil
}

// Version returns the catalog document version.
func (c *Catalog) Version() int { return c.version }

// Len returns the number of archetypes.
func (c *Catalog) Len() int { return len(c.archetypes) }

// Get returns the archetype with the given id.
func (c *Catalog) Get(id string) (Archetype, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Archetype{}, false
	}
	return c.archetypes[i], true
}

// Default returns the fallback archetype used when nothing matches.
func (c *Catalog) Default() Archetype {
	return c.archetypes[c.byID[c.defaultID]]
}

// All returns the archetypes in catalog order. The returned slice is a copy.
func (c *Catalog) All() []Archetype {
	out := make([]Archetype, len(c.archetypes))
	copy(out, c.archetypes)
	return out
}

// IDs returns the archetype ids in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.archetypes))
	for i, a := range c.archetypes {
		ids[i] = a.ID
	}
	return ids
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
