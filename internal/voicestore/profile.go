// Package voicestore persists the voice identity assigned to each character.
//
// A [Profile] records the archetype, gender and per-provider voice handles a
// character speaks with. Profiles are created when a character is authored or
// on its first synthesis, updated when an operator reassigns the voice, and
// never hard-deleted: the [Store] interface deliberately has no Delete.
//
// [MemStore] keeps profiles in memory; [PostgresStore] stores them in a single
// character_voice_profiles table with JSONB columns for the structured fields.
package voicestore

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/MrWong99/castvoice/internal/archetype"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// Sentinel errors returned by [Store] implementations.
var (
	ErrExists   = errors.New("voicestore: profile already exists")
	ErrNotFound = errors.New("voicestore: profile not found")
)

// Profile is the voice identity of one character.
type Profile struct {
	// CharacterID identifies the character. It is the primary key.
	CharacterID string `json:"character_id" yaml:"character_id"`

	// ArchetypeID is the assigned archetype. Empty means the archetype is
	// detected per request from the character's profile text.
	ArchetypeID string `json:"archetype_id" yaml:"archetype_id"`

	// Gender is the voice gender.
	Gender archetype.Gender `json:"gender" yaml:"gender"`

	// VoiceProfile is the catalog voice profile chosen by the matcher.
	VoiceProfile string `json:"voice_profile,omitempty" yaml:"voice_profile,omitempty"`

	// ProviderVoices maps provider name to a provider-native voice handle.
	// Entries here win over the voice registry.
	ProviderVoices map[string]string `json:"provider_voices,omitempty" yaml:"provider_voices,omitempty"`

	// Params overrides resolved synthesis knobs field by field.
	Params tts.VoiceParams `json:"params" yaml:"params"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the profile for consistency and returns every violation
// joined into one error.
func (p *Profile) Validate() error {
	var errs []error
	if p.CharacterID == "" {
		errs = append(errs, errors.New("voicestore: character_id must not be empty"))
	}
	if p.Gender != "" && !p.Gender.IsValid() {
		errs = append(errs, fmt.Errorf("voicestore: gender must be M, F or NB, got %q", p.Gender))
	}
	for name, v := range map[string]float64{
		"stability":         p.Params.Stability,
		"similarity":        p.Params.Similarity,
		"style":             p.Params.Style,
		"emotion_intensity": p.Params.EmotionIntensity,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("voicestore: params %s must be in [0, 1], got %g", name, v))
		}
	}
	if s := p.Params.Speed; s != 0 && (s < 0.5 || s > 2) {
		errs = append(errs, fmt.Errorf("voicestore: params speed must be in [0.5, 2.0], got %g", s))
	}
	for name, h := range p.ProviderVoices {
		if h == "" {
			errs = append(errs, fmt.Errorf("voicestore: provider_voices %q has an empty handle", name))
		}
	}
	return errors.Join(errs...)
}

// clone returns a deep copy of p.
func (p *Profile) clone() *Profile {
	c := *p
	c.ProviderVoices = maps.Clone(p.ProviderVoices)
	return &c
}
