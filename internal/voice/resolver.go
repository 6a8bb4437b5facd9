// Package voice turns an archetype and a provider into provider-specific
// voice parameters.
//
// Resolution consults, in order, a curated per-archetype override table and a
// coarse table keyed by the archetype's emotional range. The voice handle
// itself comes from the [Registry]; archetypes without a handle for the
// provider get the [tts.DefaultVoice] sentinel and are reported as "default"
// in logs and metrics so operators can spot unmapped characters.
package voice

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/castvoice/internal/archetype"
	"github.com/MrWong99/castvoice/internal/observe"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// DefaultLabel is the archetype label used in logs and metrics when the
// default voice handle was emitted.
const DefaultLabel = "default"

// Source names where resolved parameters came from.
type Source string

const (
	SourceOverride       Source = "override"
	SourceEmotionalRange Source = "emotional_range"
	SourceFallback       Source = "fallback"
)

// Override is a curated parameter set for one archetype. Models optionally
// pins a model per provider.
type Override struct {
	Params tts.VoiceParams
	Models map[string]string
}

// DefaultOverrides covers the archetypes that need finer control than their
// emotional range gives them.
var DefaultOverrides = map[string]Override{
	"cold_strategist": {
		Params: tts.VoiceParams{Stability: 0.9, Similarity: 0.85, Style: 0.05, EmotionIntensity: 0.1, Speed: 0.95},
		Models: map[string]string{"elevenlabs": "eleven_multilingual_v2"},
	},
	"wise_mentor": {
		Params: tts.VoiceParams{Stability: 0.75, Similarity: 0.8, Style: 0.2, EmotionIntensity: 0.35, Speed: 0.9},
	},
	"hype_man": {
		Params: tts.VoiceParams{Stability: 0.25, Similarity: 0.7, Style: 0.8, EmotionIntensity: 0.95, Paralinguistic: true, Speed: 1.1},
		Models: map[string]string{"elevenlabs": "eleven_v3", "openai": "gpt-4o-mini-tts"},
	},
}

// RangeDefaults maps each emotional range to a baseline parameter set, from
// most stable and least expressive to least stable and most expressive.
var RangeDefaults = map[archetype.EmotionalRange]tts.VoiceParams{
	archetype.RangeMinimal: {Stability: 0.85, Similarity: 0.8, Style: 0.0, EmotionIntensity: 0.1},
	archetype.RangeNarrow:  {Stability: 0.7, Similarity: 0.75, Style: 0.15, EmotionIntensity: 0.3},
	archetype.RangeMedium:  {Stability: 0.5, Similarity: 0.75, Style: 0.35, EmotionIntensity: 0.5},
	archetype.RangeWide:    {Stability: 0.3, Similarity: 0.7, Style: 0.6, EmotionIntensity: 0.8},
}

// Resolution describes how a voice was resolved.
type Resolution struct {
	// ArchetypeID is the archetype the parameters were derived from, or
	// empty when none could be determined.
	ArchetypeID string
	// Label is ArchetypeID, or [DefaultLabel] when the default voice handle
	// was used.
	Label string
	// Source says which table supplied the parameters.
	Source Source
	// Detected is true when the archetype came from the keyword classifier.
	Detected bool
}

// Character is the subset of character metadata the resolver needs.
type Character struct {
	ID          string
	Name        string
	Description string
	Category    string
	Keywords    []string
	// Archetype is the stored archetype; empty means auto-detect.
	Archetype string
	// Voices are per-provider handles that win over the registry.
	Voices map[string]string
	// Params, when non-zero, override the resolved knobs field by field.
	Params tts.VoiceParams
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithOverrides replaces the override table.
func WithOverrides(o map[string]Override) Option {
	return func(r *Resolver) { r.overrides = o }
}

// WithClassifier replaces the fallback keyword classifier.
func WithClassifier(c *Classifier) Option {
	return func(r *Resolver) { r.classifier = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// Resolver maps archetypes to provider voice parameters. It holds no mutable
// state of its own; the registry it reads is safe for concurrent use.
type Resolver struct {
	catalog    *archetype.Catalog
	registry   *Registry
	overrides  map[string]Override
	classifier *Classifier
	metrics    *observe.Metrics
}

// NewResolver creates a Resolver. A nil registry behaves like an empty one.
func NewResolver(catalog *archetype.Catalog, registry *Registry, opts ...Option) *Resolver {
	if registry == nil {
		registry = NewRegistry()
	}
	r := &Resolver{
		catalog:   catalog,
		registry:  registry,
		overrides: DefaultOverrides,
	}
	for _, o := range opts {
		o(r)
	}
	if r.classifier == nil {
		r.classifier = NewClassifier()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Registry returns the registry the resolver reads handles from.
func (r *Resolver) Registry() *Registry { return r.registry }

// Resolve returns voice parameters for archetypeID on providerID.
func (r *Resolver) Resolve(ctx context.Context, archetypeID, providerID string) (tts.VoiceParams, Resolution) {
	return r.resolve(ctx, archetypeID, providerID, "")
}

// resolve does the lookup; a non-empty handle replaces the registry lookup.
func (r *Resolver) resolve(ctx context.Context, archetypeID, providerID, handle string) (tts.VoiceParams, Resolution) {
	res := Resolution{ArchetypeID: archetypeID, Label: archetypeID}

	var params tts.VoiceParams
	a, known := r.catalog.Get(archetypeID)
	switch o, ok := r.overrides[archetypeID]; {
	case ok:
		params = o.Params
		params.Model = o.Models[providerID]
		res.Source = SourceOverride
	case known:
		params = RangeDefaults[a.EmotionalRange]
		res.Source = SourceEmotionalRange
	default:
		params = RangeDefaults[archetype.RangeMedium]
		res.Source = SourceFallback
	}

	if handle == "" && known {
		handle, _ = r.registry.VoiceFor(archetypeID, providerID)
	}
	if handle != "" {
		params.VoiceID = handle
		return params, res
	}

	params.VoiceID = tts.DefaultVoice
	res.Label = DefaultLabel
	observe.Logger(ctx).Warn("voice: no voice handle registered, using default voice",
		"archetype", archetypeID, "provider", providerID)
	r.metrics.RecordUnmappedVoice(ctx, DefaultLabel, providerID)
	return params, res
}

// ResolveCharacter resolves the voice for a character. The archetype is taken
// from the character, then from the registry, then from the keyword
// classifier; when all of them come up empty the default voice is used.
// Per-character handles and parameters win over archetype values.
func (r *Resolver) ResolveCharacter(ctx context.Context, c Character, providerID string) (tts.VoiceParams, Resolution) {
	archetypeID := c.Archetype
	if archetypeID == "" {
		if e, ok := r.registry.Character(c.ID); ok && e.Status == StatusMapped {
			archetypeID = e.Archetype
		}
	}
	detected := false
	if archetypeID == "" {
		text := strings.Join(append([]string{c.Name, c.Description, c.Category}, c.Keywords...), " ")
		if id, ok := r.classifier.Detect(text); ok {
			archetypeID, detected = id, true
			observe.Logger(ctx).Debug("voice: archetype detected from profile text",
				"character_id", c.ID, "archetype", id)
		}
	}

	params, res := r.resolve(ctx, archetypeID, providerID, c.Voices[providerID])
	res.Detected = detected
	return mergeParams(params, c.Params), res
}

// mergeParams overlays the non-zero fields of o onto p.
func mergeParams(p, o tts.VoiceParams) tts.VoiceParams {
	if o.VoiceID != "" {
		p.VoiceID = o.VoiceID
	}
	if o.Stability != 0 {
		p.Stability = o.Stability
	}
	if o.Similarity != 0 {
		p.Similarity = o.Similarity
	}
	if o.Style != 0 {
		p.Style = o.Style
	}
	if o.EmotionIntensity != 0 {
		p.EmotionIntensity = o.EmotionIntensity
	}
	if o.Paralinguistic {
		p.Paralinguistic = true
	}
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.Speed != 0 {
		p.Speed = o.Speed
	}
	return p
}

// LogValue implements [slog.LogValuer].
func (res Resolution) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("archetype", res.Label),
		slog.String("source", string(res.Source)),
		slog.Bool("detected", res.Detected),
	)
}
