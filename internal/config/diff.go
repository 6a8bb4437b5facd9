package config

import (
	"reflect"
	"slices"
	"strings"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	CharactersChanged bool            // true if any character was added, removed or edited
	CharacterChanges  []CharacterDiff // per-character diffs, sorted by id
	SynthesisChanged  bool            // provider order or retry rules changed
	LogLevelChanged   bool
	NewLogLevel       LogLevel

	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// CharacterDiff describes what changed for a single character between two
// configs.
type CharacterDiff struct {
	ID               string
	VoiceChanged     bool // archetype, gender, description, keywords, category or reference
	ProvidersChanged bool // own provider order or accent flag
	Added            bool
	Removed          bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Synthesis rules
	if !synthesisEqual(old.Synthesis, new.Synthesis) {
		d.SynthesisChanged = true
	}

	// Build character lookup maps keyed by id.
	oldChars := make(map[string]*CharacterConfig, len(old.Characters))
	for i := range old.Characters {
		oldChars[old.Characters[i].ID] = &old.Characters[i]
	}
	newChars := make(map[string]*CharacterConfig, len(new.Characters))
	for i := range new.Characters {
		newChars[new.Characters[i].ID] = &new.Characters[i]
	}

	// Detect modified and removed characters.
	for id, oc := range oldChars {
		nc, exists := newChars[id]
		if !exists {
			d.CharacterChanges = append(d.CharacterChanges, CharacterDiff{ID: id, Removed: true})
			continue
		}
		cd := diffCharacter(id, oc, nc)
		if cd.VoiceChanged || cd.ProvidersChanged {
			d.CharacterChanges = append(d.CharacterChanges, cd)
		}
	}

	// Detect added characters.
	for id := range newChars {
		if _, exists := oldChars[id]; !exists {
			d.CharacterChanges = append(d.CharacterChanges, CharacterDiff{ID: id, Added: true})
		}
	}
	d.CharactersChanged = len(d.CharacterChanges) > 0
	slices.SortFunc(d.CharacterChanges, func(a, b CharacterDiff) int { return strings.Compare(a.ID, b.ID) })

	// Sections the running server does not reload.
	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Catalog != new.Catalog || old.Registry != new.Registry {
		d.RestartRequired = append(d.RestartRequired, "catalog")
	}

	return d
}

// diffCharacter compares two character configs with the same id.
func diffCharacter(id string, old, new *CharacterConfig) CharacterDiff {
	cd := CharacterDiff{ID: id}
	if old.Name != new.Name || old.Description != new.Description || old.Category != new.Category ||
		old.Archetype != new.Archetype || old.Gender != new.Gender || !slices.Equal(old.Keywords, new.Keywords) ||
		!referenceEqual(old.Reference, new.Reference) {
		cd.VoiceChanged = true
	}
	if old.Accent != new.Accent || !slices.Equal(old.Providers, new.Providers) {
		cd.ProvidersChanged = true
	}
	return cd
}

func synthesisEqual(a, b SynthesisConfig) bool {
	retries := func(p *int) int {
		if p == nil {
			return -1
		}
		return *p
	}
	return slices.Equal(a.DefaultOrder, b.DefaultOrder) &&
		slices.Equal(a.AccentOrder, b.AccentOrder) &&
		retries(a.Retries) == retries(b.Retries) &&
		a.RetryBackoff == b.RetryBackoff
}

func referenceEqual(a, b *ReferenceConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b []ProviderEntry) bool {
	return slices.EqualFunc(a, b, func(x, y ProviderEntry) bool {
		if len(x.Options) == 0 && len(y.Options) == 0 {
			x.Options, y.Options = nil, nil
		}
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model &&
			x.Timeout == y.Timeout && x.RateLimit == y.RateLimit && reflect.DeepEqual(x.Options, y.Options)
	})
}
