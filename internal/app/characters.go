package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/MrWong99/castvoice/internal/archetype"
	"github.com/MrWong99/castvoice/internal/config"
	"github.com/MrWong99/castvoice/internal/synth"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// Characters is a [synth.CharacterSource] whose contents can be swapped while
// requests are in flight. Readers always see one complete snapshot.
//
// Ids missing from the configured set are looked up in the fallback source,
// when one is set.
type Characters struct {
	set      atomic.Pointer[synth.StaticCharacters]
	fallback synth.CharacterSource
}

// NewCharacters returns a source holding the characters in cfg.
func NewCharacters(cfg []config.CharacterConfig) *Characters {
	c := &Characters{}
	c.Replace(cfg)
	return c
}

// Character implements [synth.CharacterSource].
func (c *Characters) Character(ctx context.Context, id string) (synth.Character, error) {
	ch, err := c.set.Load().Character(ctx, id)
	if errors.Is(err, synth.ErrUnknownCharacter) && c.fallback != nil {
		return c.fallback.Character(ctx, id)
	}
	return ch, err
}

// Replace swaps in a new snapshot built from cfg. Reference clips are read
// here; a character whose clip cannot be read is kept without one.
func (c *Characters) Replace(cfg []config.CharacterConfig) {
	set := make(synth.StaticCharacters, len(cfg))
	for _, cc := range cfg {
		set[cc.ID] = characterFromConfig(cc)
	}
	c.set.Store(&set)
}

// Len returns the number of characters in the current snapshot.
func (c *Characters) Len() int {
	return len(*c.set.Load())
}

func characterFromConfig(cc config.CharacterConfig) synth.Character {
	// Validate already rejected unparseable genders.
	g, _ := archetype.ParseGender(cc.Gender)
	return synth.Character{
		ID:          cc.ID,
		Name:        cc.Name,
		Description: cc.Description,
		Category:    cc.Category,
		Keywords:    cc.Keywords,
		Archetype:   cc.Archetype,
		Gender:      g,
		Accent:      cc.Accent,
		Providers:   cc.Providers,
		Reference:   loadReference(cc),
	}
}

func loadReference(cc config.CharacterConfig) *tts.Reference {
	if cc.Reference == nil || cc.Reference.Path == "" {
		return nil
	}
	data, err := os.ReadFile(cc.Reference.Path)
	if err != nil {
		slog.Warn("reference clip unreadable, character keeps its registered voice",
			"character", cc.ID, "path", cc.Reference.Path, "err", err)
		return nil
	}
	name := cc.Reference.Name
	if name == "" {
		name = cc.ID
	}
	return &tts.Reference{Name: name, Audio: data, Transcript: cc.Reference.Transcript}
}

// preferencesFromConfig converts the synthesis section into orchestrator
// preferences, starting from the defaults.
func preferencesFromConfig(sc config.SynthesisConfig) synth.Preferences {
	p := synth.DefaultPreferences()
	p.DefaultOrder = sc.DefaultOrder
	p.AccentOrder = sc.AccentOrder
	if sc.Retries != nil {
		p.Retries = *sc.Retries
	}
	if sc.RetryBackoff > 0 {
		p.RetryBackoff = sc.RetryBackoff
	}
	return p
}
