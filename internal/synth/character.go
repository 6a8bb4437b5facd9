package synth

import (
	"context"
	"errors"

	"github.com/MrWong99/castvoice/internal/archetype"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// ErrUnknownCharacter is returned by a [CharacterSource] that has no record
// of the requested character.
var ErrUnknownCharacter = errors.New("synth: unknown character")

// Character is the character metadata the orchestrator needs. The full
// persona lives in an external store; only the voice-relevant part is here.
type Character struct {
	ID          string
	Name        string
	Description string
	Category    string
	Keywords    []string

	// Archetype pins the archetype. Empty lets the matcher decide.
	Archetype string

	// Gender pins the voice gender. Empty lets the matcher infer it.
	Gender archetype.Gender

	// Accent marks characters whose voice relies on a regional accent. They
	// use the accent provider order.
	Accent bool

	// Providers is the character's own provider order.
	Providers []string

	// Reference is a recording of the character's voice. Zero-shot adapters
	// upload it once and imitate it; other adapters ignore it.
	Reference *tts.Reference
}

// CharacterSource looks up characters by id.
type CharacterSource interface {
	Character(ctx context.Context, id string) (Character, error)
}

// StaticCharacters is a [CharacterSource] over a fixed set, typically loaded
// from configuration.
type StaticCharacters map[string]Character

// Character implements [CharacterSource].
func (s StaticCharacters) Character(_ context.Context, id string) (Character, error) {
	c, ok := s[id]
	if !ok {
		return Character{ID: id}, ErrUnknownCharacter
	}
	return c, nil
}
