package synth

import (
	"log/slog"
	"time"

	"github.com/MrWong99/castvoice/internal/voice"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// State is a step in the life of one synthesis request.
type State int

const (
	StateIdle State = iota
	StateProviderSelected
	StateSynthesizing
	StateRetrying
	StateFailedOver
	StateSucceeded
	StateFailed
)

// String returns the snake_case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProviderSelected:
		return "provider_selected"
	case StateSynthesizing:
		return "synthesizing"
	case StateRetrying:
		return "retrying"
	case StateFailedOver:
		return "failed_over"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request is one synthesis request.
type Request struct {
	Text        string `json:"text"`
	CharacterID string `json:"character_id"`

	// ProviderOverride, if set, is tried before the character's order.
	ProviderOverride string `json:"provider,omitempty"`

	// MessageID ties the audio to a chat message. Generated when empty.
	MessageID string `json:"message_id,omitempty"`
}

// Attempt records one adapter call.
type Attempt struct {
	Provider string
	VoiceID  string
	Err      error
	Elapsed  time.Duration
}

// Kind returns the error kind of the attempt, or "ok".
func (a Attempt) Kind() string {
	if a.Err == nil {
		return "ok"
	}
	if k, ok := tts.KindOf(a.Err); ok {
		return k.String()
	}
	return "error"
}

// Outcome describes how a request ended. It is returned even when no audio
// was produced.
type Outcome struct {
	State       State
	CharacterID string
	MessageID   string

	// Provider is the adapter that produced the audio, if any.
	Provider string

	// Resolution is the voice resolution used for the successful attempt.
	Resolution voice.Resolution

	// DefaultVoice is true when the audio was rendered with the default voice
	// after the character's own voice was rejected.
	DefaultVoice bool

	Attempts []Attempt
	Elapsed  time.Duration
}

// LogValue implements [slog.LogValuer].
func (o Outcome) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("state", o.State.String()),
		slog.String("character_id", o.CharacterID),
		slog.String("message_id", o.MessageID),
		slog.String("provider", o.Provider),
		slog.Int("attempts", len(o.Attempts)),
		slog.Duration("elapsed", o.Elapsed),
	)
}
