// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (a cloud voice-cloning API,
// a self-hosted GPU inference pod, a zero-shot reference-audio service, or a
// job-queue renderer) and presents one normalised call: Synthesize takes text
// plus provider-native voice parameters and returns a complete audio clip.
//
// Failures are reported as [*Error] values carrying an [ErrorKind], so callers
// can decide between retrying, failing over, or giving up without knowing
// anything about the backend's wire protocol.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (e.g., several characters rendering at once).
type Provider interface {
	// Name returns the registry name of the backend (e.g., "elevenlabs").
	Name() string

	// Configured reports whether the provider has the credentials and endpoint
	// it needs. It must not perform network I/O. A nil return does not imply
	// the backend is reachable.
	Configured() error

	// Synthesize renders req.Text with req.Voice and returns the complete clip.
	// Errors are *Error values whose Kind tells the caller how to react.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}

// HealthChecker is implemented by providers that expose a liveness probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// StreamProvider is implemented by providers that can emit audio while the
// text is still being rendered. The returned channel carries raw PCM at the
// provider's native rate and is closed when synthesis ends or ctx is cancelled.
type StreamProvider interface {
	SynthesizeStream(ctx context.Context, req Request) (<-chan []byte, int, error)
}

// QuotaProvider is implemented by metered cloud providers. Quota lookups are
// independent of synthesis and must never be on the synthesis path.
type QuotaProvider interface {
	Quota(ctx context.Context) (*Quota, error)
}

// VoiceCloner is implemented by providers that can create a voice handle from
// reference recordings.
type VoiceCloner interface {
	// CloneVoice uploads samples under name and returns the provider-assigned
	// voice handle. An empty samples slice returns an error.
	CloneVoice(ctx context.Context, name string, samples [][]byte) (string, error)
}
