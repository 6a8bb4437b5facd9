package tts

// DefaultVoice is the sentinel voice handle used when no provider-specific
// voice is registered for an archetype. Providers interpret it as "use the
// server-side default voice".
const DefaultVoice = "default"

// Format tags the encoding of an [Audio] payload.
type Format string

const (
	// FormatPCM is raw little-endian signed 16-bit mono PCM.
	FormatPCM Format = "pcm"

	// FormatMP3 is an MPEG-1/2 Layer III stream.
	FormatMP3 Format = "mp3"
)

// IsValid reports whether f is a recognised format.
func (f Format) IsValid() bool {
	return f == FormatPCM || f == FormatMP3
}

// VoiceParams bundles a provider-native voice handle with the synthesis knobs
// used to render it. Knob values are normalised to [0, 1]; each provider
// converts them into its own units.
type VoiceParams struct {
	// VoiceID is the provider-native voice handle, or [DefaultVoice].
	VoiceID string `yaml:"voice_id" json:"voice_id"`

	// Stability trades expressiveness for consistency (1 = most stable).
	Stability float64 `yaml:"stability" json:"stability"`

	// Similarity controls how closely output adheres to the source voice.
	Similarity float64 `yaml:"similarity" json:"similarity"`

	// Style exaggerates the speaking style of the voice.
	Style float64 `yaml:"style" json:"style"`

	// EmotionIntensity scales emotional colouring for providers that support it.
	EmotionIntensity float64 `yaml:"emotion_intensity" json:"emotion_intensity"`

	// Paralinguistic enables inline tags such as [laughs] or [sighs].
	Paralinguistic bool `yaml:"paralinguistic" json:"paralinguistic"`

	// Model overrides the provider's default model for this voice.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Speed adjusts speaking rate (0.5–2.0, 0 or 1.0 = default).
	Speed float64 `yaml:"speed,omitempty" json:"speed,omitempty"`
}

// IsDefault reports whether the params point at the sentinel default voice.
func (v VoiceParams) IsDefault() bool {
	return v.VoiceID == "" || v.VoiceID == DefaultVoice
}

// Reference is a reference clip used by zero-shot providers to imitate a voice.
type Reference struct {
	// Name keys the clip on the provider side. Re-using a name lets providers
	// skip re-uploading.
	Name string

	// Audio is the encoded clip (WAV or MP3).
	Audio []byte

	// Transcript is the text spoken in Audio, if known.
	Transcript string
}

// Request is a single synthesis call.
type Request struct {
	Text      string
	Voice     VoiceParams
	Reference *Reference
}

// Audio is a rendered clip.
type Audio struct {
	Data       []byte
	SampleRate int
	Format     Format
}

// Quota describes remaining usage on a metered provider.
type Quota struct {
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	Unit      string `json:"unit"`
}
