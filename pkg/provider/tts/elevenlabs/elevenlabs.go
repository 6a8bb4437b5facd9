// Package elevenlabs provides an ElevenLabs-backed TTS provider. Synthesis
// uses the synchronous REST endpoint; SynthesizeStream uses the streaming
// WebSocket API. It implements tts.Provider, tts.StreamProvider,
// tts.QuotaProvider and tts.VoiceCloner.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/castvoice/pkg/provider/tts"
	"github.com/coder/websocket"
)

// Compile-time interface assertions.
var (
	_ tts.Provider       = (*Provider)(nil)
	_ tts.StreamProvider = (*Provider)(nil)
	_ tts.QuotaProvider  = (*Provider)(nil)
	_ tts.VoiceCloner    = (*Provider)(nil)
)

const (
	providerName = "elevenlabs"

	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "pcm_22050"
	defaultTimeout   = 30 * time.Second

	// defaultVoiceID is the premade "Rachel" voice, used when callers pass
	// tts.DefaultVoice. ElevenLabs has no server-side default voice.
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	ttsPathFmt       = "/v1/text-to-speech/%s"
	streamPathFmt    = "/v1/text-to-speech/%s/stream-input"
	subscriptionPath = "/v1/user/subscription"
	addVoicePath     = "/v1/voices/add"
	streamChanBuf    = 256

	// Speed range accepted by the API.
	minSpeed = 0.7
	maxSpeed = 1.2
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the default ElevenLabs model ID (e.g., "eleven_flash_v2_5").
// A per-voice tts.VoiceParams.Model overrides it.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.outputFormat = format
		}
	}
}

// WithBaseURL overrides the API base URL. Used by tests and proxies.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout bounds every HTTP call and stream made by the provider.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDefaultVoice sets the voice used for tts.DefaultVoice.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		if voiceID != "" {
			p.defaultVoice = voiceID
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	defaultVoice string
	timeout      time.Duration
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. An empty apiKey is accepted; such a
// provider reports tts.ErrNotConfigured from Configured and Synthesize. The
// output format must be a pcm_<rate> or mp3_<rate>_<bitrate> identifier.
func New(apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		defaultVoice: defaultVoiceID,
		timeout:      defaultTimeout,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if _, _, err := parseOutputFormat(p.outputFormat); err != nil {
		return nil, err
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return providerName }

// Configured implements tts.Provider.
func (p *Provider) Configured() error {
	if p.apiKey == "" {
		return tts.NotConfigured(providerName, "api key is empty")
	}
	return nil
}

// ---- wire types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64  `json:"stability"`
	SimilarityBoost float64  `json:"similarity_boost"`
	Style           float64  `json:"style"`
	UseSpeakerBoost bool     `json:"use_speaker_boost"`
	Speed           *float64 `json:"speed,omitempty"`
}

// ttsRequest is the JSON body for POST /v1/text-to-speech/{voice}.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// subscriptionResponse is the subset of GET /v1/user/subscription we read.
type subscriptionResponse struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// addVoiceResponse is the JSON body returned by POST /v1/voices/add.
type addVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

// ---- unit conversion ----

// settingsFor converts normalised knobs into ElevenLabs units: every ratio is
// clamped to [0, 1] and quantised to two decimals; emotion intensity drives
// style when style is unset; speed is mapped into [0.7, 1.2].
func settingsFor(v tts.VoiceParams) voiceSettings {
	style := v.Style
	if style == 0 {
		style = v.EmotionIntensity
	}
	vs := voiceSettings{
		Stability:       quantise(v.Stability),
		SimilarityBoost: quantise(v.Similarity),
		Style:           quantise(style),
		UseSpeakerBoost: true,
	}
	if v.Speed > 0 && v.Speed != 1 {
		s := math.Round(min(max(v.Speed, minSpeed), maxSpeed)*100) / 100
		vs.Speed = &s
	}
	return vs
}

func quantise(x float64) float64 {
	return math.Round(min(max(x, 0), 1)*100) / 100
}

// tagPattern matches inline paralinguistic tags such as [laughs].
var tagPattern = regexp.MustCompile(`\[[a-zA-Z][a-zA-Z _-]*\]\s*`)

// prepareText strips inline tags unless the voice opts into them.
func prepareText(text string, v tts.VoiceParams) string {
	if v.Paralinguistic {
		return text
	}
	return strings.TrimSpace(tagPattern.ReplaceAllString(text, ""))
}

func (p *Provider) voiceID(v tts.VoiceParams) string {
	if v.IsDefault() {
		return p.defaultVoice
	}
	return v.VoiceID
}

func (p *Provider) modelFor(v tts.VoiceParams) string {
	if v.Model != "" {
		return v.Model
	}
	return p.model
}

// parseOutputFormat splits e.g. "pcm_22050" or "mp3_44100_128" into a format
// and sample rate.
func parseOutputFormat(f string) (tts.Format, int, error) {
	parts := strings.Split(f, "_")
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("elevenlabs: invalid output format %q", f)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return "", 0, fmt.Errorf("elevenlabs: invalid sample rate in output format %q", f)
	}
	switch parts[0] {
	case "pcm":
		return tts.FormatPCM, rate, nil
	case "mp3":
		return tts.FormatMP3, rate, nil
	default:
		return "", 0, fmt.Errorf("elevenlabs: unsupported output format %q", f)
	}
}

// ---- Synthesize ----

// Synthesize implements tts.Provider via POST /v1/text-to-speech/{voice}.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if err := p.Configured(); err != nil {
		return nil, err
	}
	format, rate, err := parseOutputFormat(p.outputFormat)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(ttsRequest{
		Text:          prepareText(req.Text, req.Voice),
		ModelID:       p.modelFor(req.Voice),
		VoiceSettings: settingsFor(req.Voice),
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal tts request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	endpoint := p.baseURL + fmt.Sprintf(ttsPathFmt, url.PathEscape(p.voiceID(req.Voice))) +
		"?output_format=" + url.QueryEscape(p.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create tts request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if format == tts.FormatMP3 {
		httpReq.Header.Set("Accept", "audio/mpeg")
	}

	resp, err := tts.Do(p.httpClient, providerName, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.Classify(providerName, fmt.Errorf("read audio: %w", err))
	}
	if len(data) == 0 {
		return nil, tts.Empty(providerName)
	}
	return &tts.Audio{Data: data, SampleRate: rate, Format: format}, nil
}

// ---- Quota ----

// Quota returns character usage for the API key. It is never called on the
// synthesis path.
func (p *Provider) Quota(ctx context.Context) (*tts.Quota, error) {
	if err := p.Configured(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+subscriptionPath, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create quota request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := tts.Do(p.httpClient, providerName, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sub subscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode subscription: %w", err)
	}
	return &tts.Quota{
		Used:      sub.CharacterCount,
		Limit:     sub.CharacterLimit,
		Remaining: max(sub.CharacterLimit-sub.CharacterCount, 0),
		Unit:      "characters",
	}, nil
}

// ---- CloneVoice ----

// CloneVoice uploads samples via POST /v1/voices/add and returns the new voice
// ID.
func (p *Provider) CloneVoice(ctx context.Context, name string, samples [][]byte) (string, error) {
	if err := p.Configured(); err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", errors.New("elevenlabs: clone voice: at least one sample is required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		return "", fmt.Errorf("elevenlabs: clone voice: %w", err)
	}
	for i, s := range samples {
		fw, err := mw.CreateFormFile("files", fmt.Sprintf("sample_%d.wav", i))
		if err != nil {
			return "", fmt.Errorf("elevenlabs: clone voice: %w", err)
		}
		if _, err := fw.Write(s); err != nil {
			return "", fmt.Errorf("elevenlabs: clone voice: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("elevenlabs: clone voice: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+addVoicePath, &buf)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: create clone request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := tts.Do(p.httpClient, providerName, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out addVoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("elevenlabs: decode clone response: %w", err)
	}
	if out.VoiceID == "" {
		return "", tts.Empty(providerName)
	}
	return out.VoiceID, nil
}

// ---- SynthesizeStream ----

// streamMessage is a JSON text frame sent over the WebSocket. The first frame
// carries the API key and voice settings.
type streamMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// streamURL builds the WebSocket URL for a voice and model. The stream always
// uses a PCM output format so chunks can be played as they arrive.
func (p *Provider) streamURL(voiceID, model string, rate int) string {
	base := p.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	q := url.Values{}
	q.Set("model_id", model)
	q.Set("output_format", fmt.Sprintf("pcm_%d", rate))
	return base + fmt.Sprintf(streamPathFmt, url.PathEscape(voiceID)) + "?" + q.Encode()
}

// SynthesizeStream sends req.Text over the streaming WebSocket API and returns
// a channel of raw PCM chunks plus their sample rate. The channel is closed
// when ElevenLabs reports the final chunk, the connection drops, or ctx is
// cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, req tts.Request) (<-chan []byte, int, error) {
	if err := p.Configured(); err != nil {
		return nil, 0, err
	}
	_, rate, err := parseOutputFormat(p.outputFormat)
	if err != nil {
		return nil, 0, err
	}

	streamCtx, cancel := context.WithTimeout(ctx, p.timeout)
	conn, _, err := websocket.Dial(streamCtx, p.streamURL(p.voiceID(req.Voice), p.modelFor(req.Voice), rate), nil)
	if err != nil {
		cancel()
		return nil, 0, tts.Classify(providerName, fmt.Errorf("dial: %w", err))
	}

	vs := settingsFor(req.Voice)
	frames := []streamMessage{
		{Text: " ", VoiceSettings: &vs, XiAPIKey: p.apiKey},
		{Text: prepareText(req.Text, req.Voice) + " ", TryTriggerGeneration: true},
		{Text: ""}, // flush
	}
	for _, f := range frames {
		msg, _ := json.Marshal(f)
		if err := conn.Write(streamCtx, websocket.MessageText, msg); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			cancel()
			return nil, 0, tts.Classify(providerName, fmt.Errorf("send text: %w", err))
		}
	}

	audioCh := make(chan []byte, streamChanBuf)
	go func() {
		defer cancel()
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(streamCtx)
			if err != nil {
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil && len(pcm) > 0 {
					select {
					case audioCh <- pcm:
					case <-streamCtx.Done():
						return
					}
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return audioCh, rate, nil
}
