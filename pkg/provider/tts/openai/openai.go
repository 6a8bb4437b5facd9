// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// OpenAI offers a fixed set of stock voices and no cloning, so the voice id of
// a request selects one of those voices and reference clips are ignored. PCM
// responses are 24 kHz signed 16-bit mono.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	providerName = "openai"

	// DefaultModel is the speech model used when none is configured.
	DefaultModel = oai.SpeechModelTTS1
	// DefaultVoice is the stock voice used for the "default" voice id.
	DefaultVoice = "alloy"

	defaultTimeout = 30 * time.Second
	pcmSampleRate  = 24000
)

// instructedModels accept free-form delivery instructions.
var instructedModels = map[string]bool{
	oai.SpeechModelGPT4oMiniTTS: true,
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel overrides the speech model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithFormat selects the response format, tts.FormatPCM (default) or
// tts.FormatMP3.
func WithFormat(f tts.Format) Option {
	return func(p *Provider) {
		p.format = f
	}
}

// WithHTTPClient replaces the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	format     tts.Format
	timeout    time.Duration
	httpClient *http.Client
	client     oai.Client
}

// New creates an OpenAI TTS Provider. An empty apiKey is accepted; such a
// provider reports tts.ErrNotConfigured.
func New(apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{
		apiKey:  apiKey,
		model:   DefaultModel,
		format:  tts.FormatPCM,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	if !p.format.IsValid() {
		return nil, fmt.Errorf("openai tts: unsupported format %q", p.format)
	}

	// Retries are the orchestrator's job.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(p.httpClient))
	}
	p.client = oai.NewClient(reqOpts...)
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

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if err := p.Configured(); err != nil {
		return nil, err
	}

	voice := req.Voice.VoiceID
	if req.Voice.IsDefault() {
		voice = DefaultVoice
	}
	model := p.model
	if req.Voice.Model != "" {
		model = req.Voice.Model
	}

	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if p.format == tts.FormatMP3 {
		params.ResponseFormat = oai.AudioSpeechNewParamsResponseFormatMP3
	}
	if s := req.Voice.Speed; s > 0 && s != 1 {
		params.Speed = oai.Float(min(max(s, 0.25), 4.0))
	}
	if instructedModels[model] {
		if hint := deliveryHint(req.Voice); hint != "" {
			params.Instructions = oai.String(hint)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.Classify(providerName, fmt.Errorf("read audio: %w", err))
	}
	contentType := resp.Header.Get("Content-Type")
	if p.format == tts.FormatMP3 {
		contentType = "audio/mpeg"
	}
	return tts.NormalizeAudio(providerName, raw, contentType, pcmSampleRate)
}

// deliveryHint turns expressive voice parameters into an instruction for
// models that take one.
func deliveryHint(v tts.VoiceParams) string {
	switch e := v.EmotionIntensity; {
	case e >= 0.7:
		return "Speak with strong, vivid emotion."
	case e > 0 && e <= 0.3:
		return "Speak calmly and evenly, with restrained emotion."
	}
	return ""
}

// classify maps SDK errors onto the tts error kinds.
func classify(ctx context.Context, err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &tts.Error{
			Provider: providerName,
			Kind:     tts.KindRemoteRejected,
			Status:   apiErr.StatusCode,
			Message:  apiErr.Error(),
			Err:      err,
		}
	}
	if ctx.Err() != nil {
		return tts.Classify(providerName, ctx.Err())
	}
	return tts.Classify(providerName, err)
}
