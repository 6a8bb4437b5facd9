// Package coqui provides a TTS provider for a self-hosted Coqui inference pod,
// either a Coqui XTTS v2 API server or a standard Coqui TTS server. It
// implements tts.Provider, tts.HealthChecker, tts.StreamProvider and
// tts.VoiceCloner.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body; voice cloning is available via
//     POST /clone_speaker.
//
// GPU pods are frequently cold or evicted, so every synthesis call is gated on
// a GET /health probe. A successful probe is cached for the configured TTL.
// Configured never touches the network: a provider without a server URL
// reports tts.ErrNotConfigured.
//
// Typical usage:
//
//	p, _ := coqui.New("http://gpu-pod:8002",
//	    coqui.WithAPIMode(coqui.APIModeXTTS),
//	    coqui.WithHealthTTL(30*time.Second),
//	)
//	audio, err := p.Synthesize(ctx, tts.Request{Text: "Hello.", Voice: voice})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/MrWong99/castvoice/pkg/audio"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// Compile-time interface assertions.
var (
	_ tts.Provider       = (*Provider)(nil)
	_ tts.HealthChecker  = (*Provider)(nil)
	_ tts.StreamProvider = (*Provider)(nil)
	_ tts.VoiceCloner    = (*Provider)(nil)
)

// ---- constants ----

const (
	providerName         = "coqui"
	defaultLanguage      = "en"
	defaultTimeout       = 30 * time.Second
	defaultStreamRate    = 24000
	healthEndpoint       = "/health"
	ttsEndpoint          = "/tts_to_audio/"
	cloneSpeakerEndpoint = "/clone_speaker"
	apiTTSEndpoint       = "/api/tts"

	// sentenceLookaheadBuf controls how many concurrent HTTP synthesis requests
	// may be in-flight simultaneously during streaming.
	sentenceLookaheadBuf = 4

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 256

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// ---- APIMode ----

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g., "en").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithTimeout bounds every request to the TTS server, including health probes.
// Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		if mode != "" {
			p.apiMode = mode
		}
	}
}

// WithHealthTTL sets how long a successful health probe is trusted. Zero (the
// default) probes before every call.
func WithHealthTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		p.healthTTL = ttl
	}
}

// WithOutputSampleRate resamples synthesised PCM to rate. When 0 (default),
// PCM is returned at the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// WithDefaultSpeaker sets the speaker used for tts.DefaultVoice. When empty,
// the server picks its own default.
func WithDefaultSpeaker(speaker string) Option {
	return func(p *Provider) {
		p.defaultSpeaker = speaker
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by a self-hosted Coqui TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL      string
	language       string
	apiMode        APIMode
	timeout        time.Duration
	healthTTL      time.Duration
	outputRate     int
	defaultSpeaker string
	httpClient     *http.Client

	mu          sync.Mutex
	healthyAt   time.Time
	refSpeakers map[string]string // reference name → cloned speaker
	now         func() time.Time
}

// New creates a Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). An empty serverURL is accepted; such a
// provider reports tts.ErrNotConfigured without attempting network I/O.
func New(serverURL string, opts ...Option) (*Provider, error) {
	p := &Provider{
		serverURL:   strings.TrimRight(serverURL, "/"),
		language:    defaultLanguage,
		apiMode:     APIModeStandard,
		timeout:     defaultTimeout,
		httpClient:  &http.Client{},
		refSpeakers: make(map[string]string),
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	if p.serverURL != "" {
		if _, err := url.Parse(p.serverURL); err != nil {
			return nil, fmt.Errorf("coqui: invalid server URL: %w", err)
		}
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return providerName }

// Configured implements tts.Provider. It performs no network I/O.
func (p *Provider) Configured() error {
	if p.serverURL == "" {
		return tts.NotConfigured(providerName, "server URL is empty")
	}
	return nil
}

// ---- Health ----

// Health probes GET /health. Any transport failure or non-2xx answer is
// reported as tts.ErrUnavailable.
func (p *Provider) Health(ctx context.Context) error {
	if err := p.Configured(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.NewError(providerName, tts.KindUnavailable, fmt.Errorf("GET %s: %w", healthEndpoint, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &tts.Error{
			Provider: providerName,
			Kind:     tts.KindUnavailable,
			Status:   resp.StatusCode,
			Message:  "health probe failed",
		}
	}
	return nil
}

// ensureHealthy runs the health probe unless a successful probe is still
// within the TTL.
func (p *Provider) ensureHealthy(ctx context.Context) error {
	if p.healthTTL > 0 {
		p.mu.Lock()
		fresh := !p.healthyAt.IsZero() && p.now().Sub(p.healthyAt) < p.healthTTL
		p.mu.Unlock()
		if fresh {
			return nil
		}
	}
	if err := p.Health(ctx); err != nil {
		p.mu.Lock()
		p.healthyAt = time.Time{}
		p.mu.Unlock()
		return err
	}
	p.mu.Lock()
	p.healthyAt = p.now()
	p.mu.Unlock()
	return nil
}

// ---- internal request/response types ----

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav,omitempty"`
	Language   string `json:"language"`
}

// cloneSpeakerResponse is the JSON body returned by POST /clone_speaker.
type cloneSpeakerResponse struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// audioResult carries a synthesised clip or an error from a worker goroutine.
type audioResult struct {
	audio *tts.Audio
	err   error
}

// ---- Synthesize ----

// Synthesize implements tts.Provider. The health probe must pass first.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if err := p.Configured(); err != nil {
		return nil, err
	}
	if err := p.ensureHealthy(ctx); err != nil {
		return nil, err
	}
	speaker, err := p.speakerFor(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.synthesize(ctx, req.Text, speaker)
}

// speakerFor picks the speaker for req. In XTTS mode a reference clip is
// cloned once per reference name and reused.
func (p *Provider) speakerFor(ctx context.Context, req tts.Request) (string, error) {
	if req.Reference != nil && p.apiMode == APIModeXTTS {
		p.mu.Lock()
		speaker, ok := p.refSpeakers[req.Reference.Name]
		p.mu.Unlock()
		if ok {
			return speaker, nil
		}
		speaker, err := p.CloneVoice(ctx, req.Reference.Name, [][]byte{req.Reference.Audio})
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.refSpeakers[req.Reference.Name] = speaker
		p.mu.Unlock()
		return speaker, nil
	}
	if req.Voice.IsDefault() {
		return p.defaultSpeaker, nil
	}
	return req.Voice.VoiceID, nil
}

// synthesize dispatches to the appropriate implementation based on the
// configured API mode.
func (p *Provider) synthesize(ctx context.Context, text, speaker string) (*tts.Audio, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var (
		httpReq *http.Request
		err     error
	)
	if p.apiMode == APIModeXTTS {
		httpReq, err = p.xttsRequest(ctx, text, speaker)
	} else {
		httpReq, err = p.standardRequest(ctx, text, speaker)
	}
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := tts.Do(p.httpClient, providerName, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.Classify(providerName, fmt.Errorf("read WAV response: %w", err))
	}
	fallbackRate := p.outputRate
	if fallbackRate <= 0 {
		fallbackRate = defaultStreamRate
	}
	out, err := tts.NormalizeAudio(providerName, wav, resp.Header.Get("Content-Type"), fallbackRate)
	if err != nil {
		return nil, err
	}
	if p.outputRate > 0 && out.Format == tts.FormatPCM && out.SampleRate != p.outputRate {
		out.Data = audio.ResampleMono16(out.Data, out.SampleRate, p.outputRate)
		out.SampleRate = p.outputRate
	}
	return out, nil
}

// xttsRequest builds a POST /tts_to_audio/ call (XTTS v2 mode).
func (p *Provider) xttsRequest(ctx context.Context, text, speaker string) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: speaker, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// standardRequest builds a GET /api/tts call (standard server mode).
func (p *Provider) standardRequest(ctx context.Context, text, speaker string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if speaker != "" {
		params.Set("speaker_id", speaker)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

// ---- SynthesizeStream ----

// SynthesizeStream splits req.Text into sentences (on '.', '!', '?' followed
// by whitespace or end of text) and synthesises them concurrently, emitting
// PCM on the returned channel in sentence order. Up to sentenceLookaheadBuf
// requests may be in flight at once. All PCM is delivered at the configured
// output rate (24 kHz when unset).
//
// The channel is closed when all sentences are delivered, a sentence fails, or
// ctx is cancelled. The caller must drain it.
func (p *Provider) SynthesizeStream(ctx context.Context, req tts.Request) (<-chan []byte, int, error) {
	if err := p.Configured(); err != nil {
		return nil, 0, err
	}
	if err := p.ensureHealthy(ctx); err != nil {
		return nil, 0, err
	}
	speaker, err := p.speakerFor(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	rate := p.outputRate
	if rate <= 0 {
		rate = defaultStreamRate
	}

	sentences := splitSentences(req.Text)
	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)

		// resultQueue carries ordered future channels so the collector can
		// drain in order while later sentences are still rendering.
		resultQueue := make(chan chan audioResult, sentenceLookaheadBuf)

		go func() {
			defer close(resultQueue)
			for _, s := range sentences {
				ch := make(chan audioResult, 1)
				select {
				case resultQueue <- ch:
				case <-ctx.Done():
					return
				}
				go func(s string, out chan<- audioResult) {
					a, err := p.synthesize(ctx, s, speaker)
					out <- audioResult{audio: a, err: err}
				}(s, ch)
			}
		}()

		for ch := range resultQueue {
			var result audioResult
			select {
			case result = <-ch:
			case <-ctx.Done():
				return
			}
			if result.err != nil || result.audio.Format != tts.FormatPCM {
				return
			}
			pcm := audio.ResampleMono16(result.audio.Data, result.audio.SampleRate, rate)
			for len(pcm) > 0 {
				end := min(pcmChunkSize, len(pcm))
				select {
				case audioCh <- pcm[:end]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[end:]
			}
		}
	}()

	return audioCh, rate, nil
}

// ---- CloneVoice ----

// CloneVoice creates a speaker by uploading WAV samples to POST /clone_speaker
// and returns the speaker name. Only supported in APIModeXTTS.
func (p *Provider) CloneVoice(ctx context.Context, name string, samples [][]byte) (string, error) {
	if err := p.Configured(); err != nil {
		return "", err
	}
	if p.apiMode != APIModeXTTS {
		return "", errors.New("coqui: voice cloning is not supported in standard API mode")
	}
	if len(samples) == 0 {
		return "", errors.New("coqui: CloneVoice requires at least one audio sample")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if name != "" {
		if err := mw.WriteField("name", name); err != nil {
			return "", fmt.Errorf("coqui: write name field: %w", err)
		}
	}
	for i, sample := range samples {
		filename := fmt.Sprintf("sample_%02d.wav", i)
		fw, err := mw.CreateFormFile("wav_files", filename)
		if err != nil {
			return "", fmt.Errorf("coqui: create form file %s: %w", filename, err)
		}
		if _, err := fw.Write(sample); err != nil {
			return "", fmt.Errorf("coqui: write form file %s: %w", filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("coqui: close multipart writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+cloneSpeakerEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("coqui: create clone-speaker request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := tts.Do(p.httpClient, providerName, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var cloneResp cloneSpeakerResponse
	if err := json.NewDecoder(resp.Body).Decode(&cloneResp); err != nil {
		return "", fmt.Errorf("coqui: decode clone-speaker response: %w", err)
	}
	if cloneResp.Name == "" {
		return "", tts.Empty(providerName)
	}
	return cloneResp.Name, nil
}

// ---- helpers ----

// splitSentences splits text at sentence boundaries and drops empty pieces.
func splitSentences(text string) []string {
	var out []string
	for {
		idx := findSentenceBoundary(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending character
// ('.', '!', '?') that is either at the end of s or immediately followed by
// whitespace. Returns -1 if no sentence boundary is found.
//
// Abbreviations like "Dr." or decimals like "3.14" are not boundaries when
// followed by a non-space character.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
