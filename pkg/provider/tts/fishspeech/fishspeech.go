// Package fishspeech provides a TTS provider for a Fish Speech server, a
// zero-shot model that imitates a voice from a short reference clip.
//
// Synthesis is two-phase. A reference clip is first registered under a voice
// name with POST /v1/references/add; synthesis then calls POST /v1/tts with
// that name as reference_id. Uploads are remembered per name so each clip is
// sent once per process. When neither a reference clip nor a voice handle is
// given, synthesis proceeds without reference_id and the server uses its
// default voice.
package fishspeech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	providerName   = "fishspeech"
	defaultTimeout = 60 * time.Second
	defaultFormat  = "wav"
	defaultRate    = 44100

	addReferencePath = "/v1/references/add"
	ttsPath          = "/v1/tts"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithAPIKey sets a bearer token for servers started with --api-key.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithTimeout bounds every request to the server.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithFormat selects the response format, "wav" (default) or "mp3".
func WithFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.format = format
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by a Fish Speech server.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	apiKey     string
	format     string
	timeout    time.Duration
	httpClient *http.Client

	mu       sync.Mutex
	uploaded map[string]struct{}
}

// New creates a Provider for the server at baseURL. An empty baseURL is
// accepted; such a provider reports tts.ErrNotConfigured.
func New(baseURL string, opts ...Option) (*Provider, error) {
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		format:     defaultFormat,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
		uploaded:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.format != "wav" && p.format != "mp3" {
		return nil, fmt.Errorf("fishspeech: unsupported format %q", p.format)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return providerName }

// Configured implements tts.Provider.
func (p *Provider) Configured() error {
	if p.baseURL == "" {
		return tts.NotConfigured(providerName, "base URL is empty")
	}
	return nil
}

// addReferenceRequest is the JSON body for POST /v1/references/add. Audio is
// base64-encoded by encoding/json.
type addReferenceRequest struct {
	ID    string `json:"id"`
	Audio []byte `json:"audio"`
	Text  string `json:"text"`
}

// addReferenceResponse is the JSON body returned by POST /v1/references/add.
type addReferenceResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ReferenceID string `json:"reference_id"`
}

// ttsRequest is the JSON body for POST /v1/tts.
type ttsRequest struct {
	Text        string  `json:"text"`
	ReferenceID string  `json:"reference_id,omitempty"`
	Format      string  `json:"format"`
	Normalize   bool    `json:"normalize"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if err := p.Configured(); err != nil {
		return nil, err
	}

	refID := ""
	switch {
	case req.Reference != nil:
		refID = req.Reference.Name
		if refID == "" {
			refID = req.Voice.VoiceID
		}
		if err := p.ensureReference(ctx, refID, req.Reference); err != nil {
			return nil, err
		}
	case !req.Voice.IsDefault():
		refID = req.Voice.VoiceID
	}

	body := ttsRequest{
		Text:        req.Text,
		ReferenceID: refID,
		Format:      p.format,
		Normalize:   true,
	}
	// Lower stability means a hotter sampler.
	if req.Voice.Stability > 0 {
		body.Temperature = 0.5 + 0.5*(1-min(req.Voice.Stability, 1))
		body.TopP = 0.7
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("fishspeech: marshal tts request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+ttsPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("fishspeech: create tts request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := tts.Do(p.httpClient, providerName, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.Classify(providerName, fmt.Errorf("read audio: %w", err))
	}
	return tts.NormalizeAudio(providerName, raw, resp.Header.Get("Content-Type"), defaultRate)
}

// ensureReference uploads ref under id unless it was already uploaded.
func (p *Provider) ensureReference(ctx context.Context, id string, ref *tts.Reference) error {
	if id == "" {
		return tts.Rejected(providerName, 0, "reference clip has no name")
	}
	p.mu.Lock()
	_, done := p.uploaded[id]
	p.mu.Unlock()
	if done {
		return nil
	}
	if len(ref.Audio) == 0 {
		return tts.Rejected(providerName, 0, "reference clip is empty")
	}

	data, err := json.Marshal(addReferenceRequest{ID: id, Audio: ref.Audio, Text: ref.Transcript})
	if err != nil {
		return fmt.Errorf("fishspeech: marshal reference: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+addReferencePath, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("fishspeech: create reference request: %w", err)
	}
	p.setHeaders(req)

	resp, err := tts.Do(p.httpClient, providerName, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out addReferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("fishspeech: decode reference response: %w", err)
	}
	// The server reports an existing id as a failure; that is fine for us.
	if !out.Success && !strings.Contains(strings.ToLower(out.Message), "already exists") {
		return tts.Rejected(providerName, resp.StatusCode, out.Message)
	}

	p.mu.Lock()
	p.uploaded[id] = struct{}{}
	p.mu.Unlock()
	return nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
