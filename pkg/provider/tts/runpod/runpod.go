// Package runpod provides a TTS provider for a model deployed on RunPod.
//
// Two operating modes are supported and picked from the configuration:
//
//   - Direct: a long-lived worker pod reached through the RunPod proxy. An
//     optional reference clip is uploaded with POST /upload_reference, then
//     POST /synthesize answers synchronously with audio.
//
//   - Managed: a serverless endpoint behind RunPod's job queue. The job is
//     submitted with POST /v2/{endpoint}/run and polled with
//     GET /v2/{endpoint}/status/{id} on a fixed interval. Polling is bounded
//     both by an attempt count and by a total wall-clock budget; exhausting
//     either yields tts.ErrTimeout.
//
// Direct mode is preferred whenever a pod is configured, even if an endpoint
// id is present too. With neither, the provider reports tts.ErrNotConfigured.
package runpod

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/castvoice/pkg/provider/tts"
	"github.com/google/uuid"
)

// Compile-time interface assertions.
var (
	_ tts.Provider      = (*Provider)(nil)
	_ tts.HealthChecker = (*Provider)(nil)
)

const (
	providerName = "runpod"

	defaultAPIBaseURL   = "https://api.runpod.ai"
	defaultPodPort      = 8000
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 60
	defaultMaxWait      = 90 * time.Second
	defaultSampleRate   = 24000

	runPathFmt     = "/v2/%s/run"
	statusPathFmt  = "/v2/%s/status/%s"
	healthPathFmt  = "/v2/%s/health"
	uploadRefPath  = "/upload_reference"
	synthesizePath = "/synthesize"
	podHealthPath  = "/health"
	podProxyURLFmt = "https://%s-%d.proxy.runpod.net"
)

// Mode is the operating mode selected from the configuration.
type Mode string

const (
	ModeNone    Mode = ""
	ModeManaged Mode = "managed"
	ModeDirect  Mode = "direct"
)

// Job statuses reported by the RunPod queue.
const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
	statusFailed     = "FAILED"
	statusCancelled  = "CANCELLED"
	statusTimedOut   = "TIMED_OUT"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpointID selects managed mode against the serverless endpoint id.
func WithEndpointID(id string) Option {
	return func(p *Provider) { p.endpointID = id }
}

// WithPodID selects direct mode against the worker pod id, reached through
// the RunPod HTTP proxy.
func WithPodID(id string) Option {
	return func(p *Provider) { p.podID = id }
}

// WithPodPort sets the exposed HTTP port of the worker pod. Defaults to 8000.
func WithPodPort(port int) Option {
	return func(p *Provider) {
		if port > 0 {
			p.podPort = port
		}
	}
}

// WithPodURL selects direct mode against an explicit worker URL. It takes
// precedence over WithPodID.
func WithPodURL(u string) Option {
	return func(p *Provider) { p.podURL = strings.TrimRight(u, "/") }
}

// WithAPIBaseURL overrides the managed API base URL.
func WithAPIBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.apiBaseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout bounds each individual HTTP call.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPolling configures the status polling interval, the maximum number of
// status requests, and the total wall-clock budget for a managed job.
func WithPolling(interval time.Duration, maxAttempts int, maxWait time.Duration) Option {
	return func(p *Provider) {
		if interval > 0 {
			p.pollInterval = interval
		}
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if maxWait > 0 {
			p.maxWait = maxWait
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider backed by RunPod.
// It is safe for concurrent use.
type Provider struct {
	apiKey       string
	endpointID   string
	podID        string
	podPort      int
	podURL       string
	apiBaseURL   string
	timeout      time.Duration
	pollInterval time.Duration
	maxAttempts  int
	maxWait      time.Duration
	httpClient   *http.Client

	mu       sync.Mutex
	uploaded map[string]string // reference name → name stored on the worker
}

// New creates a RunPod Provider. Missing configuration is reported by
// Configured rather than here.
func New(apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{
		apiKey:       apiKey,
		podPort:      defaultPodPort,
		apiBaseURL:   defaultAPIBaseURL,
		timeout:      defaultTimeout,
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
		maxWait:      defaultMaxWait,
		httpClient:   &http.Client{},
		uploaded:     make(map[string]string),
	}
	for _, o := range opts {
		o(p)
	}
	if p.podURL != "" {
		if _, err := url.Parse(p.podURL); err != nil {
			return nil, fmt.Errorf("runpod: invalid pod URL: %w", err)
		}
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return providerName }

// Mode returns the operating mode implied by the configuration.
func (p *Provider) Mode() Mode {
	switch {
	case p.podURL != "" || p.podID != "":
		return ModeDirect
	case p.endpointID != "":
		return ModeManaged
	default:
		return ModeNone
	}
}

// Configured implements tts.Provider.
func (p *Provider) Configured() error {
	switch p.Mode() {
	case ModeDirect:
		return nil
	case ModeManaged:
		if p.apiKey == "" {
			return tts.NotConfigured(providerName, "api key is required for managed endpoints")
		}
		return nil
	default:
		return tts.NotConfigured(providerName, "neither pod id nor endpoint id is set")
	}
}

// workerURL returns the direct-mode base URL.
func (p *Provider) workerURL() string {
	if p.podURL != "" {
		return p.podURL
	}
	return fmt.Sprintf(podProxyURLFmt, p.podID, p.podPort)
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if err := p.Configured(); err != nil {
		return nil, err
	}
	if p.Mode() == ModeDirect {
		return p.synthesizeDirect(ctx, req)
	}
	return p.synthesizeManaged(ctx, req)
}

// Health checks the worker pod's /health in direct mode or the endpoint's
// worker pool in managed mode.
func (p *Provider) Health(ctx context.Context) error {
	if err := p.Configured(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	target := p.workerURL() + podHealthPath
	if p.Mode() == ModeManaged {
		target = p.apiBaseURL + fmt.Sprintf(healthPathFmt, url.PathEscape(p.endpointID))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("runpod: create health request: %w", err)
	}
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.NewError(providerName, tts.KindUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &tts.Error{Provider: providerName, Kind: tts.KindUnavailable, Status: resp.StatusCode, Message: "health probe failed"}
	}
	return nil
}

func (p *Provider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// ---- shared payload ----

// jobInput is the synthesis payload understood by the worker, used both as
// the managed job "input" and as the direct /synthesize body.
type jobInput struct {
	Text          string  `json:"text"`
	Voice         string  `json:"voice,omitempty"`
	ReferenceName string  `json:"reference_name,omitempty"`
	RequestID     string  `json:"request_id"`
	Stability     float64 `json:"stability,omitempty"`
	Style         float64 `json:"style,omitempty"`
	Emotion       float64 `json:"emotion,omitempty"`
	Speed         float64 `json:"speed,omitempty"`
}

func inputFor(req tts.Request) jobInput {
	in := jobInput{
		Text:      req.Text,
		RequestID: uuid.NewString(),
		Stability: req.Voice.Stability,
		Style:     req.Voice.Style,
		Emotion:   req.Voice.EmotionIntensity,
		Speed:     req.Voice.Speed,
	}
	if !req.Voice.IsDefault() {
		in.Voice = req.Voice.VoiceID
	}
	return in
}

// ---- managed mode ----

type runRequest struct {
	Input jobInput `json:"input"`
}

// jobOutput is the worker's output object.
type jobOutput struct {
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"sample_rate"`
	Format      string `json:"format"`
}

// jobStatus is the body of both /run and /status responses.
type jobStatus struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Output *jobOutput `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func (s jobStatus) terminal() bool {
	switch s.Status {
	case statusCompleted, statusFailed, statusCancelled, statusTimedOut:
		return true
	}
	return false
}

func (p *Provider) synthesizeManaged(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	// The wall-clock budget covers submit plus every poll.
	ctx, cancel := context.WithTimeout(ctx, p.maxWait)
	defer cancel()

	body, err := json.Marshal(runRequest{Input: inputFor(req)})
	if err != nil {
		return nil, fmt.Errorf("runpod: marshal job: %w", err)
	}
	job, err := p.jobCall(ctx, http.MethodPost, fmt.Sprintf(runPathFmt, url.PathEscape(p.endpointID)), body)
	if err != nil {
		return nil, err
	}
	if job.terminal() {
		return p.finish(job)
	}
	if job.ID == "" {
		return nil, tts.Rejected(providerName, 0, "job submission returned no id")
	}

	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	statusPath := fmt.Sprintf(statusPathFmt, url.PathEscape(p.endpointID), url.PathEscape(job.ID))
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, tts.NewError(providerName, tts.KindTimeout, fmt.Errorf("job %s: %w", job.ID, ctx.Err()))
		case <-timer.C:
		}

		job, err = p.jobCall(ctx, http.MethodGet, statusPath, nil)
		if err != nil {
			return nil, err
		}
		if job.terminal() {
			return p.finish(job)
		}
		timer.Reset(p.pollInterval)
	}
	return nil, &tts.Error{
		Provider: providerName,
		Kind:     tts.KindTimeout,
		Message:  fmt.Sprintf("job %s still %s after %d polls", job.ID, job.Status, p.maxAttempts),
	}
}

// jobCall performs a single queue API request and decodes the job status.
func (p *Provider) jobCall(ctx context.Context, method, path string, body []byte) (jobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.apiBaseURL+path, rdr)
	if err != nil {
		return jobStatus{}, fmt.Errorf("runpod: create request: %w", err)
	}
	p.authorize(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := tts.Do(p.httpClient, providerName, req)
	if err != nil {
		return jobStatus{}, err
	}
	defer resp.Body.Close()

	var js jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&js); err != nil {
		return jobStatus{}, tts.Rejected(providerName, resp.StatusCode, "malformed job status: "+err.Error())
	}
	return js, nil
}

// finish converts a terminal job into audio or an error.
func (p *Provider) finish(job jobStatus) (*tts.Audio, error) {
	switch job.Status {
	case statusCompleted:
	case statusTimedOut:
		return nil, &tts.Error{Provider: providerName, Kind: tts.KindTimeout, Message: "job timed out on the worker"}
	default:
		msg := job.Error
		if msg == "" {
			msg = "job " + strings.ToLower(job.Status)
		}
		return nil, tts.Rejected(providerName, 0, msg)
	}
	if job.Output == nil || job.Output.AudioBase64 == "" {
		return nil, tts.Empty(providerName)
	}
	raw, err := base64.StdEncoding.DecodeString(job.Output.AudioBase64)
	if err != nil {
		return nil, &tts.Error{Provider: providerName, Kind: tts.KindRemoteRejected, Message: "audio is not valid base64", Err: err}
	}
	rate := job.Output.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	contentType := ""
	if job.Output.Format == "mp3" {
		contentType = "audio/mpeg"
	}
	return tts.NormalizeAudio(providerName, raw, contentType, rate)
}

// ---- direct mode ----

type uploadResponse struct {
	Name string `json:"name"`
}

func (p *Provider) synthesizeDirect(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	in := inputFor(req)
	if req.Reference != nil {
		name, err := p.ensureUploaded(ctx, req.Reference)
		if err != nil {
			return nil, err
		}
		in.ReferenceName = name
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("runpod: marshal synthesize request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.workerURL()+synthesizePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("runpod: create synthesize request: %w", err)
	}
	p.authorize(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := tts.Do(p.httpClient, providerName, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.Classify(providerName, fmt.Errorf("read audio: %w", err))
	}
	return tts.NormalizeAudio(providerName, raw, resp.Header.Get("Content-Type"), defaultSampleRate)
}

// ensureUploaded uploads the reference clip once per name and returns the
// name the worker stored it under.
func (p *Provider) ensureUploaded(ctx context.Context, ref *tts.Reference) (string, error) {
	name := ref.Name
	if name != "" {
		p.mu.Lock()
		stored, done := p.uploaded[name]
		p.mu.Unlock()
		if done {
			return stored, nil
		}
	} else {
		name = "ref-" + uuid.NewString()
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		return "", fmt.Errorf("runpod: upload reference: %w", err)
	}
	if ref.Transcript != "" {
		if err := mw.WriteField("text", ref.Transcript); err != nil {
			return "", fmt.Errorf("runpod: upload reference: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", name+".wav")
	if err != nil {
		return "", fmt.Errorf("runpod: upload reference: %w", err)
	}
	if _, err := fw.Write(ref.Audio); err != nil {
		return "", fmt.Errorf("runpod: upload reference: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("runpod: upload reference: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.workerURL()+uploadRefPath, &buf)
	if err != nil {
		return "", fmt.Errorf("runpod: create upload request: %w", err)
	}
	p.authorize(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := tts.Do(p.httpClient, providerName, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Name != "" {
		name = out.Name
	}

	if ref.Name != "" {
		p.mu.Lock()
		p.uploaded[ref.Name] = name
		p.mu.Unlock()
	}
	return name, nil
}
