// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to script adapter outcomes for the synthesis orchestrator and
// to verify which requests reached the backend.
//
// Example:
//
//	p := &mock.Provider{
//	    ProviderName: "cloud",
//	    Errors:       []error{tts.ErrUnavailable},
//	    Result:       &tts.Audio{Data: pcm, SampleRate: 22050, Format: tts.FormatPCM},
//	}
//	// First call fails with ErrUnavailable, later calls return Result.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Request is the request passed to Synthesize.
	Request tts.Request
}

// Provider is a mock implementation of tts.Provider, tts.HealthChecker and
// tts.StreamProvider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// ConfiguredErr, if non-nil, is returned by Configured and by Synthesize
	// without recording a backend hit.
	ConfiguredErr error

	// Errors is consumed one entry per Synthesize call. A nil entry or an
	// exhausted slice falls through to Result.
	Errors []error

	// ErrFunc, if set, decides the error for each call after Errors is
	// exhausted. Returning nil falls through to Result.
	ErrFunc func(req tts.Request) error

	// Result is returned on success. A nil Result yields a one-sample PCM clip.
	Result *tts.Audio

	// HealthErr is returned by Health.
	HealthErr error

	// StreamChunks is emitted by SynthesizeStream.
	StreamChunks [][]byte

	// StreamRate is the sample rate reported by SynthesizeStream.
	StreamRate int

	// --- Call records ---

	// SynthesizeCalls records every call that reached the backend, in order.
	SynthesizeCalls []SynthesizeCall

	// HealthCalls counts calls to Health.
	HealthCalls int
}

// Ensure Provider implements the tts interfaces at compile time.
var (
	_ tts.Provider       = (*Provider)(nil)
	_ tts.HealthChecker  = (*Provider)(nil)
	_ tts.StreamProvider = (*Provider)(nil)
)

// Name implements tts.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Configured implements tts.Provider.
func (p *Provider) Configured() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ConfiguredErr
}

// Synthesize records the call and returns the next scripted outcome.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConfiguredErr != nil {
		return nil, p.ConfiguredErr
	}
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Request: req})

	if len(p.Errors) > 0 {
		err := p.Errors[0]
		p.Errors = p.Errors[1:]
		if err != nil {
			return nil, err
		}
	} else if p.ErrFunc != nil {
		if err := p.ErrFunc(req); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, tts.Classify(p.Name(), err)
	}
	if p.Result == nil {
		return &tts.Audio{Data: []byte{0, 0}, SampleRate: 22050, Format: tts.FormatPCM}, nil
	}
	out := *p.Result
	out.Data = slices.Clone(p.Result.Data)
	return &out, nil
}

// Health implements tts.HealthChecker.
func (p *Provider) Health(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HealthCalls++
	return p.HealthErr
}

// SynthesizeStream records the call like Synthesize and, on success, emits
// StreamChunks then closes the channel.
func (p *Provider) SynthesizeStream(ctx context.Context, req tts.Request) (<-chan []byte, int, error) {
	p.mu.Lock()
	if p.ConfiguredErr != nil {
		err := p.ConfiguredErr
		p.mu.Unlock()
		return nil, 0, err
	}
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Request: req})
	if len(p.Errors) > 0 {
		err := p.Errors[0]
		p.Errors = p.Errors[1:]
		if err != nil {
			p.mu.Unlock()
			return nil, 0, err
		}
	}
	chunks := slices.Clone(p.StreamChunks)
	rate := p.StreamRate
	p.mu.Unlock()

	if rate == 0 {
		rate = 22050
	}
	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, rate, nil
}

// Calls returns a snapshot of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.SynthesizeCalls)
}

// CallCount returns the number of calls that reached the backend.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.HealthCalls = 0
}
