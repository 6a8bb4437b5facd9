// Package synth orchestrates speech synthesis across the configured TTS
// adapters.
//
// For each request the [Orchestrator] picks a provider order for the
// character, resolves the character's voice on each adapter in turn and calls
// it, retrying transient failures and failing over to the next adapter
// otherwise. A request that exhausts every adapter yields no audio and no
// error: callers receive a nil clip plus an [Outcome] and carry on silently.
//
// Each adapter is guarded by its own circuit breaker and an optional
// token-bucket rate limit.
package synth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MrWong99/castvoice/internal/archetype"
	"github.com/MrWong99/castvoice/internal/observe"
	"github.com/MrWong99/castvoice/internal/resilience"
	"github.com/MrWong99/castvoice/internal/voice"
	"github.com/MrWong99/castvoice/internal/voicestore"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// Preferences are the ordering and retry rules. They can be swapped at
// runtime with [Orchestrator.SetPreferences].
type Preferences struct {
	// DefaultOrder is used for characters without their own order.
	DefaultOrder []string

	// AccentOrder is used for accent-sensitive characters without their own
	// order. Empty falls back to DefaultOrder.
	AccentOrder []string

	// Retries is the number of extra attempts on the same adapter after a
	// timeout or unavailability.
	Retries int

	// RetryBackoff is the pause before each retry.
	RetryBackoff time.Duration
}

// DefaultPreferences retries once and uses registration order.
func DefaultPreferences() Preferences {
	return Preferences{Retries: 1}
}

// adapter is one registered provider with its guards.
type adapter struct {
	provider tts.Provider
	breaker  *resilience.CircuitBreaker
	limiter  *rate.Limiter
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithStore sets the voice profile store. Defaults to an in-memory store.
func WithStore(s voicestore.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithCharacters sets the character source. Defaults to an empty set.
func WithCharacters(cs CharacterSource) Option {
	return func(o *Orchestrator) { o.characters = cs }
}

// WithPreferences sets the initial ordering and retry rules.
func WithPreferences(p Preferences) Option {
	return func(o *Orchestrator) { o.prefs = p }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithBreakerConfig sets the circuit breaker template applied to every
// adapter. Name and IsFailure are filled in per adapter.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(o *Orchestrator) { o.breakerCfg = cfg }
}

// WithRateLimit caps calls to the named adapter at rps requests per second.
// Zero or negative rps removes the cap.
func WithRateLimit(name string, rps float64) Option {
	return func(o *Orchestrator) {
		if o.rateLimits == nil {
			o.rateLimits = make(map[string]float64)
		}
		o.rateLimits[name] = rps
	}
}

// Orchestrator renders text for characters across a set of adapters.
// It is safe for concurrent use.
type Orchestrator struct {
	adapters map[string]*adapter
	names    []string

	resolver   *voice.Resolver
	matcher    *archetype.Matcher
	store      voicestore.Store
	characters CharacterSource
	metrics    *observe.Metrics
	breakerCfg resilience.CircuitBreakerConfig
	rateLimits map[string]float64

	mu    sync.RWMutex
	prefs Preferences
}

// New creates an Orchestrator over providers, tried in the given order when
// no preference says otherwise. Providers with a duplicate name are ignored.
func New(providers []tts.Provider, resolver *voice.Resolver, matcher *archetype.Matcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters: make(map[string]*adapter, len(providers)),
		resolver: resolver,
		matcher:  matcher,
		prefs:    DefaultPreferences(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = voicestore.NewMemStore()
	}
	if o.characters == nil {
		o.characters = StaticCharacters{}
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	for _, p := range providers {
		name := p.Name()
		if _, dup := o.adapters[name]; dup {
			slog.Warn("synth: duplicate provider ignored", "provider", name)
			continue
		}
		cfg := o.breakerCfg
		cfg.Name = name
		cfg.IsFailure = tts.IsTransient
		a := &adapter{provider: p, breaker: resilience.NewCircuitBreaker(cfg)}
		if rps := o.rateLimits[name]; rps > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
		o.adapters[name] = a
		o.names = append(o.names, name)
	}
	return o
}

// Providers returns the registered adapter names in registration order.
func (o *Orchestrator) Providers() []string {
	return slices.Clone(o.names)
}

// Provider returns the named adapter.
func (o *Orchestrator) Provider(name string) (tts.Provider, bool) {
	a, ok := o.adapters[name]
	if !ok {
		return nil, false
	}
	return a.provider, true
}

// Preferences returns the current ordering and retry rules.
func (o *Orchestrator) Preferences() Preferences {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.prefs
}

// SetPreferences swaps the ordering and retry rules. Requests in flight keep
// the rules they started with.
func (o *Orchestrator) SetPreferences(p Preferences) {
	o.mu.Lock()
	o.prefs = p
	o.mu.Unlock()
	slog.Info("synth: preferences updated",
		"default_order", p.DefaultOrder, "accent_order", p.AccentOrder, "retries", p.Retries)
}

// Synthesize renders req and returns the clip with an [Outcome]. When every
// adapter fails it returns a nil clip; it never returns an error and never
// panics.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (*tts.Audio, Outcome) {
	start := time.Now()
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	out := Outcome{State: StateIdle, CharacterID: req.CharacterID, MessageID: req.MessageID}

	ctx, span := observe.StartSynthesisSpan(ctx, "synth.Synthesize", req.CharacterID, req.MessageID)
	defer span.End()
	log := observe.Logger(ctx).With("character_id", req.CharacterID, "message_id", req.MessageID)

	finish := func(audio *tts.Audio) (*tts.Audio, Outcome) {
		out.Elapsed = time.Since(start)
		o.metrics.RecordSynthesis(ctx, out.State.String(), out.Provider, out.Elapsed.Seconds())
		if audio == nil {
			span.SetStatus(codes.Error, "all providers failed")
			log.Warn("synth: no audio produced", "outcome", out)
		} else {
			log.Info("synth: audio produced", "outcome", out)
		}
		return audio, out
	}

	if strings.TrimSpace(req.Text) == "" {
		out.State = StateFailed
		return finish(nil)
	}

	c, prefs := o.character(ctx, req.CharacterID), o.Preferences()
	vc := o.voiceCharacter(ctx, c)

	for i, name := range o.order(req.ProviderOverride, c, prefs) {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && len(out.Attempts) > 0 {
			transition(ctx, log, &out, StateFailedOver, name, start)
			prev := out.Attempts[len(out.Attempts)-1]
			o.metrics.RecordFailover(ctx, prev.Provider, prev.Kind())
		}
		a, ok := o.adapters[name]
		if !ok {
			log.Debug("synth: provider in order is not registered", "provider", name)
			out.Attempts = append(out.Attempts, Attempt{Provider: name, Err: tts.NotConfigured(name, "not registered")})
			continue
		}
		transition(ctx, log, &out, StateProviderSelected, name, start)
		audio, err := o.tryAdapter(ctx, log, a, tts.Request{Text: req.Text, Reference: c.Reference}, vc, prefs, &out, start)
		if err == nil {
			out.State = StateSucceeded
			out.Provider = name
			observe.SetProvider(span, name)
			return finish(audio)
		}
	}
	transition(ctx, log, &out, StateFailed, "", start)
	return finish(nil)
}

// tryAdapter runs the retry and default-voice policy against one adapter.
// base carries the text and the character's reference clip; the voice is
// resolved per adapter.
func (o *Orchestrator) tryAdapter(ctx context.Context, log *slog.Logger, a *adapter, base tts.Request, vc voice.Character, prefs Preferences, out *Outcome, start time.Time) (*tts.Audio, error) {
	name := a.provider.Name()
	if err := a.provider.Configured(); err != nil {
		log.Debug("synth: provider not configured", "provider", name, "err", err)
		out.Attempts = append(out.Attempts, Attempt{Provider: name, Err: err})
		return nil, err
	}

	params, res := o.resolver.ResolveCharacter(ctx, vc, name)
	req := base
	req.Voice = params

	var audio *tts.Audio
	policy := resilience.RetryPolicy{
		Retries:   prefs.Retries,
		Backoff:   prefs.RetryBackoff,
		Retryable: retryable,
	}
	err := resilience.Retry(ctx, policy, func(attempt int) error {
		if attempt > 0 {
			transition(ctx, log, out, StateRetrying, name, start)
		}
		transition(ctx, log, out, StateSynthesizing, name, start)
		var err error
		audio, err = o.call(ctx, a, req, out)
		return err
	})
	if err == nil {
		out.Resolution = res
		return audio, nil
	}

	if errors.Is(err, tts.ErrRemoteRejected) && !params.IsDefault() {
		log.Info("synth: voice rejected, retrying with default voice",
			"provider", name, "voice_id", params.VoiceID, "err", err)
		req.Voice.VoiceID = tts.DefaultVoice
		transition(ctx, log, out, StateRetrying, name, start)
		if audio, err = o.call(ctx, a, req, out); err == nil {
			res.Label = voice.DefaultLabel
			out.Resolution = res
			out.DefaultVoice = true
			return audio, nil
		}
	}
	log.Warn("synth: provider failed", "provider", name, "kind", kindName(err), "err", err)
	return nil, err
}

// call makes one guarded adapter call and records it.
func (o *Orchestrator) call(ctx context.Context, a *adapter, req tts.Request, out *Outcome) (*tts.Audio, error) {
	name := a.provider.Name()
	start := time.Now()
	audio, err := o.guardedSynthesize(ctx, a, req)
	elapsed := time.Since(start)

	out.Attempts = append(out.Attempts, Attempt{Provider: name, VoiceID: req.Voice.VoiceID, Err: err, Elapsed: elapsed})
	status := "ok"
	if err != nil {
		status = kindName(err)
		o.metrics.RecordProviderError(ctx, name, status)
	}
	o.metrics.RecordProviderRequest(ctx, name, "synthesize", status)
	o.metrics.ProviderDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("provider", name), observe.Attr("status", status)))
	return audio, err
}

func (o *Orchestrator) guardedSynthesize(ctx context.Context, a *adapter, req tts.Request) (*tts.Audio, error) {
	name := a.provider.Name()
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, tts.NewError(name, tts.KindTimeout, err)
		}
	}
	if err := a.breaker.Allow(); err != nil {
		return nil, tts.NewError(name, tts.KindUnavailable, err)
	}
	audio, err := a.provider.Synthesize(ctx, req)
	if err == nil && (audio == nil || len(audio.Data) == 0) {
		err = tts.Empty(name)
	}
	if err != nil {
		err = tts.Classify(name, err)
	}
	a.breaker.Record(err)
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// retryable reports whether the same adapter should be tried again. An open
// breaker is reported as unavailable but is not worth retrying.
func retryable(err error) bool {
	return tts.IsTransient(err) && !errors.Is(err, resilience.ErrCircuitOpen)
}

func kindName(err error) string {
	if k, ok := tts.KindOf(err); ok {
		return k.String()
	}
	return "error"
}

func transition(ctx context.Context, log *slog.Logger, out *Outcome, to State, provider string, start time.Time) {
	out.State = to
	log.DebugContext(ctx, "synth: "+to.String(),
		"provider", provider, "elapsed", time.Since(start))
}

// order returns the providers to try: the override, then the character's
// order, else the accent order for accent-sensitive characters, else the
// default order, else registration order. Duplicates are dropped.
func (o *Orchestrator) order(override string, c Character, prefs Preferences) []string {
	var base []string
	switch {
	case len(c.Providers) > 0:
		base = c.Providers
	case c.Accent && len(prefs.AccentOrder) > 0:
		base = prefs.AccentOrder
	case len(prefs.DefaultOrder) > 0:
		base = prefs.DefaultOrder
	default:
		base = o.names
	}
	out := make([]string, 0, len(base)+1)
	if override != "" {
		out = append(out, override)
	}
	for _, n := range base {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// character looks up id, falling back to a bare character on any error.
func (o *Orchestrator) character(ctx context.Context, id string) Character {
	c, err := o.characters.Character(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrUnknownCharacter) {
			observe.Logger(ctx).Warn("synth: character lookup failed", "character_id", id, "err", err)
		}
		return Character{ID: id}
	}
	if c.ID == "" {
		c.ID = id
	}
	return c
}

// voiceCharacter loads the character's voice profile, creating it from the
// matcher on first use, and returns what the resolver needs.
func (o *Orchestrator) voiceCharacter(ctx context.Context, c Character) voice.Character {
	vc := voice.Character{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Category:    c.Category,
		Keywords:    c.Keywords,
		Archetype:   c.Archetype,
	}
	p, err := o.Profile(ctx, c)
	if err != nil {
		observe.Logger(ctx).Warn("synth: voice profile unavailable", "character_id", c.ID, "err", err)
	}
	if p != nil {
		if p.ArchetypeID != "" {
			vc.Archetype = p.ArchetypeID
		}
		vc.Voices = p.ProviderVoices
		vc.Params = p.Params
	}
	return vc
}

// Profile returns the stored voice profile of c, creating it from the
// archetype matcher when none exists. A match that fell back to the catalog
// default leaves the archetype empty so it is detected per request. Store
// failures return the in-memory profile alongside the error.
func (o *Orchestrator) Profile(ctx context.Context, c Character) (*voicestore.Profile, error) {
	if c.ID == "" {
		return nil, nil
	}
	p, err := o.store.Get(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	m := o.matcher.Match(strings.Join([]string{c.Name, c.Description, c.Category}, " "), c.Keywords, c.Gender)
	p = &voicestore.Profile{
		CharacterID:  c.ID,
		ArchetypeID:  c.Archetype,
		Gender:       m.Gender,
		VoiceProfile: m.VoiceProfile.ID,
	}
	if p.ArchetypeID == "" && !m.Fallback {
		p.ArchetypeID = m.Archetype.ID
	}
	switch err := o.store.Create(ctx, p); {
	case err == nil:
		observe.Logger(ctx).Info("synth: voice profile created",
			"character_id", c.ID, "archetype", p.ArchetypeID, "gender", p.Gender,
			"confidence", m.Confidence)
		return p, nil
	case errors.Is(err, voicestore.ErrExists):
		if stored, gerr := o.store.Get(ctx, c.ID); gerr == nil && stored != nil {
			return stored, nil
		}
		return p, nil
	default:
		return p, err
	}
}

// Stream starts a streaming synthesis on the first streaming-capable adapter
// in the character's order. There are no retries; a failed setup fails over.
// When no adapter can stream, the channel is nil.
func (o *Orchestrator) Stream(ctx context.Context, req Request) (<-chan []byte, int, Outcome) {
	start := time.Now()
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	out := Outcome{State: StateIdle, CharacterID: req.CharacterID, MessageID: req.MessageID}
	ctx, span := observe.StartSynthesisSpan(ctx, "synth.Stream", req.CharacterID, req.MessageID)
	defer span.End()
	log := observe.Logger(ctx).With("character_id", req.CharacterID, "message_id", req.MessageID)

	c, prefs := o.character(ctx, req.CharacterID), o.Preferences()
	vc := o.voiceCharacter(ctx, c)

	for _, name := range o.order(req.ProviderOverride, c, prefs) {
		a, ok := o.adapters[name]
		if !ok {
			continue
		}
		sp, ok := a.provider.(tts.StreamProvider)
		if !ok {
			continue
		}
		if err := a.provider.Configured(); err != nil {
			out.Attempts = append(out.Attempts, Attempt{Provider: name, Err: err})
			continue
		}
		if err := a.breaker.Allow(); err != nil {
			out.Attempts = append(out.Attempts, Attempt{Provider: name, Err: tts.NewError(name, tts.KindUnavailable, err)})
			continue
		}
		params, res := o.resolver.ResolveCharacter(ctx, vc, name)
		transition(ctx, log, &out, StateSynthesizing, name, start)
		ch, sampleRate, err := sp.SynthesizeStream(ctx, tts.Request{Text: req.Text, Voice: params, Reference: c.Reference})
		if err != nil {
			err = tts.Classify(name, err)
		}
		a.breaker.Record(err)
		out.Attempts = append(out.Attempts, Attempt{Provider: name, VoiceID: params.VoiceID, Err: err, Elapsed: time.Since(start)})
		if err != nil {
			log.Warn("synth: stream setup failed", "provider", name, "err", err)
			o.metrics.RecordFailover(ctx, name, kindName(err))
			continue
		}
		out.State, out.Provider, out.Resolution = StateSucceeded, name, res
		observe.SetProvider(span, name)
		out.Elapsed = time.Since(start)
		o.metrics.RecordProviderRequest(ctx, name, "stream", "ok")
		return ch, sampleRate, out
	}
	out.State = StateFailed
	out.Elapsed = time.Since(start)
	log.Warn("synth: no streaming provider available", "outcome", out)
	return nil, 0, out
}

// Probe checks every adapter concurrently and returns the result per name.
// A nil entry means the adapter is configured and, if it has a health
// check, passed it.
func (o *Orchestrator) Probe(ctx context.Context) map[string]error {
	var (
		mu      sync.Mutex
		results = make(map[string]error, len(o.names))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range o.names {
		a := o.adapters[name]
		g.Go(func() error {
			err := a.provider.Configured()
			if hc, ok := a.provider.(tts.HealthChecker); ok && err == nil {
				err = hc.Health(gctx)
			}
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
