// Package app wires the castvoice subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New loads the archetype catalog and
// voice registry, opens the profile store and assembles the synthesis
// orchestrator; Run serves the HTTP API until the context is cancelled; and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithCatalog,
// WithRegistry, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/castvoice/internal/archetype"
	"github.com/MrWong99/castvoice/internal/config"
	"github.com/MrWong99/castvoice/internal/health"
	"github.com/MrWong99/castvoice/internal/observe"
	"github.com/MrWong99/castvoice/internal/synth"
	"github.com/MrWong99/castvoice/internal/voice"
	"github.com/MrWong99/castvoice/internal/voicestore"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	catalog    *archetype.Catalog
	registry   *voice.Registry
	matcher    *archetype.Matcher
	resolver   *voice.Resolver
	store      voicestore.Store
	characters *Characters
	extraChars synth.CharacterSource
	orch       *synth.Orchestrator
	metrics    *observe.Metrics
	health     *health.Handler
	logLevel   *slog.LevelVar

	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a profile store instead of creating one from config.
func WithStore(s voicestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCatalog injects an archetype catalog instead of loading one.
func WithCatalog(c *archetype.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithRegistry injects a voice registry instead of loading one.
func WithRegistry(r *voice.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithCharacterSource adds a source for characters the config does not list,
// such as a campaign database. Its errors reach the caller unchanged.
func WithCharacterSource(src synth.CharacterSource) Option {
	return func(a *App) { a.extraChars = src }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] adjust the process log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers comes from
// main (built via the config registry), in config order.
func New(ctx context.Context, cfg *config.Config, providers []tts.Provider, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Archetype catalog ─────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 2. Voice registry ────────────────────────────────────────────────
	if err := a.initRegistry(); err != nil {
		return nil, fmt.Errorf("app: init registry: %w", err)
	}

	// ── 3. Profile store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 4. Matcher, resolver, orchestrator ───────────────────────────────
	a.matcher = archetype.NewMatcher(a.catalog)
	a.resolver = voice.NewResolver(a.catalog, a.registry, voice.WithMetrics(a.metrics))
	a.characters = NewCharacters(cfg.Characters)
	a.characters.fallback = a.extraChars

	orchOpts := []synth.Option{
		synth.WithStore(a.store),
		synth.WithCharacters(a.characters),
		synth.WithPreferences(preferencesFromConfig(cfg.Synthesis)),
		synth.WithMetrics(a.metrics),
	}
	for _, p := range cfg.Providers {
		if p.RateLimit > 0 {
			orchOpts = append(orchOpts, synth.WithRateLimit(p.Name, p.RateLimit))
		}
	}
	a.orch = synth.New(providers, a.resolver, a.matcher, orchOpts...)

	// ── 5. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.orch, health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := a.store.Get(ctx, "readyz")
			return err
		},
	})

	slog.Info("app initialised",
		"archetypes", a.catalog.Len(),
		"providers", a.orch.Providers(),
		"characters", a.characters.Len(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCatalog loads the configured catalog, or the embedded one.
func (a *App) initCatalog() error {
	if a.catalog != nil {
		return nil
	}
	var err error
	if path := a.cfg.Catalog.Path; path != "" {
		a.catalog, err = archetype.Load(path)
	} else {
		a.catalog, err = archetype.Embedded()
	}
	return err
}

// initRegistry loads the voice registry. A missing file yields an empty one.
func (a *App) initRegistry() error {
	if a.registry != nil {
		return nil
	}
	path := a.cfg.Registry.Path
	if path == "" {
		a.registry = voice.NewRegistry()
		return nil
	}
	r, err := voice.LoadRegistry(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("voice registry not found, every archetype uses the default voice", "path", path)
		a.registry = voice.NewRegistry()
		return nil
	}
	if err != nil {
		return err
	}
	a.registry = r
	return nil
}

// initStore opens the PostgreSQL store or falls back to memory.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Info("no store.postgres_dsn configured, keeping voice profiles in memory")
		a.store = voicestore.NewMemStore()
		return nil
	}
	store, closeFn, err := voicestore.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		closeFn()
		return nil
	})
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the synthesis orchestrator.
func (a *App) Orchestrator() *synth.Orchestrator { return a.orch }

// Matcher returns the archetype matcher.
func (a *App) Matcher() *archetype.Matcher { return a.matcher }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. It is meant to be
// passed to [config.NewWatcher]. Sections that need a restart are logged.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)

	if d.SynthesisChanged {
		a.orch.SetPreferences(preferencesFromConfig(next.Synthesis))
		slog.Info("synthesis preferences reloaded",
			"default_order", next.Synthesis.DefaultOrder,
			"accent_order", next.Synthesis.AccentOrder,
		)
	}
	if d.CharactersChanged {
		a.characters.Replace(next.Characters)
		for _, c := range d.CharacterChanges {
			slog.Info("character reloaded",
				"character", c.ID,
				"added", c.Added,
				"removed", c.Removed,
				"voice_changed", c.VoiceChanged,
				"providers_changed", c.ProvidersChanged,
			)
		}
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that only apply after a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level onto slog. Unknown values map to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on cfg.Server.ListenAddr and blocks until ctx is
// cancelled or the listener fails. On cancellation it returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and runs the closers. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
