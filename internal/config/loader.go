package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/castvoice/internal/archetype"
)

// ValidProviderNames lists the TTS adapters that ship with castvoice.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"elevenlabs", "coqui", "fishspeech", "runpod", "openai"}

// Load reads the YAML configuration file at path, applies environment
// overrides (see [ApplyEnv]) and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Environment overrides are not applied.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	providerSeen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := providerSeen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
		}
		providerSeen[p.Name] = i
		validateProviderName(p.Name)
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
		if p.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("%s.rate_limit must not be negative", prefix))
		}
	}
	if len(cfg.Providers) == 0 {
		slog.Warn("no providers configured; every synthesis request will degrade to silence")
	}

	// Synthesis
	errs = append(errs, checkOrder("synthesis.default_order", cfg.Synthesis.DefaultOrder, providerSeen)...)
	errs = append(errs, checkOrder("synthesis.accent_order", cfg.Synthesis.AccentOrder, providerSeen)...)
	if r := cfg.Synthesis.Retries; r != nil && (*r < 0 || *r > 5) {
		errs = append(errs, fmt.Errorf("synthesis.retries %d is out of range [0, 5]", *r))
	}
	if cfg.Synthesis.RetryBackoff < 0 {
		errs = append(errs, errors.New("synthesis.retry_backoff must not be negative"))
	}

	// Characters
	charSeen := make(map[string]int, len(cfg.Characters))
	for i, c := range cfg.Characters {
		prefix := fmt.Sprintf("characters[%d]", i)
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := charSeen[c.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of characters[%d]", prefix, c.ID, prev))
			}
			charSeen[c.ID] = i
		}
		if c.Gender != "" {
			if _, ok := archetype.ParseGender(c.Gender); !ok {
				errs = append(errs, fmt.Errorf("%s.gender %q is invalid; valid values: M, F, NB", prefix, c.Gender))
			}
		}
		errs = append(errs, checkOrder(prefix+".providers", c.Providers, providerSeen)...)
		if c.Reference != nil && c.Reference.Path == "" {
			errs = append(errs, fmt.Errorf("%s.reference.path is required", prefix))
		}
		if c.Description == "" && c.Archetype == "" && len(c.Keywords) == 0 {
			slog.Warn("character has no description, keywords or archetype; it will use the default archetype",
				"character", c.ID,
			)
		}
	}

	// Playback
	if cfg.Playback.Cooldown < 0 {
		errs = append(errs, errors.New("playback.cooldown must not be negative"))
	}
	if cfg.Playback.SafetyMargin < 0 {
		errs = append(errs, errors.New("playback.safety_margin must not be negative"))
	}

	// Enforcement
	if th := cfg.Enforcement.Thresholds; th != nil {
		if th.MinF0Hz <= 0 || th.MaxF0Hz <= th.MinF0Hz {
			errs = append(errs, errors.New("enforcement.thresholds: min_f0_hz and max_f0_hz must satisfy 0 < min < max"))
		}
		if th.Segments < 1 {
			errs = append(errs, errors.New("enforcement.thresholds.segments must be at least 1"))
		}
	}

	return errors.Join(errs...)
}

// checkOrder reports order entries that name no configured provider.
func checkOrder(field string, order []string, providers map[string]int) []error {
	var errs []error
	for i, name := range order {
		if _, ok := providers[name]; !ok {
			errs = append(errs, fmt.Errorf("%s[%d] %q is not a configured provider", field, i, name))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is not a built-in adapter.
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
