package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrWong99/castvoice/internal/config"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
	"github.com/MrWong99/castvoice/pkg/provider/tts/coqui"
	"github.com/MrWong99/castvoice/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/castvoice/pkg/provider/tts/fishspeech"
	oaitts "github.com/MrWong99/castvoice/pkg/provider/tts/openai"
	"github.com/MrWong99/castvoice/pkg/provider/tts/runpod"
)

// RegisterBuiltinProviders wires the factories of every adapter that ships
// with castvoice into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, elevenlabs.WithTimeout(entry.Timeout))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if v := optString(entry.Options, "default_voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if ttl := optDuration(entry.Options, "health_ttl"); ttl > 0 {
			opts = append(opts, coqui.WithHealthTTL(ttl))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		if s := optString(entry.Options, "default_speaker"); s != "" {
			opts = append(opts, coqui.WithDefaultSpeaker(s))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("fishspeech", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []fishspeech.Option
		if entry.APIKey != "" {
			opts = append(opts, fishspeech.WithAPIKey(entry.APIKey))
		}
		if entry.Timeout > 0 {
			opts = append(opts, fishspeech.WithTimeout(entry.Timeout))
		}
		if f := optString(entry.Options, "format"); f != "" {
			opts = append(opts, fishspeech.WithFormat(f))
		}
		return fishspeech.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaitts.WithTimeout(entry.Timeout))
		}
		if f := optString(entry.Options, "format"); f != "" {
			opts = append(opts, oaitts.WithFormat(tts.Format(f)))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("runpod", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []runpod.Option
		if id := optString(entry.Options, "endpoint_id"); id != "" {
			opts = append(opts, runpod.WithEndpointID(id))
		}
		if id := optString(entry.Options, "pod_id"); id != "" {
			opts = append(opts, runpod.WithPodID(id))
		}
		if port := optInt(entry.Options, "pod_port"); port > 0 {
			opts = append(opts, runpod.WithPodPort(port))
		}
		if u := optString(entry.Options, "pod_url"); u != "" {
			opts = append(opts, runpod.WithPodURL(u))
		}
		if entry.BaseURL != "" {
			opts = append(opts, runpod.WithAPIBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, runpod.WithTimeout(entry.Timeout))
		}
		opts = append(opts, runpod.WithPolling(
			optDuration(entry.Options, "poll_interval"),
			optInt(entry.Options, "poll_attempts"),
			optDuration(entry.Options, "poll_max_wait"),
		))
		return runpod.New(entry.APIKey, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "kind", "tts", "name", name)
	}
}

// BuildProviders instantiates every adapter listed in cfg, in config order.
// Unknown names are skipped with a warning; a factory error aborts.
func BuildProviders(cfg *config.Config, reg *config.Registry) ([]tts.Provider, error) {
	var out []tts.Provider
	for _, entry := range cfg.Providers {
		p, err := reg.CreateTTS(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered, skipping", "kind", "tts", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		if err := p.Configured(); err != nil {
			slog.Warn("provider created but not configured; requests will fail over", "name", entry.Name, "err", err)
		} else {
			slog.Info("provider created", "kind", "tts", "name", entry.Name)
		}
		out = append(out, p)
	}
	return out, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer. YAML decodes numbers as int or float64; numeric
// strings are accepted too. Anything else yields 0.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// optDuration extracts a duration written as a Go duration string ("30s") or
// as a number of seconds. Anything unparseable yields 0.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, _ := time.ParseDuration(v)
		return d
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return 0
}
