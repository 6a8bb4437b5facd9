package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Overrides are the settings that may come from the environment instead of
// the config file. Unset variables leave the file's values alone.
type Overrides struct {
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	FishSpeechAPIKey string `env:"FISHSPEECH_API_KEY"`
	RunPodAPIKey     string `env:"RUNPOD_API_KEY"`
	RunPodEndpointID string `env:"RUNPOD_ENDPOINT_ID"`
	RunPodPodID      string `env:"RUNPOD_POD_ID"`
	PostgresDSN      string `env:"CASTVOICE_POSTGRES_DSN"`
	ListenAddr       string `env:"CASTVOICE_LISTEN_ADDR"`
	LogLevel         string `env:"CASTVOICE_LOG_LEVEL"`
}

// ReadOverrides parses the overrides from environ, or from the process
// environment when environ is nil.
func ReadOverrides(environ map[string]string) (Overrides, error) {
	var o Overrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return Overrides{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return o, nil
}

// ApplyEnv copies environment overrides into cfg. Credentials go to the
// provider entry of the same name; an override for a provider that is not
// configured is ignored. environ nil reads the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	o, err := ReadOverrides(environ)
	if err != nil {
		return err
	}

	setProvider(cfg, "elevenlabs", func(p *ProviderEntry) { setString(&p.APIKey, o.ElevenLabsAPIKey) })
	setProvider(cfg, "openai", func(p *ProviderEntry) { setString(&p.APIKey, o.OpenAIAPIKey) })
	setProvider(cfg, "fishspeech", func(p *ProviderEntry) { setString(&p.APIKey, o.FishSpeechAPIKey) })
	setProvider(cfg, "runpod", func(p *ProviderEntry) {
		setString(&p.APIKey, o.RunPodAPIKey)
		setOption(p, "endpoint_id", o.RunPodEndpointID)
		setOption(p, "pod_id", o.RunPodPodID)
	})

	setString(&cfg.Store.PostgresDSN, o.PostgresDSN)
	setString(&cfg.Server.ListenAddr, o.ListenAddr)
	if o.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(o.LogLevel)
	}
	return nil
}

func setProvider(cfg *Config, name string, fn func(*ProviderEntry)) {
	for i := range cfg.Providers {
		if cfg.Providers[i].Name == name {
			fn(&cfg.Providers[i])
		}
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setOption(p *ProviderEntry, key, v string) {
	if v == "" {
		return
	}
	if p.Options == nil {
		p.Options = make(map[string]any)
	}
	p.Options[key] = v
}
