package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/castvoice/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: []config.ProviderEntry{{Name: "elevenlabs", APIKey: "k"}, {Name: "coqui"}},
		Synthesis: config.SynthesisConfig{DefaultOrder: []string{"elevenlabs", "coqui"}},
		Characters: []config.CharacterConfig{
			{ID: "vex", Description: "cold strategist", Gender: "F"},
			{ID: "brogan", Description: "loud smith", Accent: true},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.CharactersChanged || d.SynthesisChanged || d.LogLevelChanged {
		t.Errorf("expected no changes, got %+v", d)
	}
	if len(d.CharacterChanges) != 0 || len(d.RestartRequired) != 0 {
		t.Errorf("expected empty change lists, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone must not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_Characters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   []config.CharacterDiff
	}{
		{
			name:   "description changed",
			mutate: func(c *config.Config) { c.Characters[0].Description = "warm healer" },
			want:   []config.CharacterDiff{{ID: "vex", VoiceChanged: true}},
		},
		{
			name:   "gender changed",
			mutate: func(c *config.Config) { c.Characters[0].Gender = "M" },
			want:   []config.CharacterDiff{{ID: "vex", VoiceChanged: true}},
		},
		{
			name:   "provider override changed",
			mutate: func(c *config.Config) { c.Characters[0].Providers = []string{"coqui"} },
			want:   []config.CharacterDiff{{ID: "vex", ProvidersChanged: true}},
		},
		{
			name:   "accent flag cleared",
			mutate: func(c *config.Config) { c.Characters[1].Accent = false },
			want:   []config.CharacterDiff{{ID: "brogan", ProvidersChanged: true}},
		},
		{
			name: "reference clip added",
			mutate: func(c *config.Config) {
				c.Characters[0].Reference = &config.ReferenceConfig{Path: "refs/vex.wav"}
			},
			want: []config.CharacterDiff{{ID: "vex", VoiceChanged: true}},
		},
		{
			name: "added and removed",
			mutate: func(c *config.Config) {
				c.Characters = []config.CharacterConfig{c.Characters[0], {ID: "ash", Description: "whispering ghost"}}
			},
			want: []config.CharacterDiff{{ID: "ash", Added: true}, {ID: "brogan", Removed: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !d.CharactersChanged {
				t.Error("expected CharactersChanged=true")
			}
			if !slices.Equal(d.CharacterChanges, tt.want) {
				t.Errorf("CharacterChanges = %+v, want %+v", d.CharacterChanges, tt.want)
			}
		})
	}
}

func TestDiff_SynthesisChanged(t *testing.T) {
	t.Parallel()
	retries := 2

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"order", func(c *config.Config) { c.Synthesis.DefaultOrder = []string{"coqui", "elevenlabs"} }},
		{"accent order", func(c *config.Config) { c.Synthesis.AccentOrder = []string{"coqui"} }},
		{"retries set", func(c *config.Config) { c.Synthesis.Retries = &retries }},
		{"backoff", func(c *config.Config) { c.Synthesis.RetryBackoff = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !d.SynthesisChanged {
				t.Error("expected SynthesisChanged=true")
			}
			if d.CharactersChanged {
				t.Error("expected CharactersChanged=false")
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Providers[0].APIKey = "rotated"
	new.Store.PostgresDSN = "postgres://db/castvoice"
	new.Registry.Path = "voices.yaml"

	d := config.Diff(baseConfig(), new)
	want := []string{"server", "providers", "store", "catalog"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}

func TestDiff_EmptyOptionsEqual(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Providers[1].Options = map[string]any{}

	d := config.Diff(baseConfig(), new)
	if len(d.RestartRequired) != 0 {
		t.Errorf("empty and nil options should compare equal, got %v", d.RestartRequired)
	}
}
