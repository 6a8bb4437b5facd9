package app

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/castvoice/internal/config"
	"github.com/MrWong99/castvoice/pkg/provider/tts/runpod"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)

	want := []string{"coqui", "elevenlabs", "fishspeech", "openai", "runpod"}
	if got := reg.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if !slices.Equal(want, sorted(config.ValidProviderNames)) {
		t.Errorf("ValidProviderNames %v out of sync with built-ins", config.ValidProviderNames)
	}
}

func sorted(s []string) []string {
	s = slices.Clone(s)
	slices.Sort(s)
	return s
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)

	cfg := &config.Config{Providers: []config.ProviderEntry{
		{Name: "coqui", BaseURL: "http://localhost:5002", Options: map[string]any{"api_mode": "xtts", "health_ttl": "30s"}},
		{Name: "elevenlabs", APIKey: "el-key", Timeout: 5 * time.Second, Options: map[string]any{"output_format": "mp3_44100_128"}},
		{Name: "not-a-provider"},
		{Name: "openai"}, // no key: created, but not configured
		{Name: "runpod", APIKey: "rp", Options: map[string]any{"endpoint_id": "ep-1", "poll_attempts": 3}},
		{Name: "fishspeech", BaseURL: "http://localhost:8080", Options: map[string]any{"format": "wav"}},
	}}

	ps, err := BuildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	var names []string
	for _, p := range ps {
		names = append(names, p.Name())
	}
	if want := []string{"coqui", "elevenlabs", "openai", "runpod", "fishspeech"}; !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
	if err := ps[2].Configured(); err == nil {
		t.Error("openai without key should not be configured")
	}
	if rp, ok := ps[3].(*runpod.Provider); !ok || rp.Mode() != runpod.ModeManaged {
		t.Errorf("runpod provider = %#v", ps[3])
	}
}

func TestBuildProviders_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)

	cfg := &config.Config{Providers: []config.ProviderEntry{
		{Name: "coqui", BaseURL: "http://localhost:5002", Options: map[string]any{"api_mode": "bogus"}},
	}}
	_, err := BuildProviders(cfg, reg)
	if err == nil || !strings.Contains(err.Error(), `create tts provider "coqui"`) {
		t.Errorf("expected coqui factory error, got %v", err)
	}
}

func TestBuildProviders_Empty(t *testing.T) {
	t.Parallel()
	ps, err := BuildProviders(&config.Config{}, config.NewRegistry())
	if err != nil || len(ps) != 0 {
		t.Errorf("BuildProviders(empty) = %v, %v", ps, err)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"s":     "value",
		"i":     8000,
		"f":     12.0,
		"istr":  "42",
		"dur":   "1500ms",
		"secs":  2,
		"fsecs": 0.5,
		"bad":   []string{"x"},
	}

	if got := optString(opts, "s"); got != "value" {
		t.Errorf("optString(s) = %q", got)
	}
	if got := optString(opts, "i"); got != "" {
		t.Errorf("optString(i) = %q, want empty", got)
	}
	if got := optString(nil, "s"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}

	intTests := map[string]int{"i": 8000, "f": 12, "istr": 42, "s": 0, "bad": 0, "missing": 0}
	for key, want := range intTests {
		if got := optInt(opts, key); got != want {
			t.Errorf("optInt(%s) = %d, want %d", key, got, want)
		}
	}

	durTests := map[string]time.Duration{
		"dur":   1500 * time.Millisecond,
		"secs":  2 * time.Second,
		"fsecs": 500 * time.Millisecond,
		"s":     0,
		"bad":   0,
	}
	for key, want := range durTests {
		if got := optDuration(opts, key); got != want {
			t.Errorf("optDuration(%s) = %v, want %v", key, got, want)
		}
	}
}
