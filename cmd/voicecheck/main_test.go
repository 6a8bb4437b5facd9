package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/castvoice/internal/archetype"
	"github.com/MrWong99/castvoice/internal/voice"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMatchCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "match", "A stoic, strategic villain.", "--gender", "f")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	var m archetype.Match
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if m.Archetype.ID != "cold_strategist" || m.Gender != archetype.GenderFemale || m.Fallback {
		t.Errorf("match = %+v", m)
	}
}

func TestMatchCommand_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no input", []string{"match"}, "description"},
		{"bad gender", []string{"match", "a knight", "--gender", "q"}, "unknown gender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRegistryCommands(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry.yaml")

	if _, err := execute(t, "registry", "assign", "vex", "cold_strategist", "--registry", path); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := execute(t, "registry", "set-voice", "cold_strategist", "elevenlabs", "voice-123", "--registry", path); err != nil {
		t.Fatalf("set-voice: %v", err)
	}
	if _, err := execute(t, "registry", "assign", "vex", "no_such_archetype", "--registry", path); err == nil {
		t.Error("assign to unknown archetype should fail")
	}

	out, err := execute(t, "registry", "show", "--registry", path)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"vex", "cold_strategist", "voice-123"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestEnforceCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	contracts := filepath.Join(dir, "contracts")
	samples := filepath.Join(dir, "samples")
	results := filepath.Join(dir, "results.json")
	for _, d := range []string{contracts, samples} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeFile(t, filepath.Join(contracts, "calm.yaml"), []byte("id: calm\n"))
	writeFile(t, filepath.Join(contracts, "ghost.yaml"), []byte("id: ghost\n"))
	writeFile(t, filepath.Join(samples, "calm.pcm"), make([]byte, 32000))

	args := []string{"enforce", "--contracts", contracts, "--samples", samples, "--results", results}
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if !strings.Contains(out, "1/2 passed") || !strings.Contains(out, "missing_sample") {
		t.Errorf("output = %q", out)
	}

	data, err := os.ReadFile(results)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil || len(decoded) != 2 {
		t.Errorf("results file = %s (%v)", data, err)
	}

	if _, err := execute(t, append(args, "--strict")...); !errors.Is(err, errContractsFailed) {
		t.Errorf("strict: err = %v, want errContractsFailed", err)
	}
}

func TestEnforceCommand_NoContracts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := execute(t, "enforce", "--contracts", dir, "--samples", dir, "--results", filepath.Join(dir, "r.json"))
	if err == nil || !strings.Contains(err.Error(), "no contracts") {
		t.Errorf("err = %v", err)
	}
}

func TestRegistryClone(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		names []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices/add" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		names = append(names, r.FormValue("name"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"voice_id":"cloned-7"}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, []byte(`providers:
  - name: elevenlabs
    api_key: test-key
    base_url: `+srv.URL+`
  - name: openai
    api_key: test-key
`))
	sample := filepath.Join(dir, "brogan.wav")
	writeFile(t, sample, []byte("RIFFsample"))
	regPath := filepath.Join(dir, "registry.yaml")

	out, err := execute(t, "registry", "clone", "gruff_warrior", "elevenlabs", sample,
		"--name", "brogan", "--registry", regPath, "-c", cfgPath)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if !strings.Contains(out, "cloned-7") {
		t.Errorf("output = %q", out)
	}
	mu.Lock()
	if !slices.Equal(names, []string{"brogan"}) {
		t.Errorf("uploaded names = %v", names)
	}
	mu.Unlock()

	reg, err := voice.LoadRegistry(regPath)
	if err != nil {
		t.Fatal(err)
	}
	if h, ok := reg.VoiceFor("gruff_warrior", "elevenlabs"); !ok || h != "cloned-7" {
		t.Errorf("VoiceFor = %q, %v", h, ok)
	}

	_, err = execute(t, "registry", "clone", "gruff_warrior", "openai", sample, "--registry", regPath, "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "cannot clone") {
		t.Errorf("openai clone: err = %v", err)
	}
	_, err = execute(t, "registry", "clone", "gruff_warrior", "coqui", sample, "--registry", regPath, "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("coqui clone: err = %v", err)
	}
}
