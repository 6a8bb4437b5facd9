package enforce

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/castvoice/internal/observe"
	"github.com/MrWong99/castvoice/internal/synth"
	"github.com/MrWong99/castvoice/pkg/audio"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

const contractYAML = `id: vex
display_name: Vex
archetype: cold_strategist
psych_profile: Calculating and patient.
voice_requirements:
  gender: F
  age_range: [30, 45]
  pitch_range_hz: [100, 200]
  max_pitch_variance: 40
  max_tempo_bpm: 160
  max_rms: 0.10
forbidden_traits:
  - giggling
test_script: You will do exactly as I planned.
`

func TestLoadContractFromReader(t *testing.T) {
	t.Parallel()

	c, err := LoadContractFromReader(strings.NewReader(contractYAML))
	if err != nil {
		t.Fatalf("LoadContractFromReader: %v", err)
	}
	if c.ID != "vex" || c.Requirements.PitchRangeHz != [2]float64{100, 200} || c.Requirements.MaxRMS != 0.10 {
		t.Errorf("contract = %+v", c)
	}
	if c.Requirements.AgeRange != [2]int{30, 45} || len(c.ForbiddenTraits) != 1 {
		t.Errorf("contract = %+v", c)
	}

	if _, err := LoadContractFromReader(strings.NewReader(contractYAML + "voice: x\n")); err == nil {
		t.Error("expected error for unknown field")
	}

	bad := `id: ""
voice_requirements:
  gender: Q
  pitch_range_hz: [300, 100]
  max_rms: 2
forbidden_traits: [""]
`
	_, err = LoadContractFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"id is required", "gender", "pitch_range_hz", "max_rms", "forbidden_traits[0]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadContracts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "b_vex.yaml"), []byte(contractYAML))
	write(t, filepath.Join(dir, "a_ghost.yml"), []byte("id: ghost\n"))
	write(t, filepath.Join(dir, "notes.txt"), []byte("not a contract"))

	cs, err := LoadContracts(dir)
	if err != nil {
		t.Fatalf("LoadContracts: %v", err)
	}
	if len(cs) != 2 || cs[0].ID != "ghost" || cs[1].ID != "vex" {
		t.Fatalf("contracts = %+v", cs)
	}

	write(t, filepath.Join(dir, "c_dup.yaml"), []byte("id: vex\n"))
	if _, err := LoadContracts(dir); err == nil || !strings.Contains(err.Error(), "vex") {
		t.Errorf("duplicate id: err = %v", err)
	}
}

func write(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func wav(samples []int16) []byte {
	return audio.EncodeWAV(audio.Bytes(samples), AnalysisRate, 1)
}

func TestPipeline_Run(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	write(t, filepath.Join(dir, "vex.wav"), wav(sine(160, 0.05, 1)))
	write(t, filepath.Join(dir, "loud.pcm"), audio.Bytes(sine(160, 0.3, 1)))
	write(t, filepath.Join(dir, "broken.wav"), []byte("RIFF....WAVEjunk"))

	vex, err := LoadContractFromReader(strings.NewReader(contractYAML))
	if err != nil {
		t.Fatal(err)
	}
	loud := &Contract{ID: "loud", Requirements: Requirements{MaxRMS: 0.1}, ForbiddenTraits: []string{"shouting"}}
	contracts := []*Contract{vex, {ID: "ghost"}, {ID: "broken"}, loud}

	p := NewPipeline(dir, WithMetrics(m))
	results, err := p.Run(context.Background(), contracts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != len(contracts) {
		t.Fatalf("results = %d, want %d", len(results), len(contracts))
	}

	want := []struct {
		character string
		status    Status
		passed    bool
		score     float64
	}{
		{"vex", StatusPassed, true, 100},
		{"ghost", StatusMissingSample, false, 0},
		{"broken", StatusDecodeError, false, 0},
		{"loud", StatusFailed, false, 60},
	}
	for i, w := range want {
		r := results[i]
		if r.Character != w.character || r.Status != w.status || r.Passed != w.passed || r.Score != w.score {
			t.Errorf("results[%d] = {%s %s %v %v}, want %+v", i, r.Character, r.Status, r.Passed, r.Score, w)
		}
	}
	if results[0].Analysis == nil || results[0].Sample != filepath.Join(dir, "vex.wav") {
		t.Errorf("vex result = %+v", results[0])
	}
	if results[1].Analysis != nil {
		t.Error("missing sample should carry no analysis")
	}
	if results[2].Error == "" {
		t.Error("decode error should carry the error text")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	if got := runs(rm, string(StatusMissingSample)); got != 1 {
		t.Errorf("missing_sample runs = %d, want 1", got)
	}
}

func runs(rm metricdata.ResourceMetrics, status string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "castvoice.enforcement.runs" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return -1
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("status")); ok && v.AsString() == status {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestPipeline_RunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := NewPipeline(t.TempDir()).Run(ctx, []*Contract{{ID: "a"}})
	if !errors.Is(err, context.Canceled) || len(results) != 0 {
		t.Errorf("Run = %d results, %v", len(results), err)
	}
}

func TestWriteResults_Overwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "results.json")
	first := []Result{
		Score(&Contract{ID: "a"}, Analysis{Traits: []string{}}),
		unscored(&Contract{ID: "b"}, StatusMissingSample, "", nil),
	}
	if err := WriteResults(path, first); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}
	if err := WriteResults(path, first[1:]); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("results are not a JSON array: %v", err)
	}
	if len(got) != 1 || got[0]["character"] != "b" || got[0]["status"] != "missing_sample" {
		t.Errorf("results = %v", got)
	}
	for _, key := range []string{"passed", "score", "analysis", "violations"} {
		if _, ok := got[0][key]; !ok {
			t.Errorf("result lacks %q", key)
		}
	}

	if err := WriteResults(path, nil); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("empty run wrote %q", data)
	}
}

// fakeSynth renders a fixed tone for every character in voiced.
type fakeSynth struct {
	voiced map[string]tts.Format
}

func (f fakeSynth) Synthesize(_ context.Context, req synth.Request) (*tts.Audio, synth.Outcome) {
	format, ok := f.voiced[req.CharacterID]
	if !ok {
		return nil, synth.Outcome{State: synth.StateFailed, CharacterID: req.CharacterID}
	}
	data := audio.Bytes(sine(160, 0.05, 0.25))
	if format == tts.FormatMP3 {
		data = []byte("ID3 not really mp3")
	}
	return &tts.Audio{Data: data, SampleRate: AnalysisRate, Format: format},
		synth.Outcome{State: synth.StateSucceeded, CharacterID: req.CharacterID, Provider: "fake"}
}

func TestRenderSamples(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "vex.mp3"), []byte("stale"))

	s := fakeSynth{voiced: map[string]tts.Format{"vex": tts.FormatPCM, "dj": tts.FormatMP3}}
	contracts := []*Contract{
		{ID: "vex", TestScript: "Exactly as planned."},
		{ID: "dj", TestScript: "Make some noise!"},
		{ID: "ghost", TestScript: "Boo."},
		{ID: "mute"},
	}
	n, err := RenderSamples(context.Background(), s, contracts, dir)
	if err != nil {
		t.Fatalf("RenderSamples: %v", err)
	}
	if n != 2 {
		t.Errorf("rendered = %d, want 2", n)
	}

	data, err := os.ReadFile(filepath.Join(dir, "vex.wav"))
	if err != nil {
		t.Fatalf("vex.wav: %v", err)
	}
	if !audio.IsWAV(data) {
		t.Error("PCM render was not wrapped as WAV")
	}
	if _, err := os.Stat(filepath.Join(dir, "vex.mp3")); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale vex.mp3 was not removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "dj.mp3")); err != nil {
		t.Errorf("dj.mp3: %v", err)
	}
	for _, id := range []string{"ghost", "mute"} {
		if p, ok := NewPipeline(dir).findSample(id); ok {
			t.Errorf("unexpected sample %s", p)
		}
	}

	res := NewPipeline(dir).Evaluate(context.Background(), &Contract{ID: "vex"})
	if res.Status != StatusPassed {
		t.Errorf("rendered sample evaluated as %q (%s)", res.Status, res.Error)
	}
}
