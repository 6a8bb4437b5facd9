package archetype_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/MrWong99/castvoice/internal/archetype"
)

func mustEmbedded(t *testing.T) *archetype.Catalog {
	t.Helper()
	c, err := archetype.Embedded()
	if err != nil {
		t.Fatalf("Embedded: %v", err)
	}
	return c
}

func TestMatch_StoicVillain(t *testing.T) {
	t.Parallel()

	m := archetype.NewMatcher(mustEmbedded(t))
	got := m.Match("a stoic, strategic villain who manipulates with cold precision", nil, "")

	if got.Archetype.ID != "cold_strategist" {
		t.Errorf("archetype = %q, want cold_strategist", got.Archetype.ID)
	}
	if got.Confidence <= 0.3 {
		t.Errorf("confidence = %v, want > 0.3", got.Confidence)
	}
	if got.Gender != archetype.GenderNeutral {
		t.Errorf("gender = %q, want NB when no pronouns are present", got.Gender)
	}
	if got.VoiceProfile.ID != "strategist_neutral" {
		t.Errorf("voice profile = %q, want strategist_neutral", got.VoiceProfile.ID)
	}
	if got.Fallback {
		t.Error("Fallback should be false for a keyword match")
	}
}

func TestMatch_Deterministic(t *testing.T) {
	t.Parallel()

	m := archetype.NewMatcher(mustEmbedded(t))
	inputs := []struct {
		desc string
		kws  []string
	}{
		{"a stoic, strategic villain who manipulates with cold precision", nil},
		{"She is a cheerful bard and a loyal friend", []string{"music"}},
		{"nothing recognisable here", nil},
	}
	for _, in := range inputs {
		first := m.Match(in.desc, in.kws, "")
		for range 20 {
			if got := m.Match(in.desc, in.kws, ""); !reflect.DeepEqual(got, first) {
				t.Fatalf("Match(%q) not deterministic: %+v vs %+v", in.desc, got, first)
			}
		}
	}
}

func TestMatch_Confidence(t *testing.T) {
	t.Parallel()

	m := archetype.NewMatcher(mustEmbedded(t))
	tests := []struct {
		name     string
		desc     string
		wantID   string
		wantConf float64
	}{
		{name: "one hit", desc: "a grumpy soldier", wantID: "gruff_warrior", wantConf: 1.0 / 3},
		{name: "two hits", desc: "a gruff soldier", wantID: "gruff_warrior", wantConf: 2.0 / 3},
		{name: "saturates", desc: "a gruff veteran soldier and mercenary", wantID: "gruff_warrior", wantConf: 1},
		{name: "no hits", desc: "someone", wantID: "neutral_narrator", wantConf: archetype.DefaultConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match(tt.desc, nil, "")
			if got.Archetype.ID != tt.wantID {
				t.Errorf("archetype = %q, want %q", got.Archetype.ID, tt.wantID)
			}
			if d := got.Confidence - tt.wantConf; d > 1e-9 || d < -1e-9 {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestMatch_KeywordsCount(t *testing.T) {
	t.Parallel()

	m := archetype.NewMatcher(mustEmbedded(t))
	got := m.Match("", []string{"Healer", "GENTLE"}, "")
	if got.Archetype.ID != "gentle_healer" {
		t.Errorf("archetype = %q, want gentle_healer", got.Archetype.ID)
	}
	if got.Scores["gentle_healer"] != 2 {
		t.Errorf("score = %d, want 2", got.Scores["gentle_healer"])
	}
}

func TestMatch_TieUsesCatalogOrder(t *testing.T) {
	t.Parallel()

	c, err := archetype.New(1, "b", nil, []archetype.Archetype{
		{ID: "a", PitchRangeHz: [2]float64{80, 200}, MaxRMS: 0.1, EmotionalRange: archetype.RangeNarrow, Keywords: []string{"storm"}},
		{ID: "b", PitchRangeHz: [2]float64{80, 200}, MaxRMS: 0.1, EmotionalRange: archetype.RangeNarrow, Keywords: []string{"thunder"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := archetype.NewMatcher(c).Match("storm and thunder", nil, "")
	if got.Archetype.ID != "a" {
		t.Errorf("archetype = %q, want first in catalog order", got.Archetype.ID)
	}
	if got.VoiceProfile.ID != "neutral" {
		t.Errorf("voice profile = %q, want built-in neutral", got.VoiceProfile.ID)
	}
}

func TestMatch_Gender(t *testing.T) {
	t.Parallel()

	m := archetype.NewMatcher(mustEmbedded(t))
	tests := []struct {
		name     string
		desc     string
		explicit archetype.Gender
		want     archetype.Gender
	}{
		{name: "explicit wins", desc: "he is a warrior", explicit: archetype.GenderFemale, want: archetype.GenderFemale},
		{name: "male majority", desc: "He lost his brother and his father", want: archetype.GenderMale},
		{name: "female majority", desc: "She serves her queen", want: archetype.GenderFemale},
		{name: "tie", desc: "he and she", want: archetype.GenderNeutral},
		{name: "whole words only", desc: "the theme of shelter", want: archetype.GenderNeutral},
		{name: "invalid explicit ignored", desc: "her sister", explicit: "robot", want: archetype.GenderFemale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Match(tt.desc, nil, tt.explicit).Gender; got != tt.want {
				t.Errorf("gender = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVoiceProfileFallback(t *testing.T) {
	t.Parallel()

	c := mustEmbedded(t)
	tests := []struct {
		id   string
		g    archetype.Gender
		want string
	}{
		{"cold_strategist", archetype.GenderMale, "strategist_baritone"},
		{"wise_mentor", archetype.GenderNeutral, "generic_neutral"},
		{"trickster", archetype.GenderFemale, "generic_female"},
		{"unknown", archetype.GenderMale, "generic_male"},
	}
	for _, tt := range tests {
		if got := c.VoiceProfile(tt.id, tt.g).ID; got != tt.want {
			t.Errorf("VoiceProfile(%q, %q) = %q, want %q", tt.id, tt.g, got, tt.want)
		}
	}
}

func TestParseGender(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]archetype.Gender{
		"M": archetype.GenderMale, "female": archetype.GenderFemale, " NB ": archetype.GenderNeutral,
	} {
		if got, ok := archetype.ParseGender(in); !ok || got != want {
			t.Errorf("ParseGender(%q) = %q, %v", in, got, ok)
		}
	}
	for _, in := range []string{"robot", "X", "n", ""} {
		if g, ok := archetype.ParseGender(in); ok {
			t.Errorf("ParseGender(%q) = %q, want rejection", in, g)
		}
	}
}

func TestCatalogValidation(t *testing.T) {
	t.Parallel()

	const bad = `
version: 1
default: missing
archetypes:
  - id: a
    pitch_range_hz: [200, 100]
    tempo_bpm: [100, 150]
    max_rms: 0
    emotional_range: loud
  - id: a
    pitch_range_hz: [80, 100]
    max_rms: 0.1
    emotional_range: wide
`
	_, err := archetype.LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"pitch_range_hz", "max_rms", "emotional_range", "duplicate", "default archetype"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	if _, err := archetype.LoadFromReader(strings.NewReader("version: 1\nbogus: true\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestEmbeddedCatalog(t *testing.T) {
	t.Parallel()

	c := mustEmbedded(t)
	if c.Len() < 10 {
		t.Errorf("embedded catalog has %d archetypes", c.Len())
	}
	if c.Default().ID != "neutral_narrator" {
		t.Errorf("default = %q", c.Default().ID)
	}
	for _, a := range c.All() {
		for _, kw := range a.Keywords {
			if kw != strings.ToLower(kw) {
				t.Errorf("keyword %q of %s not lower-cased", kw, a.ID)
			}
		}
	}
}
