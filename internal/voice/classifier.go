package voice

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultFuzzyThreshold = 0.92

	// minFuzzyLen is the shortest word considered for fuzzy matching; shorter
	// words only match exactly.
	minFuzzyLen = 4
)

// Rule maps a handful of provider-facing keywords to an archetype id.
type Rule struct {
	Archetype string   `yaml:"archetype"`
	Keywords  []string `yaml:"keywords"`
}

// DefaultRules is the built-in keyword table used when a character has no
// stored archetype. It is deliberately smaller than the catalog's keyword
// lists: it only needs to recognise the common role nouns.
var DefaultRules = []Rule{
	{Archetype: "cold_strategist", Keywords: []string{"villain", "schemer", "tyrant", "manipulator", "overlord"}},
	{Archetype: "wise_mentor", Keywords: []string{"mentor", "teacher", "wizard", "elder", "sage"}},
	{Archetype: "hype_man", Keywords: []string{"hype", "announcer", "host", "cheerleader"}},
	{Archetype: "gruff_warrior", Keywords: []string{"warrior", "knight", "soldier", "guard"}},
	{Archetype: "gentle_healer", Keywords: []string{"healer", "priest", "priestess", "nurse"}},
	{Archetype: "mysterious_oracle", Keywords: []string{"oracle", "witch", "prophet", "seer"}},
	{Archetype: "trickster", Keywords: []string{"thief", "rogue", "jester", "trickster"}},
	{Archetype: "cheerful_companion", Keywords: []string{"companion", "friend", "bard", "sidekick"}},
}

// ClassifierOption configures a [Classifier].
type ClassifierOption func(*Classifier)

// WithRules replaces the keyword table. Order is significant for ties.
func WithRules(rules []Rule) ClassifierOption {
	return func(c *Classifier) {
		c.rules = rules
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler similarity for a word to
// count as a keyword hit. Values >= 1 disable fuzzy matching.
func WithFuzzyThreshold(threshold float64) ClassifierOption {
	return func(c *Classifier) {
		c.threshold = threshold
	}
}

// Classifier guesses an archetype from free text with a small keyword table.
// Words match a keyword exactly or, for words of four letters or more, by
// Jaro-Winkler similarity, which tolerates misspellings and plurals.
// It is read-only after construction and safe for concurrent use.
type Classifier struct {
	rules     []Rule
	threshold float64
}

// NewClassifier returns a Classifier over [DefaultRules] unless overridden.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		rules:     DefaultRules,
		threshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	normalised := make([]Rule, len(c.rules))
	for i, r := range c.rules {
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		normalised[i] = Rule{Archetype: r.Archetype, Keywords: kws}
	}
	c.rules = normalised
	return c
}

// Detect returns the archetype whose keywords hit most often in text. The
// second result is false when nothing matched.
func (c *Classifier) Detect(text string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return "", false
	}

	best, bestHits := "", 0
	for _, r := range c.rules {
		hits := 0
		for _, kw := range r.Keywords {
			if c.contains(words, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = r.Archetype, hits
		}
	}
	return best, bestHits > 0
}

func (c *Classifier) contains(words []string, kw string) bool {
	for _, w := range words {
		if w == kw {
			return true
		}
		if c.threshold < 1 && len(w) >= minFuzzyLen && len(kw) >= minFuzzyLen &&
			matchr.JaroWinkler(w, kw, false) >= c.threshold {
			return true
		}
	}
	return false
}
