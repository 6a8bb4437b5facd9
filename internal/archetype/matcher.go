package archetype

import "strings"

const (
	// fullConfidenceHits is the keyword score at which confidence saturates.
	fullConfidenceHits = 3

	// DefaultConfidence is reported when no archetype scored and the catalog
	// default was used.
	DefaultConfidence = 0.3
)

// Match is the result of matching a character profile.
type Match struct {
	Archetype    Archetype      `json:"archetype"`
	Confidence   float64        `json:"confidence"`
	Gender       Gender         `json:"gender"`
	VoiceProfile VoiceProfile   `json:"voice_profile"`
	Fallback     bool           `json:"fallback"`
	Scores       map[string]int `json:"scores,omitempty"`
}

// Matcher resolves free-text character profiles against a [Catalog].
// It is read-only after construction and safe for concurrent use.
type Matcher struct {
	catalog *Catalog
}

// NewMatcher returns a Matcher over c.
func NewMatcher(c *Catalog) *Matcher {
	return &Matcher{catalog: c}
}

// Catalog returns the catalog the matcher was built from.
func (m *Matcher) Catalog() *Catalog { return m.catalog }

// Match scores every archetype by counting which of its keywords occur as a
// case-insensitive substring of description plus keywords. The highest
// non-zero score wins, earlier catalog entries winning ties. Confidence is
// min(score/3, 1); with no hits the catalog default is returned at
// [DefaultConfidence].
//
// explicitGender, when valid, is used as is. Otherwise gender is inferred
// from pronouns and kinship nouns in the same text.
func (m *Matcher) Match(description string, keywords []string, explicitGender Gender) Match {
	text := strings.ToLower(description + " " + strings.Join(keywords, " "))

	scores := make(map[string]int, m.catalog.Len())
	best, bestScore := -1, 0
	for i, a := range m.catalog.archetypes {
		s := score(text, a.Keywords)
		if s == 0 {
			continue
		}
		scores[a.ID] = s
		if s > bestScore {
			best, bestScore = i, s
		}
	}

	res := Match{Scores: scores}
	if best < 0 {
		res.Archetype = m.catalog.Default()
		res.Confidence = DefaultConfidence
		res.Fallback = true
	} else {
		res.Archetype = m.catalog.archetypes[best]
		res.Confidence = min(float64(bestScore)/fullConfidenceHits, 1)
	}

	if explicitGender.IsValid() {
		res.Gender = explicitGender
	} else {
		res.Gender = InferGender(description + " " + strings.Join(keywords, " "))
	}
	res.VoiceProfile = m.catalog.VoiceProfile(res.Archetype.ID, res.Gender)
	return res
}

// score counts the distinct keywords contained in text.
func score(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
