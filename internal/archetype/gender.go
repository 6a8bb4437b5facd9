package archetype

import (
	"strings"
	"unicode"
)

// Gender is the voice gender assigned to a character.
type Gender string

const (
	GenderMale    Gender = "M"
	GenderFemale  Gender = "F"
	GenderNeutral Gender = "NB"
)

// IsValid reports whether g is one of the three known genders.
func (g Gender) IsValid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderNeutral:
		return true
	}
	return false
}

// ParseGender accepts the canonical codes and common spellings. Unknown and
// empty input yields "" and false.
func ParseGender(s string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male", "man":
		return GenderMale, true
	case "f", "female", "woman":
		return GenderFemale, true
	case "nb", "non-binary", "nonbinary", "neutral":
		return GenderNeutral, true
	}
	return "", false
}

// Pronouns and kinship nouns, matched as whole words.
var (
	maleIndicators = wordSet(
		"he", "him", "his", "himself",
		"man", "boy", "gentleman", "lord", "sir", "mr", "king", "prince",
		"father", "dad", "son", "brother", "husband", "uncle", "nephew", "grandfather", "grandson",
	)
	femaleIndicators = wordSet(
		"she", "her", "hers", "herself",
		"woman", "girl", "lady", "madam", "mrs", "ms", "queen", "princess",
		"mother", "mom", "mum", "daughter", "sister", "wife", "aunt", "niece", "grandmother", "granddaughter",
	)
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// InferGender tallies male and female indicator words in text. The majority
// wins; a tie, including no indicators at all, yields GenderNeutral.
func InferGender(text string) Gender {
	var male, female int
	for _, w := range words(text) {
		if _, ok := maleIndicators[w]; ok {
			male++
		}
		if _, ok := femaleIndicators[w]; ok {
			female++
		}
	}
	switch {
	case male > female:
		return GenderMale
	case female > male:
		return GenderFemale
	default:
		return GenderNeutral
	}
}

// words splits text into lower-case runs of letters.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
