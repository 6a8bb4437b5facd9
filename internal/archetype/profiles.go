package archetype

// neutralProfile is used when the catalog defines no default profiles at all.
var neutralProfile = VoiceProfile{
	ID:          "neutral",
	Description: "Neutral voice",
	BasePitchHz: 165,
}

// VoiceProfile returns the voice for archetype id and gender g. Lookup order
// is the archetype's own table, then the catalog default for g, then the
// catalog default for GenderNeutral, then a built-in neutral profile.
func (c *Catalog) VoiceProfile(id string, g Gender) VoiceProfile {
	if a, ok := c.Get(id); ok {
		if p, ok := a.VoiceProfiles[g]; ok {
			return p
		}
	}
	if p, ok := c.defaultProfiles[g]; ok {
		return p
	}
	if p, ok := c.defaultProfiles[GenderNeutral]; ok {
		return p
	}
	return neutralProfile
}
