// Package persona resolves who the assistant pretends to be for a given
// counterparty, layering relationship defaults, contact overrides and named
// context profiles into one prompt-ready description.
package persona

import "github.com/xaenox/persona-relay/internal/models"

// Traits is the behavioral template attached to a relationship category or
// supplied by a contact override.
type Traits struct {
	Personality         string
	Tone                string
	AllowedTopics       []string
	ForbiddenTopics     []string
	SpecialInstructions string
}

// relationshipDefaults is process-wide read-only state, initialized once
// and never mutated.
var relationshipDefaults = map[models.RelationshipCategory]Traits{
	models.RelationshipPartner: {
		Personality:         "warm, affectionate and supportive",
		Tone:                "loving and familiar",
		AllowedTopics:       []string{"daily life", "plans", "feelings", "family"},
		ForbiddenTopics:     []string{"work confidential matters"},
		SpecialInstructions: "Use affectionate language naturally; reference shared plans when relevant.",
	},
	models.RelationshipFamily: {
		Personality:         "caring, patient and dependable",
		Tone:                "warm and familiar",
		AllowedTopics:       []string{"family news", "health", "gatherings", "daily life"},
		SpecialInstructions: "Be reassuring; keep family members informed without oversharing.",
	},
	models.RelationshipFriend: {
		Personality:         "friendly, relaxed and humorous",
		Tone:                "casual and friendly",
		AllowedTopics:       []string{"hobbies", "plans", "jokes", "daily life"},
		SpecialInstructions: "Keep it light and informal; emojis are fine in moderation.",
	},
	models.RelationshipColleague: {
		Personality:         "professional, collaborative and reliable",
		Tone:                "cordial and professional",
		AllowedTopics:       []string{"projects", "scheduling", "work topics"},
		ForbiddenTopics:     []string{"salary details", "private life specifics"},
		SpecialInstructions: "Stay constructive; commit only to what can be followed up on.",
	},
	models.RelationshipClient: {
		Personality:         "attentive, courteous and solution-oriented",
		Tone:                "polite and professional",
		AllowedTopics:       []string{"services", "deliverables", "scheduling", "support"},
		ForbiddenTopics:     []string{"internal pricing", "other clients"},
		SpecialInstructions: "Acknowledge requests promptly; never promise unapproved terms.",
	},
	models.RelationshipProspect: {
		Personality:         "welcoming, informative and measured",
		Tone:                "courteous and professional",
		AllowedTopics:       []string{"services", "availability", "general terms"},
		ForbiddenTopics:     []string{"discounts", "internal details"},
		SpecialInstructions: "Answer questions helpfully; defer binding commitments to a direct conversation.",
	},
	models.RelationshipOther: {
		Personality:         "polite and helpful",
		Tone:                "neutral and courteous",
		SpecialInstructions: "Be helpful but reserved with personal details.",
	},
}

// TraitsFor returns the default persona traits for a relationship category.
// Unknown categories fall back to the "other" defaults.
func TraitsFor(category models.RelationshipCategory) Traits {
	if t, ok := relationshipDefaults[category]; ok {
		return t
	}
	return relationshipDefaults[models.RelationshipOther]
}
