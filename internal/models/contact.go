package models

import "time"

// RelationshipCategory is the closed set of relationship kinds a contact
// can be filed under. Unknown values are treated as RelationshipOther.
type RelationshipCategory string

const (
	RelationshipPartner   RelationshipCategory = "partner"
	RelationshipFamily    RelationshipCategory = "family"
	RelationshipFriend    RelationshipCategory = "friend"
	RelationshipColleague RelationshipCategory = "colleague"
	RelationshipClient    RelationshipCategory = "client"
	RelationshipProspect  RelationshipCategory = "prospect"
	RelationshipOther     RelationshipCategory = "other"
)

// Priority of a contact for response handling.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PersonaOverride replaces the relationship-default persona wholesale when
// present on a contact. Fields are not merged field-by-field with the
// default; presence of the override selects it.
type PersonaOverride struct {
	Personality         string   `json:"personality"`
	Tone                string   `json:"tone"`
	AllowedTopics       []string `json:"allowed_topics,omitempty"`
	ForbiddenTopics     []string `json:"forbidden_topics,omitempty"`
	SpecialInstructions string   `json:"special_instructions,omitempty"`
}

// Contact is a persisted counterparty record keyed by normalized address.
type Contact struct {
	ID                string               `json:"id"`
	Address           string               `json:"address"`
	Name              string               `json:"name"`
	Relationship      RelationshipCategory `json:"relationship"`
	RelationshipLabel string               `json:"relationship_label,omitempty"`
	ContextProfileID  string               `json:"context_profile_id"`
	Priority          Priority             `json:"priority"`
	Notes             string               `json:"notes,omitempty"`
	CustomPersona     *PersonaOverride     `json:"custom_persona,omitempty"`
	MessageCount      int64                `json:"message_count"`
	LastMessageAt     time.Time            `json:"last_message_at"`
	IsActive          bool                 `json:"is_active"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}
