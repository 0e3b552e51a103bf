package models

import "time"

// DefaultProfileID is the well-known id contacts fall back to when they do
// not name a specific context profile.
const DefaultProfileID = "default"

// PersonalInfo describes the simulated identity the assistant presents.
type PersonalInfo struct {
	Name               string   `json:"name"`
	Role               string   `json:"role"`
	Expertise          []string `json:"expertise,omitempty"`
	Personality        string   `json:"personality"`
	CommunicationStyle string   `json:"communication_style"`
	Availability       string   `json:"availability,omitempty"`
}

// OrganizationInfo optionally describes the organization the assistant
// claims to represent.
type OrganizationInfo struct {
	Name     string   `json:"name"`
	Industry string   `json:"industry,omitempty"`
	Services []string `json:"services,omitempty"`
}

// AIInstructions steer response generation for a profile.
type AIInstructions struct {
	ResponseStyle     string   `json:"response_style"`
	ForbiddenTopics   []string `json:"forbidden_topics,omitempty"`
	PreferredLanguage string   `json:"preferred_language,omitempty"`
	Tone              string   `json:"tone"`
}

// ContextProfile is a named, persisted persona template not tied to any
// specific contact. Exactly one active profile carries IsDefault at a time.
type ContextProfile struct {
	ID           string            `json:"id"`
	PersonalInfo PersonalInfo      `json:"personal_info"`
	Organization *OrganizationInfo `json:"organization,omitempty"`
	Instructions AIInstructions    `json:"instructions"`
	IsDefault    bool              `json:"is_default"`
	IsActive     bool              `json:"is_active"`
	UsageCount   int64             `json:"usage_count"`
	LastUsedAt   time.Time         `json:"last_used_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
