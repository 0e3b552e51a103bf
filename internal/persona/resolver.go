package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/persona-relay/internal/models"
	"github.com/xaenox/persona-relay/internal/storage"
	"go.uber.org/zap"
)

// Source tags where a resolved persona came from, so callers see one
// explicit branch instead of chained fallbacks.
type Source string

const (
	SourceRelationshipDefault Source = "relationship_default"
	SourceContactOverride     Source = "contact_override"
	SourceNamedProfile        Source = "named_profile"
	SourceBuiltinFallback     Source = "builtin_fallback"
)

// ContextBuiltin labels exchanges that fell through to the static persona.
const ContextBuiltin = "builtin"

// Resolution is the outcome of one persona lookup. Text is never empty.
type Resolution struct {
	Source      Source
	ContextUsed string
	Text        string
}

// Query carries the caller's resolution options.
type Query struct {
	Address string
	// ProfileID selects a named profile when no contact drives the
	// resolution. Empty means the well-known default.
	ProfileID string
	// DisablePersonalization skips the contact branch entirely.
	DisablePersonalization bool
}

// Resolver layers contact records, relationship defaults and named context
// profiles into one persona description. Resolve never fails: missing data
// degrades to the built-in fallback text.
type Resolver struct {
	contacts storage.ContactDirectory
	profiles storage.ProfileStore
	logger   *zap.Logger
}

func NewResolver(contacts storage.ContactDirectory, profiles storage.ProfileStore, logger *zap.Logger) *Resolver {
	return &Resolver{contacts: contacts, profiles: profiles, logger: logger}
}

// Resolve produces the persona text for one counterparty. Precedence: a
// contact's custom override replaces the relationship default wholesale;
// without a contact the named (or default) profile applies; without that,
// the built-in fallback. The profile branch increments the profile's usage
// counter as its only side effect.
func (r *Resolver) Resolve(ctx context.Context, q Query) Resolution {
	if !q.DisablePersonalization {
		contact, err := r.contacts.ContactByAddress(ctx, q.Address)
		if err == nil && contact.IsActive {
			return r.resolveContact(contact)
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("contact lookup failed, degrading to profile resolution",
				zap.Error(err),
				zap.String("address", q.Address))
		}
	}
	return r.resolveProfile(ctx, q.ProfileID)
}

func (r *Resolver) resolveContact(contact *models.Contact) Resolution {
	source := SourceRelationshipDefault
	traits := TraitsFor(contact.Relationship)
	if o := contact.CustomPersona; o != nil {
		source = SourceContactOverride
		traits = Traits{
			Personality:         o.Personality,
			Tone:                o.Tone,
			AllowedTopics:       o.AllowedTopics,
			ForbiddenTopics:     o.ForbiddenTopics,
			SpecialInstructions: o.SpecialInstructions,
		}
	}
	return Resolution{
		Source:      source,
		ContextUsed: "contact_" + string(normalizeCategory(contact.Relationship)),
		Text:        renderContact(contact, traits),
	}
}

func (r *Resolver) resolveProfile(ctx context.Context, profileID string) Resolution {
	if profileID == "" {
		profileID = models.DefaultProfileID
	}
	profile, err := r.profiles.ProfileByID(ctx, profileID)
	if errors.Is(err, storage.ErrNotFound) {
		profile, err = r.profiles.DefaultProfile(ctx)
	}
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("profile lookup failed, using builtin persona",
				zap.Error(err),
				zap.String("profile_id", profileID))
		}
		return builtinFallback()
	}

	if err := r.profiles.IncrementUsage(ctx, profile.ID); err != nil {
		r.logger.Warn("failed to increment profile usage",
			zap.Error(err),
			zap.String("profile_id", profile.ID))
	}
	return Resolution{
		Source:      SourceNamedProfile,
		ContextUsed: profile.ID,
		Text:        renderProfile(profile),
	}
}

func normalizeCategory(c models.RelationshipCategory) models.RelationshipCategory {
	if _, ok := relationshipDefaults[c]; ok {
		return c
	}
	return models.RelationshipOther
}

func builtinFallback() Resolution {
	var b strings.Builder
	b.WriteString("You are a personal assistant answering messages on behalf of the account owner.\n")
	b.WriteString("No specific context is available for this counterparty.\n")
	b.WriteString("Personality: helpful, attentive and concise.\n")
	b.WriteString("Tone: neutral.\n")
	b.WriteString("Reply briefly and helpfully, in the language of the incoming message.")
	return Resolution{
		Source:      SourceBuiltinFallback,
		ContextUsed: ContextBuiltin,
		Text:        b.String(),
	}
}

func renderContact(contact *models.Contact, traits Traits) string {
	var b strings.Builder
	b.WriteString("You are a personal assistant answering messages on behalf of the account owner.\n")
	fmt.Fprintf(&b, "You are talking to %s.\n", displayName(contact))
	fmt.Fprintf(&b, "Relationship: %s", normalizeCategory(contact.Relationship))
	if contact.RelationshipLabel != "" {
		fmt.Fprintf(&b, " (%s)", contact.RelationshipLabel)
	}
	b.WriteString("\n")
	writeTrait(&b, "Personality", traits.Personality)
	writeTrait(&b, "Tone", traits.Tone)
	writeList(&b, "Preferred topics", traits.AllowedTopics)
	writeList(&b, "Avoid these topics", traits.ForbiddenTopics)
	writeTrait(&b, "Special instructions", traits.SpecialInstructions)
	if contact.Priority != "" {
		fmt.Fprintf(&b, "Contact priority: %s\n", contact.Priority)
	}
	if contact.Notes != "" {
		fmt.Fprintf(&b, "Notes about this contact: %s\n", contact.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderProfile(p *models.ContextProfile) string {
	var b strings.Builder
	info := p.PersonalInfo
	fmt.Fprintf(&b, "You are %s", orDefault(info.Name, "an assistant"))
	if info.Role != "" {
		fmt.Fprintf(&b, ", %s", info.Role)
	}
	b.WriteString(".\n")
	writeList(&b, "Expertise", info.Expertise)
	writeTrait(&b, "Personality", info.Personality)
	writeTrait(&b, "Communication style", info.CommunicationStyle)
	writeTrait(&b, "Availability", info.Availability)
	if org := p.Organization; org != nil && org.Name != "" {
		fmt.Fprintf(&b, "You represent %s", org.Name)
		if org.Industry != "" {
			fmt.Fprintf(&b, " (%s)", org.Industry)
		}
		b.WriteString(".\n")
		writeList(&b, "Services", org.Services)
	}
	ai := p.Instructions
	writeTrait(&b, "Response style", ai.ResponseStyle)
	writeTrait(&b, "Tone", ai.Tone)
	writeList(&b, "Never discuss", ai.ForbiddenTopics)
	writeTrait(&b, "Preferred language", ai.PreferredLanguage)
	text := strings.TrimRight(b.String(), "\n")
	if text == "" {
		// A profile with every field blank still has to produce context.
		return builtinFallback().Text
	}
	return text
}

func writeTrait(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

func writeList(b *strings.Builder, label string, values []string) {
	if len(values) > 0 {
		fmt.Fprintf(b, "%s: %s\n", label, strings.Join(values, ", "))
	}
}

func displayName(c *models.Contact) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Address
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
