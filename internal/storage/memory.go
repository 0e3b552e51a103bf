package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/persona-relay/internal/models"
)

// MemoryStorage keeps everything in process memory. Used for tests and
// single-shot deployments where durability does not matter.
type MemoryStorage struct {
	mu       sync.RWMutex
	messages map[string]*models.StoredMessage
	order    []string
	contacts map[string]*models.Contact
	profiles map[string]*models.ContextProfile
}

func NewMemoryStorage() *MemoryStorage {
	s := &MemoryStorage{
		messages: make(map[string]*models.StoredMessage),
		contacts: make(map[string]*models.Contact),
		profiles: make(map[string]*models.ContextProfile),
	}
	seed := seedDefaultProfile()
	s.profiles[seed.ID] = seed
	return s
}

// seedDefaultProfile is the built-in persona template installed on first
// start so the single-default invariant holds from the beginning.
func seedDefaultProfile() *models.ContextProfile {
	now := time.Now()
	return &models.ContextProfile{
		ID: models.DefaultProfileID,
		PersonalInfo: models.PersonalInfo{
			Name:               "Assistant",
			Role:               "personal assistant",
			Personality:        "helpful, attentive and concise",
			CommunicationStyle: "clear and natural",
		},
		Instructions: models.AIInstructions{
			ResponseStyle: "reply briefly and helpfully, in the language of the incoming message",
			Tone:          "neutral",
		},
		IsDefault: true,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *MemoryStorage) AppendMessage(ctx context.Context, msg *models.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return ErrDuplicateMessage
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	stored := *msg
	s.messages[msg.ID] = &stored
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *MemoryStorage) MessagesByAddress(ctx context.Context, address string, limit, offset int) ([]*models.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.StoredMessage
	for _, id := range s.order {
		if m := s.messages[id]; m.Address == address {
			all = append(all, m)
		}
	}
	// Newest first, matching the ledger's query contract.
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []*models.StoredMessage{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]*models.StoredMessage, len(all))
	for i, m := range all {
		c := *m
		out[i] = &c
	}
	return out, nil
}

func (s *MemoryStorage) SearchMessages(ctx context.Context, query string) ([]*models.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []*models.StoredMessage
	for _, id := range s.order {
		m := s.messages[id]
		if strings.Contains(strings.ToLower(m.Content), q) {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStorage) LedgerStats(ctx context.Context) (*models.LedgerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.LedgerStats{ByKind: make(map[string]int64)}
	for _, m := range s.messages {
		stats.Total++
		switch m.Direction {
		case models.DirectionInbound:
			stats.Inbound++
		case models.DirectionOutbound:
			stats.Outbound++
		}
		if m.AIGenerated {
			stats.AIGenerated++
		}
		kind := m.Kind
		if kind == "" {
			kind = "text"
		}
		stats.ByKind[kind]++
	}
	return stats, nil
}

func (s *MemoryStorage) ContactByAddress(ctx context.Context, address string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[address]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStorage) UpsertContact(ctx context.Context, contact *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contact.ContextProfileID == "" {
		contact.ContextProfileID = models.DefaultProfileID
	}
	p, ok := s.profiles[contact.ContextProfileID]
	if !ok || !p.IsActive {
		return ErrUnknownProfile
	}

	now := time.Now()
	if existing, ok := s.contacts[contact.Address]; ok {
		contact.CreatedAt = existing.CreatedAt
		contact.MessageCount = existing.MessageCount
		contact.LastMessageAt = existing.LastMessageAt
	} else if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now
	stored := *contact
	s.contacts[contact.Address] = &stored
	return nil
}

func (s *MemoryStorage) RecordInteraction(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[address]
	if !ok {
		// Unknown counterparties are fine; interaction tracking only
		// applies to saved contacts.
		return nil
	}
	c.MessageCount++
	c.LastMessageAt = time.Now()
	return nil
}

func (s *MemoryStorage) ProfileByID(ctx context.Context, id string) (*models.ContextProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *MemoryStorage) DefaultProfile(ctx context.Context) (*models.ContextProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.IsDefault && p.IsActive {
			out := *p
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) SaveProfile(ctx context.Context, profile *models.ContextProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.profiles[profile.ID]; ok {
		profile.CreatedAt = existing.CreatedAt
		profile.UsageCount = existing.UsageCount
	} else if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	if profile.IsDefault {
		for _, p := range s.profiles {
			if p.ID != profile.ID {
				p.IsDefault = false
			}
		}
	}
	stored := *profile
	s.profiles[profile.ID] = &stored
	return nil
}

func (s *MemoryStorage) DeleteProfile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	if p.IsDefault {
		return ErrDefaultProfileProtected
	}
	delete(s.profiles, id)
	return nil
}

func (s *MemoryStorage) IncrementUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.UsageCount++
	p.LastUsedAt = time.Now()
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
