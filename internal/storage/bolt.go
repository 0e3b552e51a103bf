package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xaenox/persona-relay/internal/models"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages")
	bucketContacts = []byte("contacts")
	bucketProfiles = []byte("profiles")
)

// BoltStorage is a single-file embedded backend for deployments without a
// database server. Logical datasets live in separate buckets of one DB
// file, values are JSON.
type BoltStorage struct {
	db *bolt.DB
}

func NewBoltStorage(path string) (*BoltStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("error creating data directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketContacts, bucketProfiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		b := tx.Bucket(bucketProfiles)
		if b.Get([]byte(models.DefaultProfileID)) == nil {
			raw, err := json.Marshal(seedDefaultProfile())
			if err != nil {
				return err
			}
			return b.Put([]byte(models.DefaultProfileID), raw)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error preparing buckets: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) AppendMessage(ctx context.Context, msg *models.StoredMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if b.Get([]byte(msg.ID)) != nil {
			return ErrDuplicateMessage
		}
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("error encoding message: %w", err)
		}
		return b.Put([]byte(msg.ID), raw)
	})
}

func (s *BoltStorage) allMessages(filter func(*models.StoredMessage) bool) ([]*models.StoredMessage, error) {
	var out []*models.StoredMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			m := &models.StoredMessage{}
			if err := json.Unmarshal(v, m); err != nil {
				// Skip malformed entries instead of failing the whole scan
				return nil
			}
			if filter == nil || filter(m) {
				out = append(out, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *BoltStorage) MessagesByAddress(ctx context.Context, address string, limit, offset int) ([]*models.StoredMessage, error) {
	msgs, err := s.allMessages(func(m *models.StoredMessage) bool { return m.Address == address })
	if err != nil {
		return nil, err
	}
	if offset >= len(msgs) {
		return []*models.StoredMessage{}, nil
	}
	msgs = msgs[offset:]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *BoltStorage) SearchMessages(ctx context.Context, query string) ([]*models.StoredMessage, error) {
	q := strings.ToLower(query)
	return s.allMessages(func(m *models.StoredMessage) bool {
		return strings.Contains(strings.ToLower(m.Content), q)
	})
}

func (s *BoltStorage) LedgerStats(ctx context.Context) (*models.LedgerStats, error) {
	stats := &models.LedgerStats{ByKind: make(map[string]int64)}
	msgs, err := s.allMessages(nil)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
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

func (s *BoltStorage) ContactByAddress(ctx context.Context, address string) (*models.Contact, error) {
	c := &models.Contact{}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketContacts).Get([]byte(address))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *BoltStorage) UpsertContact(ctx context.Context, contact *models.Contact) error {
	if contact.ContextProfileID == "" {
		contact.ContextProfileID = models.DefaultProfileID
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		rawProfile := tx.Bucket(bucketProfiles).Get([]byte(contact.ContextProfileID))
		if rawProfile == nil {
			return ErrUnknownProfile
		}
		p := &models.ContextProfile{}
		if err := json.Unmarshal(rawProfile, p); err != nil || !p.IsActive {
			return ErrUnknownProfile
		}

		b := tx.Bucket(bucketContacts)
		now := time.Now()
		if raw := b.Get([]byte(contact.Address)); raw != nil {
			existing := &models.Contact{}
			if err := json.Unmarshal(raw, existing); err == nil {
				contact.CreatedAt = existing.CreatedAt
				contact.MessageCount = existing.MessageCount
				contact.LastMessageAt = existing.LastMessageAt
			}
		} else if contact.CreatedAt.IsZero() {
			contact.CreatedAt = now
		}
		contact.UpdatedAt = now

		raw, err := json.Marshal(contact)
		if err != nil {
			return fmt.Errorf("error encoding contact: %w", err)
		}
		return b.Put([]byte(contact.Address), raw)
	})
}

func (s *BoltStorage) RecordInteraction(ctx context.Context, address string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContacts)
		raw := b.Get([]byte(address))
		if raw == nil {
			return nil
		}
		c := &models.Contact{}
		if err := json.Unmarshal(raw, c); err != nil {
			return nil
		}
		c.MessageCount++
		c.LastMessageAt = time.Now()
		updated, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("error encoding contact: %w", err)
		}
		return b.Put([]byte(address), updated)
	})
}

func (s *BoltStorage) ProfileByID(ctx context.Context, id string) (*models.ContextProfile, error) {
	p := &models.ContextProfile{}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketProfiles).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BoltStorage) DefaultProfile(ctx context.Context) (*models.ContextProfile, error) {
	var found *models.ContextProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(k, v []byte) error {
			p := &models.ContextProfile{}
			if err := json.Unmarshal(v, p); err != nil {
				return nil
			}
			if p.IsDefault && p.IsActive {
				found = p
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BoltStorage) SaveProfile(ctx context.Context, profile *models.ContextProfile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		now := time.Now()
		if raw := b.Get([]byte(profile.ID)); raw != nil {
			existing := &models.ContextProfile{}
			if err := json.Unmarshal(raw, existing); err == nil {
				profile.CreatedAt = existing.CreatedAt
				profile.UsageCount = existing.UsageCount
			}
		} else if profile.CreatedAt.IsZero() {
			profile.CreatedAt = now
		}
		profile.UpdatedAt = now

		if profile.IsDefault {
			// Collect first; the bucket must not be modified mid-iteration.
			cleared := make(map[string][]byte)
			err := b.ForEach(func(k, v []byte) error {
				if string(k) == profile.ID {
					return nil
				}
				other := &models.ContextProfile{}
				if err := json.Unmarshal(v, other); err != nil || !other.IsDefault {
					return nil
				}
				other.IsDefault = false
				raw, err := json.Marshal(other)
				if err != nil {
					return err
				}
				cleared[string(k)] = raw
				return nil
			})
			if err != nil {
				return fmt.Errorf("error clearing default flags: %w", err)
			}
			for k, raw := range cleared {
				if err := b.Put([]byte(k), raw); err != nil {
					return fmt.Errorf("error clearing default flags: %w", err)
				}
			}
		}

		raw, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("error encoding profile: %w", err)
		}
		return b.Put([]byte(profile.ID), raw)
	})
}

func (s *BoltStorage) DeleteProfile(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		p := &models.ContextProfile{}
		if err := json.Unmarshal(raw, p); err == nil && p.IsDefault {
			return ErrDefaultProfileProtected
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStorage) IncrementUsage(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		p := &models.ContextProfile{}
		if err := json.Unmarshal(raw, p); err != nil {
			return fmt.Errorf("error decoding profile: %w", err)
		}
		p.UsageCount++
		p.LastUsedAt = time.Now()
		updated, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("error encoding profile: %w", err)
		}
		return b.Put([]byte(id), updated)
	})
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}
