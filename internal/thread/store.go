// Package thread keeps bounded per-address conversation memory. It is
// process-local state, independent of the durable message ledger, and safe
// for concurrent use.
package thread

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/persona-relay/internal/models"
)

const (
	DefaultHistoryLimit = 50
	DefaultTopicLimit   = 10
)

// Thread is the rolling conversation memory for one address.
type Thread struct {
	ThreadID          string                 `json:"thread_id"`
	Address           string                 `json:"address"`
	DisplayName       string                 `json:"display_name,omitempty"`
	Messages          []models.ThreadMessage `json:"messages"`
	Topics            []string               `json:"topics"`
	Sentiment         models.Sentiment       `json:"sentiment"`
	LastInteractionAt time.Time              `json:"last_interaction_at"`
	CreatedAt         time.Time              `json:"created_at"`
}

// Stats is the monitoring projection of one thread.
type Stats struct {
	MessageCount      int       `json:"message_count"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	Topics            []string  `json:"topics"`
	ThreadAgeDays     int       `json:"thread_age_days"`
}

// Normalize canonicalizes a transport address for use as a map key.
func Normalize(address string) string {
	return strings.TrimSpace(address)
}

// ThreadID derives a stable thread identifier from an address by keeping
// only its digits. Addresses with no digits hash to themselves.
func ThreadID(address string) string {
	var b strings.Builder
	for _, r := range Normalize(address) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "thread_" + Normalize(address)
	}
	return "thread_" + b.String()
}

// Store holds all threads for the process behind one lock. Contention is
// low: one transport session feeds it.
type Store struct {
	mu           sync.RWMutex
	threads      map[string]*Thread
	historyLimit int
	topicLimit   int
}

func NewStore(historyLimit, topicLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if topicLimit <= 0 {
		topicLimit = DefaultTopicLimit
	}
	return &Store{
		threads:      make(map[string]*Thread),
		historyLimit: historyLimit,
		topicLimit:   topicLimit,
	}
}

func (s *Store) ensure(address, displayName string) *Thread {
	addr := Normalize(address)
	t, ok := s.threads[addr]
	if !ok {
		now := time.Now()
		t = &Thread{
			ThreadID:          ThreadID(addr),
			Address:           addr,
			DisplayName:       displayName,
			Messages:          []models.ThreadMessage{},
			Topics:            []string{},
			Sentiment:         models.SentimentNeutral,
			LastInteractionAt: now,
			CreatedAt:         now,
		}
		s.threads[addr] = t
	} else if t.DisplayName == "" && displayName != "" {
		t.DisplayName = displayName
	}
	return t
}

// GetOrCreate returns a snapshot of the thread for address, creating it
// with empty history on first reference. A newly supplied display name
// backfills an empty one.
func (s *Store) GetOrCreate(address, displayName string) Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.ensure(address, displayName))
}

// Append records one message on the thread, refreshes the interaction
// time, folds new topics in, and evicts the oldest entries beyond the
// history limit.
func (s *Store) Append(address, content string, role models.Role, kind string) models.ThreadMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.ensure(address, "")
	msg := models.ThreadMessage{
		ID:        uuid.New().String(),
		Content:   content,
		Role:      role,
		Kind:      kind,
		Timestamp: time.Now(),
	}
	t.Messages = append(t.Messages, msg)
	if len(t.Messages) > s.historyLimit {
		t.Messages = t.Messages[len(t.Messages)-s.historyLimit:]
	}
	t.LastInteractionAt = msg.Timestamp
	t.Topics = mergeTopics(t.Topics, ExtractKeywords(content, maxNewTopics), s.topicLimit)
	return msg
}

// History returns up to limit most recent messages in chronological
// ascending order, ready for prompt assembly. limit <= 0 returns all.
func (s *Store) History(address string, limit int) []models.ThreadMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[Normalize(address)]
	if !ok {
		return nil
	}
	msgs := t.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.ThreadMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Stats reports the monitoring projection for one thread. The second
// return is false if the thread has never been created.
func (s *Store) Stats(address string) (Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[Normalize(address)]
	if !ok {
		return Stats{}, false
	}
	age := int(time.Since(t.CreatedAt).Hours() / 24)
	return Stats{
		MessageCount:      len(t.Messages),
		LastInteractionAt: t.LastInteractionAt,
		Topics:            append([]string(nil), t.Topics...),
		ThreadAgeDays:     age,
	}, true
}

// Clear empties history and topics for an existing thread. Returns false
// if the thread has never been created. The thread itself survives.
func (s *Store) Clear(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[Normalize(address)]
	if !ok {
		return false
	}
	t.Messages = []models.ThreadMessage{}
	t.Topics = []string{}
	t.Sentiment = models.SentimentNeutral
	return true
}

// Delete removes a thread entirely. Returns false if it never existed.
func (s *Store) Delete(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := Normalize(address)
	if _, ok := s.threads[addr]; !ok {
		return false
	}
	delete(s.threads, addr)
	return true
}

// ActiveSince returns snapshots of threads whose last interaction falls
// within the window.
func (s *Store) ActiveSince(window time.Duration) []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var out []Thread
	for _, t := range s.threads {
		if t.LastInteractionAt.After(cutoff) {
			out = append(out, snapshot(t))
		}
	}
	return out
}

// Search returns snapshots of threads whose display name or any message
// content contains the query, case-insensitively.
func (s *Store) Search(query string) []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []Thread
	for _, t := range s.threads {
		if strings.Contains(strings.ToLower(t.DisplayName), q) {
			out = append(out, snapshot(t))
			continue
		}
		for _, m := range t.Messages {
			if strings.Contains(strings.ToLower(m.Content), q) {
				out = append(out, snapshot(t))
				break
			}
		}
	}
	return out
}

// Count reports the number of threads currently held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

func snapshot(t *Thread) Thread {
	out := *t
	out.Messages = append([]models.ThreadMessage(nil), t.Messages...)
	out.Topics = append([]string(nil), t.Topics...)
	return out
}
