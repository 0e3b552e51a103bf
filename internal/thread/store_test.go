package thread

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/persona-relay/internal/models"
)

func TestGetOrCreateIdempotent(t *testing.T) {
	s := NewStore(0, 0)

	first := s.GetOrCreate("+1 555 000 1234", "")
	second := s.GetOrCreate("+1 555 000 1234", "Ada")

	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Equal(t, "thread_15550001234", first.ThreadID)
	assert.Equal(t, 1, s.Count())
	// Display name backfills when newly supplied.
	assert.Equal(t, "Ada", second.DisplayName)
}

func TestAppendEvictsOldestFirst(t *testing.T) {
	s := NewStore(5, 10)

	for i := 0; i < 8; i++ {
		s.Append("+15550001", fmt.Sprintf("message %d", i), models.RoleCounterparty, "text")
	}

	hist := s.History("+15550001", 0)
	require.Len(t, hist, 5)
	assert.Equal(t, "message 3", hist[0].Content)
	assert.Equal(t, "message 7", hist[4].Content)
}

func TestHistoryChronologicalWithLimit(t *testing.T) {
	s := NewStore(50, 10)
	s.Append("+15550001", "oldest", models.RoleCounterparty, "text")
	s.Append("+15550001", "middle", models.RoleAssistant, "text")
	s.Append("+15550001", "newest", models.RoleCounterparty, "text")

	hist := s.History("+15550001", 2)
	require.Len(t, hist, 2)
	assert.Equal(t, "middle", hist[0].Content)
	assert.Equal(t, "newest", hist[1].Content)

	assert.Nil(t, s.History("+19990000", 0))
}

func TestTopicsBoundedAndNovel(t *testing.T) {
	s := NewStore(50, 10)

	s.Append("+15550001", "Planning the weekend hiking trip near the lake", models.RoleCounterparty, "text")
	stats, ok := s.Stats("+15550001")
	require.True(t, ok)
	assert.Contains(t, stats.Topics, "planning")
	assert.Contains(t, stats.Topics, "weekend")
	assert.NotContains(t, stats.Topics, "the")

	// Flood with distinct tokens; the set stays capped.
	for i := 0; i < 10; i++ {
		s.Append("+15550001", fmt.Sprintf("alpha%d bravo%d charlie%d delta%d echo%d", i, i, i, i, i), models.RoleCounterparty, "text")
	}
	stats, _ = s.Stats("+15550001")
	assert.LessOrEqual(t, len(stats.Topics), 10)
}

func TestClear(t *testing.T) {
	s := NewStore(50, 10)

	assert.False(t, s.Clear("+15550001"))

	s.Append("+15550001", "hello there friend", models.RoleCounterparty, "text")
	assert.True(t, s.Clear("+15550001"))

	stats, ok := s.Stats("+15550001")
	require.True(t, ok)
	assert.Zero(t, stats.MessageCount)
	assert.Empty(t, stats.Topics)
}

func TestActiveSinceAndSearch(t *testing.T) {
	s := NewStore(50, 10)
	s.Append("+15550001", "see you at the concert", models.RoleCounterparty, "text")
	s.GetOrCreate("+15550002", "Grace Hopper")

	active := s.ActiveSince(time.Hour)
	assert.Len(t, active, 2)

	byContent := s.Search("CONCERT")
	require.Len(t, byContent, 1)
	assert.Equal(t, "thread_15550001", byContent[0].ThreadID)

	byName := s.Search("grace")
	require.Len(t, byName, 1)
	assert.Equal(t, "thread_15550002", byName[0].ThreadID)

	assert.Empty(t, s.Search("nothing-matches-this"))
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("Hey, are you free this weekend? Maybe dinner, then a movie!", 5)
	assert.Equal(t, []string{"hey", "free", "weekend", "maybe", "dinner"}, got)

	assert.Empty(t, ExtractKeywords("a an to of", 5))
}
