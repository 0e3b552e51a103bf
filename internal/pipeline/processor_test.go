package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/persona-relay/internal/ai"
	"github.com/xaenox/persona-relay/internal/models"
	"github.com/xaenox/persona-relay/internal/persona"
	"github.com/xaenox/persona-relay/internal/storage"
	"github.com/xaenox/persona-relay/internal/thread"
	"go.uber.org/zap"
)

// stubResponder answers with a fixed reply. A non-nil gate blocks each
// Complete call until released; err forces failures; alive gates Ping.
type stubResponder struct {
	mu      sync.Mutex
	reply   ai.Reply
	err     error
	alive   bool
	gate    chan struct{}
	prompts []string
}

func newStubResponder() *stubResponder {
	return &stubResponder{
		reply: ai.Reply{Text: "sure, sounds good!", Confidence: 0.9},
		alive: true,
	}
}

func (s *stubResponder) Complete(ctx context.Context, prompt, message string, maxLength int) (ai.Reply, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	gate, err, reply := s.gate, s.err, s.reply
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return ai.Reply{}, err
	}
	return reply, nil
}

func (s *stubResponder) Ping(ctx context.Context) bool { return s.alive }

func (s *stubResponder) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

type fixture struct {
	proc      *Processor
	store     *storage.MemoryStorage
	threads   *thread.Store
	responder *stubResponder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	threads := thread.NewStore(50, 10)
	responder := newStubResponder()
	resolver := persona.NewResolver(store, store, zap.NewNop())
	proc := New(store, store, resolver, threads, responder, nil, 0, zap.NewNop())
	require.NoError(t, proc.Initialize(context.Background()))
	return &fixture{proc: proc, store: store, threads: threads, responder: responder}
}

func TestProcessRequiresInitialization(t *testing.T) {
	store := storage.NewMemoryStorage()
	responder := newStubResponder()
	responder.alive = false
	resolver := persona.NewResolver(store, store, zap.NewNop())
	proc := New(store, store, resolver, thread.NewStore(0, 0), responder, nil, 0, zap.NewNop())

	err := proc.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrAIFailure)
	assert.False(t, proc.Ready())

	_, err = proc.Process(context.Background(), "hi", "+15550001", "", Options{})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestProcessValidatesRequiredFields(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.Process(context.Background(), "", "+15550001", "", Options{})
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = f.proc.Process(context.Background(), "hello", "  ", "", Options{})
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ex, err := f.proc.Process(ctx, "hey, free this weekend?", "+15550002", "Pat", Options{MessageID: "m1"})
	require.NoError(t, err)

	assert.Equal(t, "m1", ex.MessageID)
	assert.Equal(t, "thread_15550002", ex.ThreadID)
	assert.Equal(t, "sure, sounds good!", ex.Reply)
	assert.GreaterOrEqual(t, ex.ProcessingTime, time.Duration(0))
	assert.NotEmpty(t, ex.ContextUsed)

	// Inbound and outbound both recorded.
	msgs, err := f.store.MessagesByAddress(ctx, "+15550002", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// Thread holds both sides of the exchange.
	hist := f.threads.History("+15550002", 0)
	require.Len(t, hist, 2)
	assert.Equal(t, models.RoleCounterparty, hist[0].Role)
	assert.Equal(t, models.RoleAssistant, hist[1].Role)
}

func TestProcessContactFriendScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertContact(ctx, &models.Contact{
		ID:           "c1",
		Address:      "+15550001",
		Name:         "Sam",
		Relationship: models.RelationshipFriend,
		IsActive:     true,
	}))

	ex, err := f.proc.Process(ctx, "hey, free this weekend?", "+15550001", "", Options{})
	require.NoError(t, err)

	assert.Equal(t, "contact_friend", ex.ContextUsed)
	assert.Contains(t, f.responder.lastPrompt(), "friendly")
}

func TestProcessDefaultProfileScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ex, err := f.proc.Process(ctx, "hello, anyone there?", "+15550002", "", Options{})
	require.NoError(t, err)

	assert.Equal(t, models.DefaultProfileID, ex.ContextUsed)

	p, err := f.store.ProfileByID(ctx, models.DefaultProfileID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.UsageCount)
}

func TestProcessDuplicateMessageID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, "first delivery", "+15550001", "", Options{MessageID: "dup-1"})
	require.NoError(t, err)

	_, err = f.proc.Process(ctx, "replayed delivery", "+15550001", "", Options{MessageID: "dup-1"})
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	// Only the original exchange is in the ledger.
	msgs, err := f.store.MessagesByAddress(ctx, "+15550001", 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestProcessAIFailureLeavesInboundRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.responder.err = errors.New("model overloaded")

	_, err := f.proc.Process(ctx, "hello?", "+15550001", "", Options{MessageID: "m1"})
	assert.ErrorIs(t, err, ErrAIFailure)

	// No rollback: the inbound message stays recorded.
	msgs, err := f.store.MessagesByAddress(ctx, "+15550001", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)

	// The guard was released; a retry can proceed.
	f.responder.err = nil
	_, err = f.proc.Process(ctx, "hello again", "+15550001", "", Options{})
	assert.NoError(t, err)
}

func TestProcessSameAddressConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gate := make(chan struct{})
	f.responder.gate = gate

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.proc.Process(ctx, "racing message", "+15550001", "", Options{})
			errs <- err
		}(i)
	}
	close(start)

	// One call must reach the (blocked) AI step; the other is rejected
	// immediately. Wait for the rejection before releasing the gate.
	var rejected error
	select {
	case rejected = <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate rejection")
	}
	assert.ErrorIs(t, rejected, ErrAlreadyProcessing)

	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestProcessDifferentAddressesRunConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for _, addr := range []string{"+15550001", "+15550002", "+15550003", "+15550004"} {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			_, err := f.proc.Process(ctx, "hello from "+addr, addr, "", Options{})
			errs <- err
		}(addr)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestProcessWithOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A contact exists, but the override must bypass it.
	require.NoError(t, f.store.UpsertContact(ctx, &models.Contact{
		ID: "c1", Address: "+15550001", Name: "Sam",
		Relationship: models.RelationshipFriend, IsActive: true,
	}))

	ex, err := f.proc.ProcessWithOverride(ctx, "status?", "+15550001", "You are a terse status bot.", "", Options{})
	require.NoError(t, err)

	assert.Equal(t, "override", ex.ContextUsed)
	assert.Contains(t, f.responder.lastPrompt(), "terse status bot")
	assert.NotContains(t, f.responder.lastPrompt(), "friendly")
}

func TestPromptIncludesRecentHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, "what time works for you?", "+15550001", "", Options{})
	require.NoError(t, err)
	_, err = f.proc.Process(ctx, "and where should we meet?", "+15550001", "", Options{})
	require.NoError(t, err)

	prompt := f.responder.lastPrompt()
	assert.Contains(t, prompt, "Recent conversation:")
	assert.Contains(t, prompt, "Them: what time works for you?")
	assert.Contains(t, prompt, "You: sure, sounds good!")
}

func TestReadOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, "planning the hiking trip", "+15550001", "Sam", Options{})
	require.NoError(t, err)

	stats, err := f.proc.AggregateStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Ledger.Total)
	assert.EqualValues(t, 1, stats.Ledger.Inbound)
	assert.EqualValues(t, 1, stats.Ledger.AIGenerated)
	assert.Equal(t, 1, stats.ActiveThreads)
	assert.True(t, stats.Initialized)

	info, ok := f.proc.ThreadInfo("+15550001")
	require.True(t, ok)
	assert.Equal(t, 2, info.MessageCount)

	found, err := f.proc.Search(ctx, "hiking")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	active := f.proc.ActiveThreads(time.Hour)
	assert.Len(t, active, 1)

	assert.True(t, f.proc.ClearThread("+15550001"))
	assert.False(t, f.proc.ClearThread("+19990000"))
}
