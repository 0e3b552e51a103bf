package bot

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/persona-relay/internal/ai"
	"github.com/xaenox/persona-relay/internal/persona"
	"github.com/xaenox/persona-relay/internal/pipeline"
	"github.com/xaenox/persona-relay/internal/session"
	"github.com/xaenox/persona-relay/internal/storage"
	"github.com/xaenox/persona-relay/internal/thread"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *fakeSender) Send(address, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1]
}

type fixedResponder struct {
	reply ai.Reply
	fail  bool
}

func (r *fixedResponder) Complete(ctx context.Context, prompt, message string, maxLength int) (ai.Reply, error) {
	if r.fail {
		return ai.Reply{}, context.DeadlineExceeded
	}
	return r.reply, nil
}

func (r *fixedResponder) Ping(ctx context.Context) bool { return true }

func newHandler(t *testing.T, responder ai.Responder) (*Handler, *fakeSender) {
	t.Helper()
	store := storage.NewMemoryStorage()
	resolver := persona.NewResolver(store, store, zap.NewNop())
	proc := pipeline.New(store, store, resolver, thread.NewStore(0, 0), responder, nil, 0, zap.NewNop())
	require.NoError(t, proc.Initialize(context.Background()))

	sender := &fakeSender{}
	status := func() session.Status {
		return session.Status{State: session.StateReady, PipelineReady: true}
	}
	return NewHandler(proc, sender, status, zap.NewNop()), sender
}

func TestHandleInboundRepliesWithAIResponse(t *testing.T) {
	h, sender := newHandler(t, &fixedResponder{reply: ai.Reply{Text: "hello back", Confidence: 0.9}})

	h.HandleInbound(context.Background(), session.InboundMessage{Address: "1001", Body: "hello"})

	assert.Equal(t, "hello back", sender.last())
}

func TestHandleInboundFallbackOnFailure(t *testing.T) {
	h, sender := newHandler(t, &fixedResponder{fail: true})

	h.HandleInbound(context.Background(), session.InboundMessage{Address: "1001", Body: "hello"})

	assert.Equal(t, fallbackNotice, sender.last())
}

func TestCommands(t *testing.T) {
	h, sender := newHandler(t, &fixedResponder{reply: ai.Reply{Text: "ok", Confidence: 0.9}})
	ctx := context.Background()

	t.Run("help", func(t *testing.T) {
		h.HandleInbound(ctx, session.InboundMessage{Address: "1001", Body: "/help"})
		assert.Contains(t, sender.last(), "/clearthread")
	})

	t.Run("status", func(t *testing.T) {
		h.HandleInbound(ctx, session.InboundMessage{Address: "1001", Body: "/status"})
		assert.Contains(t, sender.last(), "Session: ready")
		assert.Contains(t, sender.last(), "Pipeline ready: true")
	})

	t.Run("history empty then populated", func(t *testing.T) {
		h.HandleInbound(ctx, session.InboundMessage{Address: "1001", Body: "/history"})
		assert.Contains(t, sender.last(), "don't have any messages")

		h.HandleInbound(ctx, session.InboundMessage{Address: "1001", Body: "see you tomorrow"})
		h.HandleInbound(ctx, session.InboundMessage{Address: "1001", Body: "/history"})
		assert.Contains(t, sender.last(), "see you tomorrow")
	})

	t.Run("stats", func(t *testing.T) {
		h.HandleInbound(ctx, session.InboundMessage{Address: "1001", Body: "/stats"})
		assert.True(t, strings.HasPrefix(sender.last(), "Messages:"))
	})

	t.Run("clearthread", func(t *testing.T) {
		h.HandleInbound(ctx, session.InboundMessage{Address: "1001", Body: "/clearthread"})
		assert.Contains(t, sender.last(), "cleared")
	})

	t.Run("unknown", func(t *testing.T) {
		h.HandleInbound(ctx, session.InboundMessage{Address: "1001", Body: "/frobnicate"})
		assert.Contains(t, sender.last(), "Unknown command")
	})
}
