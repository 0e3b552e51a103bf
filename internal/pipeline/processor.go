// Package pipeline orchestrates one inbound message into one reply:
// persist, thread, resolve context, invoke the AI backend, persist and
// thread the reply. Completed steps are never rolled back; the inbound
// message stays recorded even when the AI call fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/persona-relay/internal/ai"
	"github.com/xaenox/persona-relay/internal/metrics"
	"github.com/xaenox/persona-relay/internal/models"
	"github.com/xaenox/persona-relay/internal/persona"
	"github.com/xaenox/persona-relay/internal/storage"
	"github.com/xaenox/persona-relay/internal/thread"
	"go.uber.org/zap"
)

const (
	// DefaultMaxResponseLength caps generated replies.
	DefaultMaxResponseLength = 1000
	// historyWindow is how many thread entries go into the prompt.
	historyWindow = 10
)

// Options tune a single Process invocation.
type Options struct {
	// MessageID is the caller-supplied idempotency key. Minted when empty.
	MessageID string
	// Kind annotates the message (defaults to "text").
	Kind string
	// ProfileID selects a named context profile when no contact applies.
	ProfileID string
	// DisablePersonalization skips contact-driven resolution.
	DisablePersonalization bool
	// MaxResponseLength overrides the reply ceiling when positive.
	MaxResponseLength int
}

// Processor is the message processing pipeline.
type Processor struct {
	ledger      storage.MessageLedger
	contacts    storage.ContactDirectory
	resolver    *persona.Resolver
	threads     *thread.Store
	responder   ai.Responder
	metrics     *metrics.Metrics
	logger      *zap.Logger
	maxRespLen  int
	initialized atomic.Bool
	guard       *inflight
}

func New(
	ledger storage.MessageLedger,
	contacts storage.ContactDirectory,
	resolver *persona.Resolver,
	threads *thread.Store,
	responder ai.Responder,
	m *metrics.Metrics,
	maxResponseLength int,
	logger *zap.Logger,
) *Processor {
	if maxResponseLength <= 0 {
		maxResponseLength = DefaultMaxResponseLength
	}
	return &Processor{
		ledger:     ledger,
		contacts:   contacts,
		resolver:   resolver,
		threads:    threads,
		responder:  responder,
		metrics:    m,
		logger:     logger,
		maxRespLen: maxResponseLength,
		guard:      newInflight(),
	}
}

// Initialize probes the AI collaborator and arms the pipeline. Process
// rejects with ErrNotReady until the probe has passed once.
func (p *Processor) Initialize(ctx context.Context) error {
	if !p.responder.Ping(ctx) {
		return fmt.Errorf("%w: liveness probe failed", ErrAIFailure)
	}
	p.initialized.Store(true)
	p.logger.Info("pipeline initialized")
	return nil
}

// Ready reports whether the pipeline has been initialized.
func (p *Processor) Ready() bool {
	return p.initialized.Load()
}

// Process runs the full cycle for one inbound message and returns the
// resulting exchange.
func (p *Processor) Process(ctx context.Context, content, address, displayName string, opts Options) (*models.ProcessedExchange, error) {
	return p.run(ctx, content, address, displayName, opts, func(ctx context.Context) persona.Resolution {
		return p.resolver.Resolve(ctx, persona.Query{
			Address:                thread.Normalize(address),
			ProfileID:              opts.ProfileID,
			DisablePersonalization: opts.DisablePersonalization,
		})
	})
}

// ProcessWithOverride substitutes caller-supplied persona text verbatim,
// bypassing stored context entirely.
func (p *Processor) ProcessWithOverride(ctx context.Context, content, address, personaText, displayName string, opts Options) (*models.ProcessedExchange, error) {
	return p.run(ctx, content, address, displayName, opts, func(context.Context) persona.Resolution {
		return persona.Resolution{
			Source:      persona.SourceBuiltinFallback,
			ContextUsed: "override",
			Text:        personaText,
		}
	})
}

func (p *Processor) run(ctx context.Context, content, address, displayName string, opts Options, resolve func(context.Context) persona.Resolution) (*models.ProcessedExchange, error) {
	if !p.initialized.Load() {
		return nil, ErrNotReady
	}
	if strings.TrimSpace(content) == "" || strings.TrimSpace(address) == "" {
		return nil, ErrMissingField
	}

	addr := thread.Normalize(address)
	if !p.guard.tryAcquire(addr) {
		p.countFailure(ErrAlreadyProcessing)
		return nil, ErrAlreadyProcessing
	}
	defer p.guard.release(addr)

	exchange, err := p.execute(ctx, content, addr, displayName, opts, resolve)
	if err != nil {
		p.countFailure(err)
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.ExchangesProcessed.Inc()
	}
	return exchange, nil
}

func (p *Processor) execute(ctx context.Context, content, addr, displayName string, opts Options, resolve func(context.Context) persona.Resolution) (*models.ProcessedExchange, error) {
	start := time.Now()
	threadID := thread.ThreadID(addr)

	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.New().String()
	}
	kind := opts.Kind
	if kind == "" {
		kind = "text"
	}

	inbound := &models.StoredMessage{
		ID:        messageID,
		Address:   addr,
		ThreadID:  threadID,
		Content:   content,
		Direction: models.DirectionInbound,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
	if err := p.ledger.AppendMessage(ctx, inbound); err != nil {
		if errors.Is(err, storage.ErrDuplicateMessage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: recording inbound message: %v", ErrPersistence, err)
	}

	p.threads.GetOrCreate(addr, displayName)
	p.threads.Append(addr, content, models.RoleCounterparty, kind)

	// Interaction metadata is best effort; a miss must not abort the reply.
	if err := p.contacts.RecordInteraction(ctx, addr); err != nil {
		p.logger.Error("failed to record contact interaction",
			zap.Error(err),
			zap.String("address", addr))
	}

	resolution := resolve(ctx)
	prompt := p.buildPrompt(resolution.Text, addr)

	maxLen := opts.MaxResponseLength
	if maxLen <= 0 {
		maxLen = p.maxRespLen
	}
	aiStart := time.Now()
	reply, err := p.responder.Complete(ctx, prompt, content, maxLen)
	if p.metrics != nil {
		p.metrics.AIResponseSeconds.Observe(time.Since(aiStart).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAIFailure, err)
	}

	elapsed := time.Since(start)
	outbound := &models.StoredMessage{
		ID:             uuid.New().String(),
		Address:        addr,
		ThreadID:       threadID,
		Content:        reply.Text,
		Direction:      models.DirectionOutbound,
		Kind:           kind,
		AIGenerated:    true,
		Confidence:     reply.Confidence,
		ContextUsed:    resolution.ContextUsed,
		ProcessingTime: elapsed.Milliseconds(),
		CreatedAt:      time.Now(),
	}
	if err := p.ledger.AppendMessage(ctx, outbound); err != nil {
		return nil, fmt.Errorf("%w: recording outbound message: %v", ErrPersistence, err)
	}
	p.threads.Append(addr, reply.Text, models.RoleAssistant, kind)

	p.logger.Info("exchange processed",
		zap.String("address", addr),
		zap.String("context_used", resolution.ContextUsed),
		zap.Duration("elapsed", elapsed),
		zap.Float64("confidence", reply.Confidence))

	return &models.ProcessedExchange{
		MessageID:      messageID,
		Address:        addr,
		ThreadID:       threadID,
		Original:       content,
		Reply:          reply.Text,
		Confidence:     reply.Confidence,
		ContextUsed:    resolution.ContextUsed,
		ProcessingTime: elapsed,
	}, nil
}

// buildPrompt joins the resolved persona with the recent chronological
// thread history.
func (p *Processor) buildPrompt(personaText, addr string) string {
	var b strings.Builder
	b.WriteString(personaText)

	history := p.threads.History(addr, historyWindow)
	if len(history) > 0 {
		b.WriteString("\n\nRecent conversation:\n")
		for _, m := range history {
			speaker := "Them"
			if m.Role == models.RoleAssistant {
				speaker = "You"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
		}
	}
	return b.String()
}

func (p *Processor) countFailure(err error) {
	if p.metrics != nil {
		p.metrics.ExchangeFailures.WithLabelValues(FailureKind(err)).Inc()
	}
}
