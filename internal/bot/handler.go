package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/persona-relay/internal/pipeline"
	"github.com/xaenox/persona-relay/internal/session"
	"go.uber.org/zap"
)

// fallbackNotice is sent best-effort when processing fails, so the
// counterparty is not left unanswered.
const fallbackNotice = "⚠️ Sorry, I can't reply right now. Please try again in a moment."

// Sender delivers outbound text through the live transport session.
type Sender interface {
	Send(address, text string) error
}

// Handler consumes qualifying inbound messages: operator commands are
// answered directly, everything else goes through the pipeline.
type Handler struct {
	pipeline *pipeline.Processor
	sender   Sender
	status   func() session.Status
	logger   *zap.Logger
}

func NewHandler(p *pipeline.Processor, sender Sender, status func() session.Status, logger *zap.Logger) *Handler {
	return &Handler{pipeline: p, sender: sender, status: status, logger: logger}
}

// HandleInbound is wired as the session manager's dispatcher target.
func (h *Handler) HandleInbound(ctx context.Context, msg session.InboundMessage) {
	if strings.HasPrefix(msg.Body, "/") {
		h.handleCommand(ctx, msg)
		return
	}

	exchange, err := h.pipeline.Process(ctx, msg.Body, msg.Address, msg.DisplayName, pipeline.Options{})
	if err != nil {
		h.logger.Error("failed to process message",
			zap.Error(err),
			zap.String("address", msg.Address))
		if !errors.Is(err, pipeline.ErrAlreadyProcessing) && !errors.Is(err, pipeline.ErrDuplicateMessage) {
			h.reply(msg.Address, fallbackNotice)
		}
		return
	}
	h.reply(msg.Address, exchange.Reply)
}

func (h *Handler) handleCommand(ctx context.Context, msg session.InboundMessage) {
	command := strings.ToLower(strings.Fields(msg.Body)[0])
	switch command {
	case "/start", "/help":
		h.reply(msg.Address, helpText)
	case "/status":
		h.handleStatus(msg)
	case "/stats":
		h.handleStats(ctx, msg)
	case "/history":
		h.handleHistory(ctx, msg)
	case "/clearthread":
		if h.pipeline.ClearThread(msg.Address) {
			h.reply(msg.Address, "Conversation memory cleared.")
		} else {
			h.reply(msg.Address, "There is no conversation memory to clear yet.")
		}
	default:
		h.reply(msg.Address, "Unknown command. Use /help to see available commands.")
	}
}

const helpText = `I answer your messages with a context-aware AI persona.

Available commands:
/status - Session and pipeline status
/stats - Message statistics
/history - Your recent messages
/clearthread - Clear the conversation memory
/help - Show this help message

Anything else you send gets a reply.`

func (h *Handler) handleStatus(msg session.InboundMessage) {
	s := h.status()
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", s.State)
	fmt.Fprintf(&b, "Pipeline ready: %t\n", s.PipelineReady)
	if s.Degraded {
		b.WriteString("Mode: degraded (reconnect attempts exhausted)\n")
	}
	if s.QRPending {
		b.WriteString("A login credential is awaiting scan.\n")
	}
	h.reply(msg.Address, strings.TrimRight(b.String(), "\n"))
}

func (h *Handler) handleStats(ctx context.Context, msg session.InboundMessage) {
	stats, err := h.pipeline.AggregateStats(ctx)
	if err != nil {
		h.logger.Error("failed to read stats", zap.Error(err))
		h.reply(msg.Address, "Sorry, statistics are unavailable right now.")
		return
	}
	text := fmt.Sprintf("Messages: %d total, %d inbound, %d outbound (%d AI-generated)\nActive threads: %d",
		stats.Ledger.Total, stats.Ledger.Inbound, stats.Ledger.Outbound,
		stats.Ledger.AIGenerated, stats.ActiveThreads)
	h.reply(msg.Address, text)
}

func (h *Handler) handleHistory(ctx context.Context, msg session.InboundMessage) {
	msgs, err := h.pipeline.History(ctx, msg.Address, 5, 0)
	if err != nil {
		h.logger.Error("failed to read history",
			zap.Error(err),
			zap.String("address", msg.Address))
		h.reply(msg.Address, "Sorry, I couldn't retrieve your message history.")
		return
	}
	if len(msgs) == 0 {
		h.reply(msg.Address, "You don't have any messages yet.")
		return
	}

	var b strings.Builder
	b.WriteString("Your recent messages:\n\n")
	for _, m := range msgs {
		who := "You"
		if m.AIGenerated {
			who = "Me"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
	}
	h.reply(msg.Address, strings.TrimRight(b.String(), "\n"))
}

func (h *Handler) reply(address, text string) {
	if err := h.sender.Send(address, text); err != nil {
		h.logger.Error("failed to send message",
			zap.Error(err),
			zap.String("address", address))
	}
}
