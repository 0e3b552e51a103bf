package pipeline

import (
	"errors"

	"github.com/xaenox/persona-relay/internal/storage"
)

var (
	// ErrNotReady is returned while the AI liveness probe has not passed.
	ErrNotReady = errors.New("pipeline not initialized")

	// ErrMissingField is returned when content or address is absent. The
	// caller layer is expected to validate; the pipeline treats this as a
	// violated precondition.
	ErrMissingField = errors.New("content and address are required")

	// ErrAlreadyProcessing is returned when a message for the same address
	// is still in flight. The pipeline never queues; callers retry or rely
	// on the transport's natural per-address serialization.
	ErrAlreadyProcessing = errors.New("a message for this address is already being processed")

	// ErrDuplicateMessage mirrors the ledger's idempotency rejection.
	ErrDuplicateMessage = storage.ErrDuplicateMessage

	// ErrAIFailure wraps any transport/quota/model error from the AI
	// collaborator.
	ErrAIFailure = errors.New("ai collaborator failure")

	// ErrPersistence wraps ledger write failures.
	ErrPersistence = errors.New("persistence failure")
)

// FailureKind maps a pipeline error to its metric label.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrAlreadyProcessing):
		return "already_processing"
	case errors.Is(err, ErrDuplicateMessage):
		return "duplicate_message"
	case errors.Is(err, ErrAIFailure):
		return "ai_failure"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}
