package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/persona-relay/internal/models"
	"github.com/xaenox/persona-relay/internal/thread"
)

// Stats aggregates ledger counters with live thread counts.
type Stats struct {
	Ledger        models.LedgerStats `json:"ledger"`
	ActiveThreads int                `json:"active_threads"`
	Initialized   bool               `json:"initialized"`
}

// AggregateStats reports message counts by direction and kind plus the
// number of threads currently held in memory.
func (p *Processor) AggregateStats(ctx context.Context) (*Stats, error) {
	ledger, err := p.ledger.LedgerStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading ledger stats: %v", ErrPersistence, err)
	}
	return &Stats{
		Ledger:        *ledger,
		ActiveThreads: p.threads.Count(),
		Initialized:   p.Ready(),
	}, nil
}

// ThreadInfo returns the monitoring projection for one address. The second
// return is false when the thread has never been created.
func (p *Processor) ThreadInfo(address string) (thread.Stats, bool) {
	return p.threads.Stats(address)
}

// History returns stored messages for one address, newest first, with
// limit/offset pagination.
func (p *Processor) History(ctx context.Context, address string, limit, offset int) ([]*models.StoredMessage, error) {
	msgs, err := p.ledger.MessagesByAddress(ctx, thread.Normalize(address), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: reading history: %v", ErrPersistence, err)
	}
	return msgs, nil
}

// Search runs a full-text substring search across stored message content,
// inbound and AI-generated alike.
func (p *Processor) Search(ctx context.Context, query string) ([]*models.StoredMessage, error) {
	msgs, err := p.ledger.SearchMessages(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: searching messages: %v", ErrPersistence, err)
	}
	return msgs, nil
}

// ActiveThreads returns threads interacted with inside the window.
func (p *Processor) ActiveThreads(window time.Duration) []thread.Thread {
	return p.threads.ActiveSince(window)
}

// ClearThread empties one thread's rolling memory. Returns false if the
// thread has never existed.
func (p *Processor) ClearThread(address string) bool {
	return p.threads.Clear(address)
}
