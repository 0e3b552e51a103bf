package models

import "time"

// Role identifies which side of a conversation produced a message.
type Role string

const (
	RoleCounterparty Role = "counterparty"
	RoleAssistant    Role = "assistant"
)

// Direction of a ledger message relative to this process.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Sentiment is a tri-state thread mood indicator. It is carried on the
// thread but only ever set to SentimentNeutral unless a scorer computes it.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ThreadMessage is one entry in a thread's in-memory rolling history.
type ThreadMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Kind      string    `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StoredMessage is the durable ledger record for one delivered message.
type StoredMessage struct {
	ID             string    `json:"id"`
	Address        string    `json:"address"`
	ThreadID       string    `json:"thread_id"`
	Content        string    `json:"content"`
	Direction      Direction `json:"direction"`
	Kind           string    `json:"kind"`
	AIGenerated    bool      `json:"ai_generated"`
	Confidence     float64   `json:"confidence,omitempty"`
	ContextUsed    string    `json:"context_used,omitempty"`
	ProcessingTime int64     `json:"processing_time_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LedgerStats aggregates message counts across the whole ledger.
type LedgerStats struct {
	Total       int64            `json:"total"`
	Inbound     int64            `json:"inbound"`
	Outbound    int64            `json:"outbound"`
	AIGenerated int64            `json:"ai_generated"`
	ByKind      map[string]int64 `json:"by_kind"`
}

// ProcessedExchange is the result of one inbound-message-to-reply cycle.
// It is returned to the caller and never persisted as an entity.
type ProcessedExchange struct {
	MessageID      string        `json:"message_id"`
	Address        string        `json:"address"`
	ThreadID       string        `json:"thread_id"`
	Original       string        `json:"original"`
	Reply          string        `json:"reply"`
	Confidence     float64       `json:"confidence"`
	ContextUsed    string        `json:"context_used"`
	ProcessingTime time.Duration `json:"processing_time"`
}
