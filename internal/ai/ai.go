// Package ai wraps the generative backend behind a small completion
// contract the pipeline can be tested against.
package ai

import "context"

// Reply is one generated response with the backend's confidence in it.
type Reply struct {
	Text       string
	Confidence float64
}

// Responder produces a reply to one message given the assembled persona and
// history prompt. maxLength caps the generated response. Ping is a liveness
// probe used to gate pipeline initialization at startup.
type Responder interface {
	Complete(ctx context.Context, prompt, message string, maxLength int) (Reply, error)
	Ping(ctx context.Context) bool
}
