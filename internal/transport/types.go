package transport

import "context"

// ChatTarget addresses a chat (optionally a forum topic thread).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// Deliverer is the delivery callback consumed by the dispatch loop.
//
// Contract: expected failure modes (network errors, rate limits) are returned
// as errors, never raised as panics. Retries, if any, belong to the
// implementation behind this interface, not to the engine.
type Deliverer interface {
	Deliver(ctx context.Context, ownerID int64, text string) error
}

// Adapter is a full chat transport: reminder delivery plus plain sends used
// by operational sinks (e.g. the log forwarder).
type Adapter interface {
	Deliverer

	SendText(ctx context.Context, to ChatTarget, text string) error
	Stop(ctx context.Context) error
}

// DeliverFunc adapts a function to the Deliverer interface.
type DeliverFunc func(ctx context.Context, ownerID int64, text string) error

func (f DeliverFunc) Deliver(ctx context.Context, ownerID int64, text string) error {
	return f(ctx, ownerID, text)
}
