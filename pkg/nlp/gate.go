package nlp

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of concurrent provider calls process-wide. LLM and
// embedding clients share one gate so the bound holds across groups.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates a gate of the given size. Size <= 0 means unbounded.
func NewGate(size int) *Gate {
	if size <= 0 {
		return &Gate{}
	}
	return &Gate{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn while holding one slot, blocking until a slot is free or the
// context is cancelled.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	if g == nil || g.sem == nil {
		return fn(ctx)
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn(ctx)
}

// GatedClient routes every chat call through a shared Gate.
type GatedClient struct {
	client Client
	gate   *Gate
}

// NewGatedClient wraps a client with a shared gate.
func NewGatedClient(client Client, gate *Gate) *GatedClient {
	return &GatedClient{client: client, gate: gate}
}

// Chat implements Client.
func (g *GatedClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	var resp *Response
	err := g.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.Chat(ctx, messages)
		return err
	})
	return resp, err
}

// ChatWithStructuredOutput implements Client.
func (g *GatedClient) ChatWithStructuredOutput(ctx context.Context, messages []Message, schema any) (*Response, error) {
	var resp *Response
	err := g.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.ChatWithStructuredOutput(ctx, messages, schema)
		return err
	})
	return resp, err
}

// Close implements Client.
func (g *GatedClient) Close() error { return g.client.Close() }
