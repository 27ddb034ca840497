// Package scripted provides a deterministic Provider for tests and offline
// runs: answers (or errors) are returned in the order they were queued.
package scripted

import (
	"context"
	"fmt"
	"sync"

	"github.com/ragbase/kbchat/pkg/provider"
)

type step struct {
	answer provider.Answer
	err    error
}

type Provider struct {
	mu    sync.Mutex
	steps []step
	// Echo answers "echo: <message>" once the script is exhausted instead of
	// failing, which keeps offline dev servers usable indefinitely.
	Echo bool

	requests []provider.Request
}

var _ provider.Provider = &Provider{}

func New() *Provider { return &Provider{} }

// QueueAnswer appends a scripted answer.
func (p *Provider) QueueAnswer(a provider.Answer) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step{answer: a})
	return p
}

// QueueError appends a scripted failure.
func (p *Provider) QueueError(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step{err: err})
	return p
}

// Requests returns a copy of every request seen, in order.
func (p *Provider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) Answer(ctx context.Context, req provider.Request) (provider.Answer, error) {
	if err := ctx.Err(); err != nil {
		return provider.Answer{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		if p.Echo {
			return provider.Answer{Text: "echo: " + req.Message}, nil
		}
		return provider.Answer{}, fmt.Errorf("scripted provider: no answer queued for %q", req.Message)
	}
	next := p.steps[0]
	p.steps = p.steps[1:]
	return next.answer, next.err
}
