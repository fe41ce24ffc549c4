// ABOUTME: Generator decorator that bounds each generation with a deadline
// ABOUTME: A stalled backend surfaces as an error event instead of hanging the relay

package responder

import (
	"context"
	"time"
)

type timeoutGenerator struct {
	gen Generator
	d   time.Duration
}

// WithTimeout bounds every Generate call with the given deadline. A
// non-positive duration returns the generator unchanged.
func WithTimeout(gen Generator, d time.Duration) Generator {
	if d <= 0 {
		return gen
	}
	return &timeoutGenerator{gen: gen, d: d}
}

func (g *timeoutGenerator) Generate(ctx context.Context, req *Request) (<-chan *Event, error) {
	ctx, cancel := context.WithTimeout(ctx, g.d)
	events, err := g.gen.Generate(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan *Event, 16)
	go func() {
		defer close(out)
		defer cancel()
		for ev := range events {
			out <- ev
		}
	}()
	return out, nil
}
