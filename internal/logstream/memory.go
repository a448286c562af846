package logstream

import (
	"context"
	"sync"
)

// MemoryRouter is an in-process Router used when no NATS URL is configured.
// It is suitable for single-node servers and for tests.
type MemoryRouter struct {
	mu     sync.Mutex
	subs   map[string][]chan Line
	closed bool
}

var _ Router = (*MemoryRouter)(nil)

// NewMemoryRouter returns an in-process log router.
func NewMemoryRouter() *MemoryRouter {
	return &MemoryRouter{
		subs: make(map[string][]chan Line),
	}
}

// Publish delivers the line to all current subscribers for line.App, dropping
// it for any subscriber whose buffer is full.
func (r *MemoryRouter) Publish(_ context.Context, line Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	for _, ch := range r.subs[line.App] {
		select {
		case ch <- line:
		default:
			// slow subscriber, drop the line rather than block the producer
		}
	}
	return nil
}

// Subscribe returns a channel of lines for the named app.  The channel is
// closed and the subscription removed when ctx is cancelled.
func (r *MemoryRouter) Subscribe(ctx context.Context, app string) (<-chan Line, error) {
	ch := make(chan Line, subscriberBuffer)
	r.mu.Lock()
	r.subs[app] = append(r.subs[app], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subs[app]
		for i, sub := range subs {
			if sub == ch {
				r.subs[app] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Close drops all subscriptions.
func (r *MemoryRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
