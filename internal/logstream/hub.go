package logstream

import (
	"context"
	"sync"
)

// defaultBacklog is the number of recent lines retained per app for
// non-tailing log requests.
const defaultBacklog = 1500

// A Hub wraps a Router with a bounded per-app backlog so that the server can
// answer "show me recent logs" without durable log storage.
type Hub struct {
	router Router

	mu      sync.Mutex
	backlog map[string]*ring
	size    int
}

// NewHub returns a Hub retaining up to size recent lines per app.  A size of
// 0 selects the default retention.
func NewHub(router Router, size int) *Hub {
	if size <= 0 {
		size = defaultBacklog
	}
	return &Hub{
		router:  router,
		backlog: make(map[string]*ring),
		size:    size,
	}
}

// Publish records the line in the app's backlog and forwards it to the router.
func (h *Hub) Publish(ctx context.Context, line Line) error {
	h.mu.Lock()
	r, ok := h.backlog[line.App]
	if !ok {
		r = newRing(h.size)
		h.backlog[line.App] = r
	}
	r.push(line)
	h.mu.Unlock()
	return h.router.Publish(ctx, line)
}

// Backlog returns up to n of the most recent retained lines for the app, in
// chronological order.  n <= 0 returns the full backlog.
func (h *Hub) Backlog(app string, n int) []Line {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.backlog[app]
	if !ok {
		return nil
	}
	lines := r.snapshot()
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Subscribe attaches a live subscription for the app via the underlying router.
func (h *Hub) Subscribe(ctx context.Context, app string) (<-chan Line, error) {
	return h.router.Subscribe(ctx, app)
}

// Close closes the underlying router.
func (h *Hub) Close() error {
	return h.router.Close()
}

// ring is a fixed-capacity circular buffer of log lines.
type ring struct {
	buf   []Line
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Line, capacity)}
}

func (r *ring) push(l Line) {
	r.buf[r.next] = l
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) snapshot() []Line {
	out := make([]Line, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
