package logstream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(app, text string) Line {
	return Line{
		App:    app,
		Source: SourceApp,
		Proc:   "web.1",
		Time:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Text:   text,
	}
}

func TestMemoryRouterFanout(t *testing.T) {
	t.Parallel()
	r := NewMemoryRouter()
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1, err := r.Subscribe(ctx, "chem-ia-planner")
	require.NoError(t, err)
	sub2, err := r.Subscribe(ctx, "chem-ia-planner")
	require.NoError(t, err)
	other, err := r.Subscribe(ctx, "other-app")
	require.NoError(t, err)

	require.NoError(t, r.Publish(ctx, line("chem-ia-planner", "booting")))

	assert.Equal(t, "booting", (<-sub1).Text)
	assert.Equal(t, "booting", (<-sub2).Text)
	select {
	case l := <-other:
		t.Fatalf("subscriber for other-app received %q", l.Text)
	default:
	}
}

func TestMemoryRouterUnsubscribeOnCancel(t *testing.T) {
	t.Parallel()
	r := NewMemoryRouter()
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := r.Subscribe(ctx, "chem-ia-planner")
	require.NoError(t, err)
	cancel()

	// channel closes once the subscription is torn down
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-sub:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel was not closed")
		}
	}
}

func TestMemoryRouterDropsWhenFull(t *testing.T) {
	t.Parallel()
	r := NewMemoryRouter()
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := r.Subscribe(ctx, "chem-ia-planner")
	require.NoError(t, err)

	// publish past the subscriber buffer without draining; must not block
	for i := 0; i < subscriberBuffer+50; i++ {
		require.NoError(t, r.Publish(ctx, line("chem-ia-planner", fmt.Sprintf("line %d", i))))
	}
	assert.Len(t, sub, subscriberBuffer)
}

func TestHubBacklog(t *testing.T) {
	t.Parallel()
	h := NewHub(NewMemoryRouter(), 3)
	defer func() { _ = h.Close() }()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Publish(ctx, line("chem-ia-planner", fmt.Sprintf("line %d", i))))
	}

	// retention is capped at the configured size, oldest lines dropped first
	got := h.Backlog("chem-ia-planner", 0)
	require.Len(t, got, 3)
	assert.Equal(t, "line 3", got[0].Text)
	assert.Equal(t, "line 5", got[2].Text)

	// a smaller request returns the most recent lines
	got = h.Backlog("chem-ia-planner", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "line 5", got[0].Text)

	assert.Empty(t, h.Backlog("unknown-app", 0))
}

func TestLineString(t *testing.T) {
	t.Parallel()
	l := line("chem-ia-planner", "listening on port 8501")
	assert.Equal(t, "2025-06-01T12:00:00Z app[web.1]: listening on port 8501", l.String())
}
