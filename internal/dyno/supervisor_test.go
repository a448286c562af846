package dyno

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-dev/slipway/internal/logstream"
	"github.com/slipway-dev/slipway/internal/manifest"
)

// capturePublisher records every published line.
type capturePublisher struct {
	mu    sync.Mutex
	lines []logstream.Line
}

func (c *capturePublisher) Publish(_ context.Context, line logstream.Line) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
	return nil
}

func (c *capturePublisher) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	for i, l := range c.lines {
		out[i] = l.Text
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)         {}
func (nopLogger) Debug(string, ...any)        {}
func (nopLogger) Error(error, string, ...any) {}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func webSpec(app, command string) Spec {
	return Spec{
		App: app,
		Dir: "/tmp",
		Procfile: manifest.Procfile{
			Processes: []manifest.Process{{Name: "web", Command: command}},
		},
	}
}

func TestSupervisorStartAndStop(t *testing.T) {
	t.Parallel()
	logs := &capturePublisher{}
	s := New(logs, nopLogger{})
	defer s.StopAll()

	require.NoError(t, s.Start(context.Background(), webSpec("chem-ia-planner", "echo booting; sleep 60")))

	waitFor(t, "dyno never came up", func() bool {
		ds := s.List("chem-ia-planner")
		return len(ds) == 1 && ds[0].State == StateUp
	})
	waitFor(t, "dyno output was not published", func() bool {
		for _, text := range logs.texts() {
			if text == "booting" {
				return true
			}
		}
		return false
	})

	ds := s.List("chem-ia-planner")
	require.Len(t, ds, 1)
	assert.Equal(t, "web.1", ds[0].Proc)
	assert.Equal(t, "echo booting; sleep 60", ds[0].Command)

	s.Stop("chem-ia-planner")
	assert.Empty(t, s.List("chem-ia-planner"))
}

func TestSupervisorEnvironment(t *testing.T) {
	t.Parallel()
	logs := &capturePublisher{}
	s := New(logs, nopLogger{})
	defer s.StopAll()

	spec := webSpec("chem-ia-planner", `echo "$DYNO $PORT $GREETING"; sleep 60`)
	spec.Env = map[string]string{"GREETING": "hello"}
	spec.Port = 8501
	require.NoError(t, s.Start(context.Background(), spec))

	waitFor(t, "dyno environment was not injected", func() bool {
		for _, text := range logs.texts() {
			if text == "web.1 8501 hello" {
				return true
			}
		}
		return false
	})
}

func TestSupervisorCrashDetection(t *testing.T) {
	t.Parallel()
	s := New(&capturePublisher{}, nopLogger{})
	defer s.StopAll()

	require.NoError(t, s.Start(context.Background(), webSpec("chem-ia-planner", "exit 1")))

	waitFor(t, "crashed dyno was not flagged", func() bool {
		ds := s.List("chem-ia-planner")
		return len(ds) == 1 && ds[0].State == StateCrashed
	})
}

func TestSupervisorRestart(t *testing.T) {
	t.Parallel()
	logs := &capturePublisher{}
	s := New(logs, nopLogger{})
	defer s.StopAll()

	require.NoError(t, s.Start(context.Background(), webSpec("chem-ia-planner", "echo booting; sleep 60")))
	waitFor(t, "dyno never came up", func() bool {
		ds := s.List("chem-ia-planner")
		return len(ds) == 1 && ds[0].State == StateUp
	})

	require.NoError(t, s.Restart(context.Background(), "chem-ia-planner"))
	waitFor(t, "dyno did not come back up", func() bool {
		ds := s.List("chem-ia-planner")
		return len(ds) == 1 && ds[0].State == StateUp && ds[0].Restarts == 0
	})
	waitFor(t, "restarted dyno did not boot again", func() bool {
		count := 0
		for _, text := range logs.texts() {
			if text == "booting" {
				count++
			}
		}
		return count >= 2
	})

	assert.Error(t, s.Restart(context.Background(), "unknown-app"))
}
