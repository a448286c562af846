// Package logstream routes build and dyno output lines from their producers
// to any number of live subscribers (the `logs --tail` sessions).
package logstream

import (
	"context"
	"fmt"
	"time"
)

// Source values identify which part of the platform produced a log line.
const (
	SourceBuild = "build"
	SourceApp   = "app"
)

// A Line is a single log record emitted by a build or a running process.
type Line struct {
	App    string    `json:"app"`
	Source string    `json:"source"`
	Proc   string    `json:"proc"`
	Time   time.Time `json:"time"`
	Text   string    `json:"text"`
}

// String renders the line the way the CLI displays it.
func (l Line) String() string {
	return fmt.Sprintf("%s %s[%s]: %s", l.Time.Format(time.RFC3339), l.Source, l.Proc, l.Text)
}

// Router fans log lines out to subscribers.  Publish never blocks on slow
// subscribers; lines are dropped for subscribers that cannot keep up.
type Router interface {
	// Publish delivers the line to all current subscribers for line.App.
	Publish(ctx context.Context, line Line) error
	// Subscribe returns a channel of lines for the named app.  The channel is
	// closed when ctx is cancelled.
	Subscribe(ctx context.Context, app string) (<-chan Line, error)
	// Close releases the router's resources.
	Close() error
}

// subscriberBuffer is the per-subscriber channel depth before lines are dropped.
const subscriberBuffer = 256
