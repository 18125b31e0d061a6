// Package events publishes build notifications and search payloads to NATS
// JetStream and keeps the last build of every version in a key-value
// bucket.
package events

import (
	"context"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/search"
)

// BuildNotification is published when a build reaches its terminal state.
type BuildNotification struct {
	BuildID  string    `json:"build_id"`
	Project  string    `json:"project"`
	Version  string    `json:"version"`
	Type     string    `json:"type"`
	Success  bool      `json:"success"`
	ExitCode int       `json:"exit_code"`
	Commit   string    `json:"commit,omitempty"`
	Length   float64   `json:"length_seconds"`
	Finished time.Time `json:"finished"`
}

// NotificationFor summarises a finished build.
func NotificationFor(b *models.Build, project, version string) BuildNotification {
	return BuildNotification{
		BuildID:  b.ID,
		Project:  project,
		Version:  version,
		Type:     b.Type,
		Success:  b.Success,
		ExitCode: b.ExitCode,
		Commit:   b.Commit,
		Length:   b.Length.Seconds(),
		Finished: b.Date.Add(b.Length),
	}
}

// Publisher carries build events out of the service.
type Publisher interface {
	search.Indexer
	BuildFinished(ctx context.Context, n BuildNotification) error
	// LastBuild returns the most recent notification for a version, or
	// nil when none was recorded.
	LastBuild(ctx context.Context, project, version string) (*BuildNotification, error)
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Index(context.Context, search.Payload) error            { return nil }
func (Noop) BuildFinished(context.Context, BuildNotification) error { return nil }
func (Noop) Close() error                                           { return nil }

func (Noop) LastBuild(context.Context, string, string) (*BuildNotification, error) {
	return nil, nil
}
