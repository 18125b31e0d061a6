package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	ferrors "git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/search"
)

const publishTimeout = 5 * time.Second

// streamPublisher is the part of jetstream.JetStream used for events.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATS publishes to subjects below a prefix:
//
//	<prefix>.search.<project>   search payloads
//	<prefix>.builds.<project>   build notifications
type NATS struct {
	conn   *nats.Conn
	js     streamPublisher
	kv     jetstream.KeyValue
	prefix string
}

// Connect dials NATS, ensures the events stream and the status bucket
// exist and returns a ready publisher.
func Connect(ctx context.Context, cfg config.NATSConfig) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("rtdbuild"))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", cfg.URL).
			Build()
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	prefix := cfg.SubjectPrefix
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     "RTDBUILD_EVENTS",
		Subjects: []string{prefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure events stream: %w", err)
	}
	kv, err := statusBucket(ctx, js, cfg.StatusBucket)
	if err != nil {
		conn.Close()
		return nil, err
	}
	slog.Info("NATS publisher initialized",
		slog.String("url", cfg.URL),
		logfields.Subject(prefix),
		slog.String("bucket", cfg.StatusBucket))
	return &NATS{conn: conn, js: js, kv: kv, prefix: prefix}, nil
}

func statusBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Last build per project version",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket: %w", err)
	}
	slog.Info("Created build status bucket", slog.String("bucket", bucket))
	return kv, nil
}

// NewNATS wires a publisher from existing JetStream handles.
func NewNATS(js streamPublisher, kv jetstream.KeyValue, prefix string) *NATS {
	return &NATS{js: js, kv: kv, prefix: prefix}
}

func (n *NATS) subject(kind, project string) string {
	return n.prefix + "." + kind + "." + project
}

func statusKey(project, version string) string { return project + "." + version }

func (n *NATS) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := n.js.Publish(ctx, subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to publish event").
			WithContext("subject", subject).
			Retryable().
			Build()
	}
	slog.Debug("Published event", logfields.Subject(subject))
	return nil
}

// Index publishes the search pages of a build.
func (n *NATS) Index(ctx context.Context, p search.Payload) error {
	return n.publish(ctx, n.subject("search", p.Project), p)
}

// BuildFinished publishes the notification and records it as the
// version's last build.
func (n *NATS) BuildFinished(ctx context.Context, b BuildNotification) error {
	if err := n.publish(ctx, n.subject("builds", b.Project), b); err != nil {
		return err
	}
	if n.kv == nil {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if _, err := n.kv.Put(ctx, statusKey(b.Project, b.Version), data); err != nil {
		return fmt.Errorf("failed to record build status: %w", err)
	}
	return nil
}

func (n *NATS) LastBuild(ctx context.Context, project, version string) (*BuildNotification, error) {
	if n.kv == nil {
		return nil, nil
	}
	entry, err := n.kv.Get(ctx, statusKey(project, version))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read build status: %w", err)
	}
	var b BuildNotification
	if err := json.Unmarshal(entry.Value(), &b); err != nil {
		return nil, fmt.Errorf("failed to decode build status: %w", err)
	}
	return &b, nil
}

func (n *NATS) Close() error {
	if n.conn != nil {
		return n.conn.Drain()
	}
	return nil
}
