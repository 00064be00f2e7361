package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/logfields"
)

const serviceName = "nats"

// conn is the subset of *nats.Conn used for publishing.
type conn interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSPublisher publishes events on <subject>.<kind> using core NATS.
type NATSPublisher struct {
	conn    conn
	subject string
	pid     int
}

// NewNATSPublisher connects to url and returns a publisher for subject.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if url == "" {
		return nil, derrors.ValidationFailed("events.nats_url", "required")
	}
	nc, err := nats.Connect(url,
		nats.Name("memoryd"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Category(logfields.CatDaemon), logfields.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, derrors.ExternalUnavailable(serviceName, fmt.Errorf("connect: %w", err))
	}
	slog.Info("NATS publisher connected", logfields.Category(logfields.CatDaemon), slog.String("subject", subject))
	return newPublisher(nc, subject), nil
}

func newPublisher(c conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: c, subject: subject, pid: os.Getpid()}
}

// Subject returns the full subject an event kind is published on.
func (p *NATSPublisher) Subject(kind string) string {
	return p.subject + "." + kind
}

// Publish marshals e and publishes it. The flush is bounded by ctx's
// deadline, or five seconds when ctx has none.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.PID == 0 {
		e.PID = p.pid
	}
	data, err := json.Marshal(e)
	if err != nil {
		return derrors.Wrap(err, derrors.CategoryInternal, derrors.SeverityError, "failed to marshal event").
			WithContext("kind", e.Kind)
	}
	if err := p.conn.Publish(p.Subject(e.Kind), data); err != nil {
		return derrors.ExternalUnavailable(serviceName, fmt.Errorf("publish %s: %w", e.Kind, err))
	}

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return derrors.ExternalUnavailable(serviceName, ctx.Err())
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return derrors.ExternalUnavailable(serviceName, fmt.Errorf("flush %s: %w", e.Kind, err))
	}
	return nil
}

// Close drains nothing; pending publishes were flushed by Publish.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
