// Package events announces archive changes to external collaborators over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// TypeLawSubmitted is published after a submission is stored for review.
	TypeLawSubmitted = "law.submitted"
	// TypeDailySelected is published when a new law of the day is recorded.
	TypeDailySelected = "daily.selected"

	clientName     = "murphy-api"
	maxReconnects  = 5
	reconnectDelay = time.Second
)

// Event is the JSON payload published for every archive change.
type Event struct {
	Type              string `json:"type"`
	LawID             int64  `json:"law_id"`
	Date              string `json:"date,omitempty"`
	OccurredAtSeconds int64  `json:"occurred_at_s"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type messageConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes events as core NATS messages on "<prefix>.<type>".
type NATSPublisher struct {
	conn   messageConn
	prefix string
}

// Connect dials the NATS server at url.
func Connect(url, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newNATSPublisher(conn, subjectPrefix), nil
}

func newNATSPublisher(conn messageConn, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: strings.Trim(strings.TrimSpace(subjectPrefix), ".")}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish encodes event and sends it.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Nop drops every event. It is used when no NATS server is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }
