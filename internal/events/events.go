// internal/events/events.go

// Package events publishes memory lifecycle events to NATS so other
// agents and pipelines can react to stores, consolidations, and
// decisions. Publishing is fire-and-forget: event delivery must never
// block or fail a memory operation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects relative to the configured prefix.
const (
	SubjectMemoryStored       = "memory.stored"
	SubjectMemoryConsolidated = "memory.consolidated"
	SubjectDecisionRecorded   = "decision.recorded"
)

// MemoryStored is published after a memory is persisted.
type MemoryStored struct {
	ID             string    `json:"id"`
	Scope          string    `json:"scope"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Kind           string    `json:"kind"`
	StoredAt       time.Time `json:"stored_at"`
}

// MemoryConsolidated is published after a conversation buffer is
// flushed into long-term storage.
type MemoryConsolidated struct {
	ID             string    `json:"id"`
	Scope          string    `json:"scope"`
	ConversationID string    `json:"conversation_id"`
	Turns          int       `json:"turns"`
	ConsolidatedAt time.Time `json:"consolidated_at"`
}

// DecisionRecorded is published after a decision is recorded.
type DecisionRecorded struct {
	ID         string    `json:"id"`
	Scope      string    `json:"scope"`
	Action     string    `json:"action"`
	Confidence float64   `json:"confidence"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Publisher delivers events.
type Publisher interface {
	// Publish sends an event on a subject relative to the prefix.
	// Implementations log and swallow delivery errors.
	Publish(ctx context.Context, subject string, event any)

	Close()
}

// Config configures the NATS publisher.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "semanticd"
	}
	if c.Name == "" {
		c.Name = "semanticd"
	}
}

// NATSPublisher publishes JSON events to NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to NATS. Reconnects are handled by the
// client; a server that is down at startup is an error.
func NewNATSPublisher(cfg Config, logger *zap.Logger) (*NATSPublisher, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		logger: logger,
	}, nil
}

// Publish marshals the event and sends it. Errors are logged, never
// returned: events are best-effort.
func (p *NATSPublisher) Publish(_ context.Context, subject string, event any) {
	full := p.prefix + "." + subject
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("marshal event failed", zap.String("subject", full), zap.Error(err))
		return
	}
	if err := p.conn.Publish(full, payload); err != nil {
		p.logger.Warn("publish event failed", zap.String("subject", full), zap.Error(err))
	}
}

// Close flushes pending messages and drops the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn("flush events failed", zap.Error(err))
	}
	p.conn.Close()
}

// NoopPublisher discards events. Used when eventing is disabled.
type NoopPublisher struct{}

var _ Publisher = (*NoopPublisher)(nil)

func (NoopPublisher) Publish(context.Context, string, any) {}
func (NoopPublisher) Close()                               {}
