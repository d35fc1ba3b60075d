// Package events publishes domain events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultSubjectPrefix = "twinledger"

var (
	_ domain.EventPublisher = (*NATSPublisher)(nil)
	_ domain.EventPublisher = Noop{}
)

// Envelope is the JSON body of every published message.
type Envelope struct {
	Topic      string    `json:"topic"`
	TenantID   uuid.UUID `json:"tenant_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// NATSPublisher publishes on "<prefix>.<tenant>.<topic>" with core NATS.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect dials url and returns a publisher. Reconnects are handled by the client.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("twinledger"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return NewNATSPublisher(nc, prefix, logger), nil
}

func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject a topic is published on for a tenant.
func (p *NATSPublisher) Subject(tenantID uuid.UUID, topic string) string {
	return p.prefix + "." + tenantID.String() + "." + topic
}

func (p *NATSPublisher) Publish(ctx context.Context, tenantID uuid.UUID, topic string, payload any) {
	if ctx.Err() != nil {
		return
	}
	data, err := json.Marshal(Envelope{
		Topic:      topic,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		p.logger.Warn("failed to encode event", zap.String("topic", topic), zap.Error(err))
		return
	}
	subject := p.Subject(tenantID, topic)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("nats drain failed", zap.Error(err))
		p.nc.Close()
	}
}

// Noop discards events. It is used when NATS_URL is empty.
type Noop struct{}

func (Noop) Publish(context.Context, uuid.UUID, string, any) {}
