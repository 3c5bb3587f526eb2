// internal/events/nats.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the subject root for document events.
const DefaultSubjectPrefix = "brc.documents"

// NATSPublisher forwards document events to a NATS subject per document type.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// ConnectNATS dials url and returns a publisher using DefaultSubjectPrefix.
func ConnectNATS(url string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("brc-server"),
		nats.Timeout(5*time.Second),
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
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, prefix: DefaultSubjectPrefix, logger: logger}, nil
}

// Subject returns the subject events for document are published on.
func Subject(prefix, document string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	// NATS tokens cannot contain dots or wildcards
	document = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(document)
	return prefix + "." + document
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, event DocumentEvent) error {
	if p == nil || p.conn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := Subject(p.prefix, event.Document)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	p.logger.Debug("published document event",
		zap.String("subject", subject),
		zap.String("user_id", event.UserID))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
