// internal/events/events.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// TypeDocumentSaved is sent after a document write succeeds.
const TypeDocumentSaved = "document_saved"

// DocumentEvent announces a change to one user's document.
type DocumentEvent struct {
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	Document  string          `json:"document"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewDocumentSaved builds a document_saved event for the authoritative echo.
func NewDocumentSaved(userID, document string, payload any) (DocumentEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return DocumentEvent{}, err
	}
	return DocumentEvent{
		Type:      TypeDocumentSaved,
		UserID:    userID,
		Document:  document,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Publisher delivers document events. Implementations must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, event DocumentEvent) error
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, DocumentEvent) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, event DocumentEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
