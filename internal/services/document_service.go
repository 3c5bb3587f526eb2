// internal/services/document_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
	"github.com/Corphon/BugReportConstructor/internal/events"
	"github.com/Corphon/BugReportConstructor/internal/models"
	"github.com/Corphon/BugReportConstructor/internal/storage"
	"github.com/Corphon/BugReportConstructor/internal/utils"
)

// DocumentService serves GET and POST for one document type over a property bag.
// The stored value is never rewritten on read.
type DocumentService[T any] struct {
	bag       storage.PropertyBag
	doc       models.DocumentType[T]
	locks     *LockManager
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *utils.Metrics

	reads singleflight.Group
}

// DocumentOption configures a DocumentService.
type DocumentOption func(*documentOptions)

type documentOptions struct {
	locks     *LockManager
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *utils.Metrics
}

// WithLockManager shares a lock manager between services.
func WithLockManager(lm *LockManager) DocumentOption {
	return func(o *documentOptions) { o.locks = lm }
}

// WithPublisher sets where document_saved events go.
func WithPublisher(p events.Publisher) DocumentOption {
	return func(o *documentOptions) { o.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) DocumentOption {
	return func(o *documentOptions) { o.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *utils.Metrics) DocumentOption {
	return func(o *documentOptions) { o.metrics = m }
}

// NewDocumentService creates the service for doc.
func NewDocumentService[T any](bag storage.PropertyBag, doc models.DocumentType[T], opts ...DocumentOption) *DocumentService[T] {
	o := documentOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locks == nil {
		o.locks = NewLockManager()
	}
	if o.publisher == nil {
		o.publisher = events.Nop{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &DocumentService[T]{
		bag:       bag,
		doc:       doc,
		locks:     o.locks,
		publisher: o.publisher,
		logger:    o.logger.With(zap.String("document", doc.Name)),
		metrics:   o.metrics,
	}
}

// Name returns the document type name.
func (s *DocumentService[T]) Name() string {
	return s.doc.Name
}

// Get returns the user's document, or the default document when none is stored.
// Concurrent reads for the same user share one storage round trip.
func (s *DocumentService[T]) Get(ctx context.Context, userID string) (T, error) {
	if err := storage.ValidateUserID(userID); err != nil {
		var zero T
		return zero, apperrors.NewValidationError("invalid user id", err)
	}

	// the read is shared, so one caller going away must not fail the others
	shared := context.WithoutCancel(ctx)
	ch := s.reads.DoChan(userID, func() (interface{}, error) {
		return s.read(shared, userID)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (s *DocumentService[T]) read(ctx context.Context, userID string) (T, error) {
	var zero T

	raw, found, err := s.bag.GetProperty(ctx, userID, s.doc.PropertyKey)
	if err != nil {
		s.metrics.RecordDocumentRead(s.doc.Name, utils.OutcomeError)
		s.logger.Error("failed to read property", zap.String("user_id", userID), zap.Error(err))
		return zero, apperrors.NewProcessingError(fmt.Sprintf("failed to load %s", s.doc.Name), err)
	}
	if !found {
		s.metrics.RecordDocumentRead(s.doc.Name, utils.OutcomeDefault)
		return s.doc.Default(), nil
	}

	value, err := s.doc.ParseStored([]byte(raw))
	if err != nil {
		s.metrics.RecordDocumentRead(s.doc.Name, outcomeFor(err))
		s.logger.Warn("stored document rejected",
			zap.String("user_id", userID),
			zap.String("error_type", string(apperrors.TypeOf(err))),
			zap.Error(err))
		return zero, err
	}
	s.metrics.RecordDocumentRead(s.doc.Name, utils.OutcomeOK)
	return value, nil
}

// Save validates body, overwrites the stored value and returns the document as
// read back from storage.
func (s *DocumentService[T]) Save(ctx context.Context, userID string, body []byte) (T, error) {
	var zero T
	if err := storage.ValidateUserID(userID); err != nil {
		return zero, apperrors.NewValidationError("invalid user id", err)
	}

	incoming, err := s.doc.ParseIncoming(body)
	if err != nil {
		s.metrics.RecordDocumentWrite(s.doc.Name, outcomeFor(err))
		s.logger.Debug("request body rejected", zap.String("user_id", userID), zap.Error(err))
		return zero, err
	}
	serialized, err := json.Marshal(incoming)
	if err != nil {
		s.metrics.RecordDocumentWrite(s.doc.Name, utils.OutcomeError)
		return zero, apperrors.NewProcessingError(fmt.Sprintf("failed to encode %s", s.doc.Name), err)
	}

	var echo T
	err = s.locks.ExecuteWithDocumentLock(userID, s.doc.PropertyKey, func() error {
		if err := s.bag.SetProperty(ctx, userID, s.doc.PropertyKey, string(serialized)); err != nil {
			return apperrors.NewProcessingError(fmt.Sprintf("failed to save %s", s.doc.Name), err)
		}
		// reads that started before the write must not be shared with later callers
		s.reads.Forget(userID)

		raw, found, err := s.bag.GetProperty(ctx, userID, s.doc.PropertyKey)
		if err != nil {
			return apperrors.NewProcessingError(fmt.Sprintf("failed to reload %s", s.doc.Name), err)
		}
		if !found {
			return apperrors.NewProcessingError(fmt.Sprintf("%s vanished after write", s.doc.Name), nil)
		}
		echo, err = s.doc.ParseStored([]byte(raw))
		return err
	})
	if err != nil {
		s.metrics.RecordDocumentWrite(s.doc.Name, outcomeFor(err))
		s.logger.Error("failed to save document", zap.String("user_id", userID), zap.Error(err))
		return zero, err
	}
	s.metrics.RecordDocumentWrite(s.doc.Name, utils.OutcomeOK)
	s.logger.Debug("document saved", zap.String("user_id", userID), zap.Int("bytes", len(serialized)))

	s.publish(ctx, userID, echo)
	return echo, nil
}

func (s *DocumentService[T]) publish(ctx context.Context, userID string, echo T) {
	event, err := events.NewDocumentSaved(userID, s.doc.Name, echo)
	if err != nil {
		s.logger.Warn("failed to build document event", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.RecordError("publish", "documents")
		s.logger.Warn("failed to publish document event", zap.String("user_id", userID), zap.Error(err))
	}
}

func outcomeFor(err error) string {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeMalformed:
		return utils.OutcomeMalformed
	case apperrors.ErrorTypeShape:
		return utils.OutcomeShape
	default:
		return utils.OutcomeError
	}
}
