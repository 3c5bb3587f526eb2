// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
	"github.com/Corphon/BugReportConstructor/internal/models"
)

const (
	// DefaultSaveMessage is shown after a successful persist with no message of its own.
	DefaultSaveMessage = "Saved."
	// DefaultLoadMessage is shown after a load that found a non-empty document.
	DefaultLoadMessage = "Loaded saved data."
)

// ErrDisposed is returned by calls made after Dispose.
var ErrDisposed = errors.New("synchronizer disposed")

// Transport is the remote side of a document. *client.DocumentClient satisfies it.
type Transport[T any] interface {
	Fetch(ctx context.Context) (T, error)
	Save(ctx context.Context, doc T) (T, error)
}

// State is a snapshot of the local document and its sync status.
type State[T any] struct {
	Document T
	Saving   bool
	Loading  bool
	Message  string
	Err      error
}

// Synchronizer keeps a local copy of one document in step with the store.
// Writes are applied locally first and replaced by the store's echo. Every
// persist and load takes a sequence number; a response is applied only when
// no later call has started, so the newest intent always wins.
type Synchronizer[T any] struct {
	doc    models.DocumentType[T]
	logger *zap.Logger

	mu        sync.Mutex
	transport Transport[T]
	state     State[T]
	seq       uint64
	saving    int
	loading   int
	disposed  bool
	listeners []func(State[T])
}

// Option configures a Synchronizer.
type Option[T any] func(*Synchronizer[T])

// WithTransport sets the initial transport.
func WithTransport[T any](t Transport[T]) Option[T] {
	return func(s *Synchronizer[T]) { s.transport = t }
}

// WithLogger sets the logger.
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(s *Synchronizer[T]) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a synchronizer holding doc's default value.
func New[T any](doc models.DocumentType[T], opts ...Option[T]) *Synchronizer[T] {
	s := &Synchronizer[T]{
		doc:    doc,
		logger: zap.NewNop(),
		state:  State[T]{Document: doc.Default()},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("document", doc.Name))
	return s
}

// SetTransport swaps the transport. A nil transport makes the synchronizer local only.
func (s *Synchronizer[T]) SetTransport(t Transport[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// Subscribe registers fn to receive every state change. fn runs with no locks held.
func (s *Synchronizer[T]) Subscribe(fn func(State[T])) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State returns the current snapshot.
func (s *Synchronizer[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Document returns the current local document.
func (s *Synchronizer[T]) Document() T {
	return s.State().Document
}

// Persist replaces the local document with next and writes it to the store.
// On success the store's echo becomes the local document. On failure the
// local document stays at next and the error is recorded and returned.
// With no transport the edit stays local and message is shown as given.
// Otherwise an empty message selects DefaultSaveMessage.
func (s *Synchronizer[T]) Persist(ctx context.Context, next T, message string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.seq++
	seq := s.seq
	s.state.Document = s.doc.Normalize(next)
	s.state.Err = nil
	transport := s.transport
	if transport == nil {
		s.state.Message = message
		snap := s.snapshotLocked()
		listeners := s.listenersLocked()
		s.mu.Unlock()
		notify(listeners, snap)
		return nil
	}
	if message == "" {
		message = DefaultSaveMessage
	}
	s.saving++
	s.state.Message = ""
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, snap)

	echo, err := transport.Save(ctx, next)

	s.mu.Lock()
	s.saving--
	if s.disposed {
		s.mu.Unlock()
		return err
	}
	if seq == s.seq {
		if err != nil {
			s.state.Err = err
			s.state.Message = ""
		} else {
			s.state.Document = s.doc.Normalize(echo)
			s.state.Message = message
		}
	} else {
		s.logger.Debug("discarding stale save response", zap.Uint64("seq", seq), zap.Uint64("latest", s.seq))
	}
	snap = s.snapshotLocked()
	listeners = s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, snap)

	if err != nil {
		s.logger.Warn("failed to persist document", zap.Error(err))
	}
	return err
}

// Load replaces the local document with the store's copy. A stored value of
// the wrong shape resets the local document to the default without an error.
// Load is a no-op when there is no transport.
func (s *Synchronizer[T]) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	transport := s.transport
	if transport == nil {
		s.mu.Unlock()
		return nil
	}
	s.seq++
	seq := s.seq
	s.loading++
	s.state.Message = ""
	s.state.Err = nil
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, snap)

	doc, err := transport.Fetch(ctx)

	s.mu.Lock()
	s.loading--
	if s.disposed {
		s.mu.Unlock()
		return err
	}
	if seq == s.seq {
		switch {
		case err == nil:
			s.state.Document = s.doc.Normalize(doc)
			s.state.Err = nil
			s.state.Message = ""
			if !s.doc.IsEmpty(s.state.Document) {
				s.state.Message = DefaultLoadMessage
			}
		case apperrors.IsShapeError(err):
			s.logger.Info("stored document has an unexpected shape, using defaults", zap.Error(err))
			s.state.Document = s.doc.Default()
			s.state.Err = nil
			s.state.Message = ""
			err = nil
		default:
			s.state.Err = err
			s.state.Message = ""
		}
	} else {
		s.logger.Debug("discarding stale load response", zap.Uint64("seq", seq), zap.Uint64("latest", s.seq))
		if apperrors.IsShapeError(err) {
			err = nil
		}
	}
	snap = s.snapshotLocked()
	listeners = s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, snap)

	if err != nil {
		s.logger.Warn("failed to load document", zap.Error(err))
	}
	return err
}

// Dispose stops the synchronizer. Responses still in flight are dropped and
// later calls return ErrDisposed.
func (s *Synchronizer[T]) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.listeners = nil
}

// Disposed reports whether Dispose has been called.
func (s *Synchronizer[T]) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Synchronizer[T]) snapshotLocked() State[T] {
	snap := s.state
	snap.Document = s.doc.Normalize(s.state.Document)
	snap.Saving = s.saving > 0
	snap.Loading = s.loading > 0
	return snap
}

func (s *Synchronizer[T]) listenersLocked() []func(State[T]) {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]func(State[T]), len(s.listeners))
	copy(out, s.listeners)
	return out
}

func notify[T any](listeners []func(State[T]), snap State[T]) {
	for _, fn := range listeners {
		fn(snap)
	}
}
