package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
	"github.com/Corphon/BugReportConstructor/internal/events"
	"github.com/Corphon/BugReportConstructor/internal/models"
	"github.com/Corphon/BugReportConstructor/internal/storage"
	"github.com/Corphon/BugReportConstructor/internal/utils"
)

type memoryBag struct {
	mu       sync.Mutex
	values   map[string]string
	getErr   error
	setErr   error
	getCalls int
}

func newMemoryBag() *memoryBag {
	return &memoryBag{values: map[string]string{}}
}

func (b *memoryBag) GetProperty(_ context.Context, userID, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getCalls++
	if b.getErr != nil {
		return "", false, b.getErr
	}
	v, ok := b.values[userID+"/"+key]
	return v, ok, nil
}

func (b *memoryBag) SetProperty(_ context.Context, userID, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.setErr != nil {
		return b.setErr
	}
	b.values[userID+"/"+key] = value
	return nil
}

func (b *memoryBag) Close() error { return nil }

func (b *memoryBag) raw(userID, key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[userID+"/"+key]
	return v, ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DocumentEvent
}

func (r *recordingPublisher) Publish(_ context.Context, e events.DocumentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func newBlocksService(bag storage.PropertyBag, opts ...DocumentOption) *DocumentService[models.SavedBlocks] {
	return NewDocumentService(bag, models.SavedBlocksDocument, opts...)
}

func newFormatsService(bag storage.PropertyBag, opts ...DocumentOption) *DocumentService[models.OutputFormatsPayload] {
	return NewDocumentService(bag, models.OutputFormatsDocument, opts...)
}

func TestDocumentService_DefaultsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	bag := newMemoryBag()

	blocks, err := newBlocksService(bag).Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.EmptySavedBlocks(), blocks)

	formats, err := newFormatsService(bag).Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultOutputFormats(), formats)

	_, found := bag.raw("alice", models.SavedBlocksKey)
	assert.False(t, found, "reads never write")
}

func TestDocumentService_SaveEchoesStoredValue(t *testing.T) {
	ctx := context.Background()
	bag := newMemoryBag()
	publisher := &recordingPublisher{}
	svc := newBlocksService(bag, WithPublisher(publisher), WithMetrics(utils.NewMetrics()))

	echo, err := svc.Save(ctx, "alice", []byte(`{"summary":["Crash"],"preconditions":[],"steps":["open","click"]}`))
	require.NoError(t, err)
	assert.Equal(t, models.SavedBlocks{
		Summary:       []string{"Crash"},
		Preconditions: []string{},
		Steps:         []string{"open", "click"},
	}, echo)

	got, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, echo, got)

	raw, _ := bag.raw("alice", models.SavedBlocksKey)
	assert.JSONEq(t, `{"summary":["Crash"],"preconditions":[],"steps":["open","click"]}`, raw)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "saved-blocks", publisher.events[0].Document)
	assert.Equal(t, "alice", publisher.events[0].UserID)
}

func TestDocumentService_SaveIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	svc := newFormatsService(newMemoryBag())

	_, err := svc.Save(ctx, "alice", []byte(`{"activeFormat":"a","formats":[{"id":"a","name":"A","template":"{{summary}}"}]}`))
	require.NoError(t, err)
	_, err = svc.Save(ctx, "alice", []byte(`{"activeFormat":"markdown_default","formats":[]}`))
	require.NoError(t, err)

	got, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultOutputFormats(), got)
}

func TestDocumentService_MalformedStoredValue(t *testing.T) {
	ctx := context.Background()
	bag := newMemoryBag()
	require.NoError(t, bag.SetProperty(ctx, "alice", models.SavedBlocksKey, "{not json"))

	_, err := newBlocksService(bag).Get(ctx, "alice")
	require.Error(t, err)
	assert.True(t, apperrors.IsMalformedError(err))

	raw, _ := bag.raw("alice", models.SavedBlocksKey)
	assert.Equal(t, "{not json", raw, "stored state is untouched")
}

func TestDocumentService_ShapeMismatchIsNotDefaulted(t *testing.T) {
	ctx := context.Background()
	bag := newMemoryBag()
	require.NoError(t, bag.SetProperty(ctx, "alice", models.SavedBlocksKey, `{"summary":"x"}`))
	require.NoError(t, bag.SetProperty(ctx, "alice", models.OutputFormatsKey, `[]`))

	_, err := newBlocksService(bag).Get(ctx, "alice")
	assert.True(t, apperrors.IsShapeError(err))

	_, err = newFormatsService(bag).Get(ctx, "alice")
	assert.True(t, apperrors.IsShapeError(err))
}

func TestDocumentService_LegacyUpgradeOnRead(t *testing.T) {
	ctx := context.Background()
	bag := newMemoryBag()
	legacy := `{"summaryChunks":["a","b"],"preconditions":"  logged   in  ","steps":["s1"],"additionalInfo":"n"}`
	require.NoError(t, bag.SetProperty(ctx, "alice", models.SavedBlocksKey, legacy))
	svc := newBlocksService(bag)

	first, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.SavedBlocks{
		Summary:       []string{"a", "b"},
		Preconditions: []string{"logged in"},
		Steps:         []string{"s1"},
	}, first)

	second, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	raw, _ := bag.raw("alice", models.SavedBlocksKey)
	assert.Equal(t, legacy, raw, "the legacy form is never written back")
}

func TestDocumentService_SaveRejectsBadBodies(t *testing.T) {
	ctx := context.Background()
	bag := newMemoryBag()
	publisher := &recordingPublisher{}
	blocks := newBlocksService(bag, WithPublisher(publisher))
	formats := newFormatsService(bag, WithPublisher(publisher))

	cases := []struct {
		name string
		save func() error
		want apperrors.ErrorType
	}{
		{"blocks not json", func() error { _, err := blocks.Save(ctx, "alice", []byte(`{`)); return err }, apperrors.ErrorTypeMalformed},
		{"blocks empty body", func() error { _, err := blocks.Save(ctx, "alice", nil); return err }, apperrors.ErrorTypeMalformed},
		{"blocks null", func() error { _, err := blocks.Save(ctx, "alice", []byte(`null`)); return err }, apperrors.ErrorTypeShape},
		{"blocks legacy", func() error {
			_, err := blocks.Save(ctx, "alice", []byte(`{"summaryChunks":[],"preconditions":"","steps":[],"additionalInfo":""}`))
			return err
		}, apperrors.ErrorTypeShape},
		{"formats missing formats", func() error {
			_, err := formats.Save(ctx, "alice", []byte(`{"activeFormat":"x"}`))
			return err
		}, apperrors.ErrorTypeShape},
		{"formats duplicate ids", func() error {
			_, err := formats.Save(ctx, "alice", []byte(`{"activeFormat":"x","formats":[{"id":"a","name":"","template":""},{"id":"a","name":"","template":""}]}`))
			return err
		}, apperrors.ErrorTypeShape},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.save()
			require.Error(t, err)
			assert.Equal(t, tc.want, apperrors.TypeOf(err))
		})
	}

	assert.Empty(t, bag.values, "nothing is written")
	assert.Empty(t, publisher.events)
}

func TestDocumentService_StorageFailures(t *testing.T) {
	ctx := context.Background()
	bag := newMemoryBag()
	svc := newBlocksService(bag)

	bag.setErr = errors.New("disk full")
	_, err := svc.Save(ctx, "alice", []byte(`{"summary":[],"preconditions":[],"steps":[]}`))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeError, apperrors.TypeOf(err))

	bag.setErr = nil
	bag.getErr = errors.New("io")
	_, err = svc.Get(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, "failed to load saved-blocks", apperrors.UserMessage(err))
}

func TestDocumentService_InvalidUserID(t *testing.T) {
	_, err := newBlocksService(newMemoryBag()).Get(context.Background(), "../x")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestDocumentService_FileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	bag, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	svc := newFormatsService(bag)

	body := `{"activeFormat":"jira","formats":[{"id":"jira","name":"Jira","template":"h1. {{summary}}"}]}`
	echo, err := svc.Save(ctx, "alice", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "jira", echo.ActiveFormat)

	got, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, echo, got)
}

func TestDocumentService_ConcurrentGets(t *testing.T) {
	ctx := context.Background()
	bag := newMemoryBag()
	svc := newBlocksService(bag)
	_, err := svc.Save(ctx, "alice", []byte(`{"summary":["x"],"preconditions":[],"steps":[]}`))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Get(ctx, "alice")
			assert.NoError(t, err)
			assert.Equal(t, []string{"x"}, got.Summary)
		}()
	}
	wg.Wait()
}

// gatedBag blocks reads until gate is closed and honors the caller's context.
type gatedBag struct {
	*memoryBag
	entered chan struct{}
	gate    chan struct{}
}

func (b *gatedBag) GetProperty(ctx context.Context, userID, key string) (string, bool, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.gate
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return b.memoryBag.GetProperty(ctx, userID, key)
}

func TestDocumentService_CancelledCallerDoesNotFailSharedRead(t *testing.T) {
	ctx := context.Background()
	bag := &gatedBag{memoryBag: newMemoryBag(), entered: make(chan struct{}, 1), gate: make(chan struct{})}
	require.NoError(t, bag.memoryBag.SetProperty(ctx, "alice", models.SavedBlocksKey,
		`{"summary":["x"],"preconditions":[],"steps":[]}`))
	svc := newBlocksService(bag)

	first, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Get(first, "alice")
		firstErr <- err
	}()
	<-bag.entered

	type result struct {
		doc models.SavedBlocks
		err error
	}
	second := make(chan result, 1)
	go func() {
		doc, err := svc.Get(ctx, "alice")
		second <- result{doc, err}
	}()
	// give the second caller time to join the read in flight
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(bag.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, []string{"x"}, res.doc.Summary)
}

func TestDocumentService_NonStringElementsRoundTrip(t *testing.T) {
	ctx := context.Background()
	bag := newMemoryBag()
	svc := newBlocksService(bag)
	body := `{"summary":[1,{"k":"v"},"text"],"preconditions":[null],"steps":[true,2.50]}`

	echo, err := svc.Save(ctx, "alice", []byte(body))
	require.NoError(t, err)

	raw, ok := bag.raw("alice", models.SavedBlocksKey)
	require.True(t, ok)
	assert.JSONEq(t, body, raw)

	out, err := json.Marshal(echo)
	require.NoError(t, err)
	assert.JSONEq(t, body, string(out))

	got, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	out, err = json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, body, string(out))
	assert.Equal(t, []string{"1", `{"k":"v"}`, "text"}, got.Summary)
}
