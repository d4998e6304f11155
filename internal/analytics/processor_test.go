package analytics

import (
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/repository"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRecorder is a mock implementation of Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordClick(ctx context.Context, event *domain.ClickEvent, window time.Duration) (*repository.RecordResult, error) {
	args := m.Called(ctx, event, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.RecordResult), args.Error(1)
}

func testConfig() ProcessorConfig {
	return ProcessorConfig{
		WorkerCount:     2,
		BufferSize:      16,
		RetryAttempts:   3,
		RetryDelay:      time.Millisecond,
		AttemptTimeout:  time.Second,
		ShutdownTimeout: 5 * time.Second,
		DedupWindow:     24 * time.Hour,
	}
}

func event(id string) *domain.ClickEvent {
	return &domain.ClickEvent{EventID: id, LinkID: 1, VisitorID: "v", ClickedAt: time.Now().UTC()}
}

func TestProcessor_RecordsSubmittedClicks(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("RecordClick", mock.Anything, mock.Anything, 24*time.Hour).
		Return(&repository.RecordResult{Unique: true}, nil)

	p := NewProcessor(recorder, zap.NewNop(), testConfig())
	require.NoError(t, p.Start())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(event(fmt.Sprintf("e%d", i))))
	}
	require.NoError(t, p.Stop())

	stats := p.GetStats()
	assert.EqualValues(t, 5, stats.Submitted)
	assert.EqualValues(t, 5, stats.Processed)
	assert.EqualValues(t, 5, stats.Unique)
	assert.EqualValues(t, 0, stats.Dropped)
	assert.False(t, stats.Started)
	recorder.AssertNumberOfCalls(t, "RecordClick", 5)
}

func TestProcessor_RetriesThenSucceeds(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("RecordClick", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Once()
	recorder.On("RecordClick", mock.Anything, mock.Anything, mock.Anything).
		Return(&repository.RecordResult{}, nil).Once()

	p := NewProcessor(recorder, zap.NewNop(), testConfig())
	require.NoError(t, p.Start())
	require.NoError(t, p.Submit(event("e1")))
	require.NoError(t, p.Stop())

	stats := p.GetStats()
	assert.EqualValues(t, 1, stats.Processed)
	assert.EqualValues(t, 1, stats.Retried)
	assert.EqualValues(t, 0, stats.Dropped)
	recorder.AssertExpectations(t)
}

func TestProcessor_DropsAfterBoundedRetries(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("RecordClick", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("database unavailable"))

	cfg := testConfig()
	cfg.WorkerCount = 1
	p := NewProcessor(recorder, zap.NewNop(), cfg)
	require.NoError(t, p.Start())
	require.NoError(t, p.Submit(event("e1")))
	require.NoError(t, p.Stop())

	recorder.AssertNumberOfCalls(t, "RecordClick", cfg.RetryAttempts)
	stats := p.GetStats()
	assert.EqualValues(t, 1, stats.Dropped)
	assert.EqualValues(t, 0, stats.Processed)

	select {
	case err := <-p.Errors():
		assert.ErrorIs(t, err, ErrRecordingFailure)
		assert.Contains(t, err.Error(), "e1")
	default:
		t.Fatal("expected a recording failure report")
	}
}

func TestProcessor_MissingLinkIsNotRetried(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("RecordClick", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, repository.ErrNotFound)

	p := NewProcessor(recorder, zap.NewNop(), testConfig())
	require.NoError(t, p.Start())
	require.NoError(t, p.Submit(event("e1")))
	require.NoError(t, p.Stop())

	recorder.AssertNumberOfCalls(t, "RecordClick", 1)
	assert.EqualValues(t, 1, p.GetStats().Dropped)
}

func TestProcessor_CountsReplays(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("RecordClick", mock.Anything, mock.Anything, mock.Anything).
		Return(&repository.RecordResult{Duplicate: true}, nil)

	p := NewProcessor(recorder, zap.NewNop(), testConfig())
	require.NoError(t, p.Start())
	require.NoError(t, p.Submit(event("e1")))
	require.NoError(t, p.Stop())

	assert.EqualValues(t, 1, p.GetStats().Duplicates)
}

// gatedRecorder blocks every call until release is closed.
type gatedRecorder struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   int
}

func (g *gatedRecorder) RecordClick(ctx context.Context, _ *domain.ClickEvent, _ time.Duration) (*repository.RecordResult, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return &repository.RecordResult{}, ctx.Err()
}

func TestProcessor_QueueFull(t *testing.T) {
	recorder := &gatedRecorder{entered: make(chan struct{}), release: make(chan struct{})}

	cfg := testConfig()
	cfg.WorkerCount = 1
	cfg.BufferSize = 1
	p := NewProcessor(recorder, zap.NewNop(), cfg)
	require.NoError(t, p.Start())

	require.NoError(t, p.Submit(event("e1")))
	<-recorder.entered // worker holds e1

	require.NoError(t, p.Submit(event("e2")))
	assert.ErrorIs(t, p.Submit(event("e3")), ErrQueueFull)

	close(recorder.release)
	require.NoError(t, p.Stop())

	stats := p.GetStats()
	assert.EqualValues(t, 2, stats.Processed)
	assert.EqualValues(t, 1, stats.Rejected)
}

func TestProcessor_Lifecycle(t *testing.T) {
	recorder := new(MockRecorder)
	p := NewProcessor(recorder, zap.NewNop(), testConfig())

	assert.ErrorIs(t, p.Submit(event("early")), ErrNotStarted)
	assert.ErrorIs(t, p.Stop(), ErrNotStarted)

	require.NoError(t, p.Start())
	assert.Error(t, p.Start())
	require.NoError(t, p.Stop())

	assert.ErrorIs(t, p.Submit(event("late")), ErrNotStarted)
	assert.Error(t, p.Start(), "a stopped processor stays stopped")
	recorder.AssertNotCalled(t, "RecordClick", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_AttemptSurvivesCallerCancellation(t *testing.T) {
	var seen context.Context
	recorder := new(MockRecorder)
	recorder.On("RecordClick", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { seen = args.Get(0).(context.Context) }).
		Return(&repository.RecordResult{}, nil)

	p := NewProcessor(recorder, zap.NewNop(), testConfig())
	p.cancel()

	_, err := p.attempt(event("e1"))
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.NoError(t, seen.Err())
	_, hasDeadline := seen.Deadline()
	assert.True(t, hasDeadline)
}
