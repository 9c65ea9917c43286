package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/checkpoint"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/graph"
	"github.com/dukex/contentflow/pkg/lock"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/dukex/contentflow/pkg/mocks"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/file"
	"github.com/dukex/contentflow/pkg/state"
	"github.com/dukex/contentflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const owner = "user-1"

// approvalGraph proposes two concepts, waits for a valid selection and completes.
// hook, when set, runs in the await step once the selection is valid.
func approvalGraph(t *testing.T, hook func()) *graph.Definition {
	t.Helper()

	def, err := graph.NewBuilder("approval").
		Step("propose", func(_ context.Context, _ *models.WorkflowState) graph.StepResult {
			return graph.Continue(state.Update{
				Concepts: state.Some([]models.Concept{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}),
				Status:   state.Some(models.StatusProcessing),
			})
		}).
		Step("await", func(_ context.Context, s *models.WorkflowState) graph.StepResult {
			switch {
			case s.ConceptSelectionReady():
				if hook != nil {
					hook()
				}

				return graph.Continue(state.Update{})
			case s.SelectedConceptID != "":
				return graph.Continue(state.Update{SelectedConceptID: state.Some("")})
			default:
				return graph.Suspend("pick a concept")
			}
		}).
		Step("finish", func(_ context.Context, s *models.WorkflowState) graph.StepResult {
			if s.SelectedConceptID == "b" {
				var u state.Update
				u.Meta().QualityDecision = state.Some(models.QualityDecisionHumanReview)

				return graph.Continue(u)
			}

			return graph.Continue(state.Update{Status: state.Some(models.StatusCompleted)})
		}).
		Edge("propose", graph.Static("await")).
		Edge("await", graph.Conditional(func(s *models.WorkflowState) string {
			if s.ConceptSelectionReady() {
				return "ready"
			}

			return "wait"
		}, map[string]string{"ready": "finish", "wait": "await"})).
		Edge("finish", graph.Static(graph.END)).
		Entry("propose").
		Build()
	require.NoError(t, err)

	return def
}

type fixture struct {
	service *Thread
	store   *checkpoint.Store
	bus     *mocks.MockEventBus
}

func newFixture(t *testing.T, hook func()) *fixture {
	t.Helper()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	store := checkpoint.NewStore(file.NewPersistence(t.TempDir()).CheckpointRepository(), log.Discard())
	engine := graph.NewEngine(approvalGraph(t, hook), store, log.Discard(),
		graph.WithObserver(NewStepPublisher(bus, log.Discard())))

	return &fixture{
		service: NewThread(engine, store, lock.NewLocal(), bus, log.Discard()),
		store:   store,
		bus:     bus,
	}
}

func (f *fixture) start(t *testing.T) *Result {
	t.Helper()

	result, err := f.service.Start(t.Context(), testutil.CreateTestState(testutil.WithUser(owner)), Caller{UserID: owner})
	require.NoError(t, err)

	return result
}

// published returns the event types sent so far, step events excluded.
func (f *fixture) published() []events.EventType {
	var types []events.EventType

	for _, event := range f.bus.Published() {
		if event.GetType() == events.StepCompletedEvent {
			continue
		}

		types = append(types, event.GetType())
	}

	return types
}

func (f *fixture) stepEvents() []events.StepCompleted {
	var steps []events.StepCompleted

	for _, event := range f.bus.Published() {
		if e, ok := event.(events.StepCompleted); ok {
			steps = append(steps, e)
		}
	}

	return steps
}

func TestThread_StartSuspends(t *testing.T) {
	f := newFixture(t, nil)

	result := f.start(t)

	assert.NotEmpty(t, result.ThreadID)
	assert.Equal(t, models.ThreadStatusSuspended, result.Status)
	require.NotNil(t, result.Interrupt)
	assert.Equal(t, "await", result.Interrupt.Node)
	assert.Equal(t, "pick a concept", result.Interrupt.Payload)
	assert.Equal(t, result.ThreadID, result.State.ThreadID)
	assert.Equal(t, owner, result.State.UserID)

	thread, err := f.store.GetThread(t.Context(), result.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadStatusSuspended, thread.Status)
	assert.Equal(t, "await", thread.Metadata[MetaNode])
	assert.Equal(t, result.CheckpointID, thread.LastCheckpointID)

	assert.Equal(t, []events.EventType{events.ThreadStartedEvent, events.ThreadSuspendedEvent}, f.published())

	steps := f.stepEvents()
	require.Len(t, steps, 1)
	assert.Equal(t, "propose", steps[0].Node)
	assert.Equal(t, "await", steps[0].Next)
	assert.Equal(t, owner, steps[0].UserID)

	f.bus.AssertCalled(t, "Publish", mock.Anything, result.ThreadID, mock.Anything)
}

func TestThread_ResumeCompletes(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)

	result, err := f.service.Resume(t.Context(), started.ThreadID, Caller{UserID: owner}, &state.Update{SelectedConceptID: state.Some("a")})
	require.NoError(t, err)

	assert.Equal(t, models.ThreadStatusCompleted, result.Status)
	assert.Nil(t, result.Interrupt)
	assert.Equal(t, models.StatusCompleted, result.State.Status)

	assert.Equal(t, []events.EventType{
		events.ThreadStartedEvent,
		events.ThreadSuspendedEvent,
		events.ThreadResumedEvent,
		events.ThreadCompletedEvent,
	}, f.published())

	again, err := f.service.Resume(t.Context(), started.ThreadID, Caller{UserID: owner}, nil)
	require.NoError(t, err)
	assert.Equal(t, result.CheckpointID, again.CheckpointID, "a finished thread does not run again")
	assert.Len(t, f.published(), 4)
}

func TestThread_ResumeEscalatesToHumanReview(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)

	result, err := f.service.Resume(t.Context(), started.ThreadID, Caller{UserID: owner}, &state.Update{SelectedConceptID: state.Some("b")})
	require.NoError(t, err)

	assert.Equal(t, models.ThreadStatusHumanReview, result.Status)
	assert.Contains(t, f.published(), events.ThreadHumanReviewEvent)
}

func TestThread_StaleSelectionSuspendsAgain(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)

	result, err := f.service.Resume(t.Context(), started.ThreadID, Caller{UserID: owner}, &state.Update{SelectedConceptID: state.Some("z")})
	require.NoError(t, err)

	assert.Equal(t, models.ThreadStatusSuspended, result.Status)
	assert.Empty(t, result.State.SelectedConceptID)
	assert.Empty(t, result.State.Errors)
}

func TestThread_HiddenFromOtherUsers(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)
	stranger := Caller{UserID: "user-2"}

	_, err := f.service.GetState(t.Context(), started.ThreadID, stranger)
	require.ErrorIs(t, err, ErrThreadNotFound)
	assert.True(t, IsNotFoundError(err))

	_, err = f.service.Resume(t.Context(), started.ThreadID, stranger, nil)
	require.ErrorIs(t, err, ErrThreadNotFound)

	_, err = f.service.History(t.Context(), started.ThreadID, stranger)
	require.ErrorIs(t, err, ErrThreadNotFound)

	err = f.service.Cancel(t.Context(), started.ThreadID, stranger, "")
	require.ErrorIs(t, err, ErrThreadNotFound)

	_, err = f.service.Start(t.Context(), testutil.CreateTestState(testutil.WithUser("user-2")), Caller{UserID: "user-2", ThreadID: started.ThreadID})
	require.ErrorIs(t, err, ErrThreadNotFound)

	_, err = f.service.GetState(t.Context(), "missing", Caller{UserID: owner})
	require.ErrorIs(t, err, ErrThreadNotFound)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "THREAD_NOT_FOUND", svcErr.Code)
}

func TestThread_StartValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		state  *models.WorkflowState
		caller Caller
	}{
		{name: "nil state", state: nil, caller: Caller{UserID: owner}},
		{name: "missing caller", state: testutil.CreateTestState(), caller: Caller{}},
		{name: "state owned by someone else", state: testutil.CreateTestState(testutil.WithUser("user-2")), caller: Caller{UserID: owner}},
		{name: "missing topic", state: models.NewWorkflowState("", owner), caller: Caller{UserID: owner}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Start(t.Context(), tt.state, tt.caller)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}

	f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestThread_ResumeRejectsIdentityChange(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)

	_, err := f.service.Resume(t.Context(), started.ThreadID, Caller{UserID: owner}, &state.Update{UserID: state.Some("user-2")})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.service.UpdateState(t.Context(), started.ThreadID, Caller{UserID: owner}, state.Update{ThreadID: state.Some("other")})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestThread_UpdateStateThenResume(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)
	caller := Caller{UserID: owner}

	_, err := f.service.UpdateState(t.Context(), started.ThreadID, caller, state.Update{})
	require.ErrorIs(t, err, ErrInvalidRequest)

	updated, err := f.service.UpdateState(t.Context(), started.ThreadID, caller, state.Update{SelectedConceptID: state.Some("a")})
	require.NoError(t, err)
	assert.Equal(t, "a", updated.State.SelectedConceptID)
	assert.Equal(t, models.ThreadStatusSuspended, updated.Status)

	history, err := f.service.History(t.Context(), started.ThreadID, caller)
	require.NoError(t, err)
	assert.Equal(t, models.CheckpointSourceUpdate, history[0].Metadata.Source)
	assert.Nil(t, history[0].Metadata.Step)
	assert.Equal(t, "await", history[0].Metadata.Next)

	current, err := f.service.GetState(t.Context(), started.ThreadID, caller)
	require.NoError(t, err)
	assert.Equal(t, "a", current.SelectedConceptID)

	result, err := f.service.Resume(t.Context(), started.ThreadID, caller, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadStatusCompleted, result.Status)

	assert.Contains(t, f.published(), events.ThreadUpdatedEvent)
}

func TestThread_Cancel(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)
	caller := Caller{UserID: owner}

	require.NoError(t, f.service.Cancel(t.Context(), started.ThreadID, caller, "topic dropped"))
	require.NoError(t, f.service.Cancel(t.Context(), started.ThreadID, caller, "again"))

	thread, err := f.store.GetThread(t.Context(), started.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadStatusCancelled, thread.Status)
	assert.Equal(t, "topic dropped", thread.Metadata[MetaReason])

	_, err = f.service.Resume(t.Context(), started.ThreadID, caller, &state.Update{SelectedConceptID: state.Some("a")})
	require.ErrorIs(t, err, ErrThreadCancelled)
	assert.True(t, IsConflictError(err))

	_, err = f.service.UpdateState(t.Context(), started.ThreadID, caller, state.Update{SelectedConceptID: state.Some("a")})
	require.ErrorIs(t, err, ErrThreadCancelled)

	_, err = f.service.Start(t.Context(), testutil.CreateTestState(testutil.WithUser(owner)), Caller{UserID: owner, ThreadID: started.ThreadID})
	require.ErrorIs(t, err, ErrThreadCancelled)

	var cancelled int
	for _, et := range f.published() {
		if et == events.ThreadCancelledEvent {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

// hookLocker runs before once, just ahead of taking the lock.
type hookLocker struct {
	lock.Locker

	once   sync.Once
	before func()
}

func (h *hookLocker) TryLock(ctx context.Context, threadID string) (func(), error) {
	h.once.Do(h.before)

	return h.Locker.TryLock(ctx, threadID)
}

func TestThread_CancelBeforeLockStopsResume(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)
	caller := Caller{UserID: owner}

	var cancelErr error

	f.service.locker = &hookLocker{
		Locker: lock.NewLocal(),
		before: func() {
			cancelErr = f.service.Cancel(context.Background(), started.ThreadID, caller, "changed plans")
		},
	}

	_, err := f.service.Resume(t.Context(), started.ThreadID, caller, &state.Update{SelectedConceptID: state.Some("a")})
	require.NoError(t, cancelErr)
	require.ErrorIs(t, err, ErrThreadCancelled)

	thread, err := f.store.GetThread(t.Context(), started.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadStatusCancelled, thread.Status)
	assert.NotContains(t, f.published(), events.ThreadCompletedEvent)
}

func TestThread_CancelWhileRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	f := newFixture(t, func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	started := f.start(t)
	caller := Caller{UserID: owner}

	var (
		result    *Result
		resumeErr error
		done      = make(chan struct{})
	)

	go func() {
		defer close(done)

		result, resumeErr = f.service.Resume(context.Background(), started.ThreadID, caller, &state.Update{SelectedConceptID: state.Some("a")})
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("resume never reached the approval step")
	}

	require.NoError(t, f.service.Cancel(t.Context(), started.ThreadID, caller, "stop"))

	close(release)
	<-done

	require.NoError(t, resumeErr)
	assert.Equal(t, models.ThreadStatusCancelled, result.Status)

	thread, err := f.store.GetThread(t.Context(), started.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadStatusCancelled, thread.Status)
	assert.Equal(t, "stop", thread.Metadata[MetaReason])

	assert.Contains(t, f.published(), events.ThreadCancelledEvent)
	assert.NotContains(t, f.published(), events.ThreadCompletedEvent)
}

func TestThread_Delete(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)

	err := f.service.Delete(t.Context(), started.ThreadID, Caller{UserID: "intruder"})
	require.ErrorIs(t, err, ErrThreadNotFound)

	require.NoError(t, f.service.Delete(t.Context(), started.ThreadID, Caller{UserID: owner}))

	_, err = f.service.GetState(t.Context(), started.ThreadID, Caller{UserID: owner})
	require.ErrorIs(t, err, ErrThreadNotFound)
	assert.True(t, IsNotFoundError(err))
}

func TestThread_CancelFinishedThread(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)
	caller := Caller{UserID: owner}

	_, err := f.service.Resume(t.Context(), started.ThreadID, caller, &state.Update{SelectedConceptID: state.Some("a")})
	require.NoError(t, err)

	err = f.service.Cancel(t.Context(), started.ThreadID, caller, "")
	assert.ErrorIs(t, err, ErrThreadFinished)
}

func TestThread_ConcurrentResumeIsBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	f := newFixture(t, func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	started := f.start(t)
	caller := Caller{UserID: owner}

	var (
		first    *Result
		firstErr error
		done     = make(chan struct{})
	)

	go func() {
		defer close(done)

		first, firstErr = f.service.Resume(context.Background(), started.ThreadID, caller, &state.Update{SelectedConceptID: state.Some("a")})
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first resume never reached the approval step")
	}

	_, err := f.service.Resume(t.Context(), started.ThreadID, caller, &state.Update{SelectedConceptID: state.Some("b")})
	require.ErrorIs(t, err, ErrThreadBusy)
	assert.True(t, IsConflictError(err))

	close(release)
	<-done

	require.NoError(t, firstErr)
	assert.Equal(t, models.ThreadStatusCompleted, first.Status)
}

// sameHeadLocker never blocks, leaving exclusion to the store.
type sameHeadLocker struct{}

func (sameHeadLocker) TryLock(context.Context, string) (func(), error) {
	return func() {}, nil
}

func TestThread_ConcurrentResumeWithoutLockIsStale(t *testing.T) {
	var barrier sync.WaitGroup

	barrier.Add(2)

	store := checkpoint.NewStore(file.NewPersistence(t.TempDir()).CheckpointRepository(), log.Discard())
	service := NewThread(graph.NewEngine(approvalGraph(t, func() {
		barrier.Done()
		barrier.Wait()
	}), store, log.Discard()), store, sameHeadLocker{}, nil, log.Discard())

	started, err := service.Start(t.Context(), testutil.CreateTestState(testutil.WithUser(owner)), Caller{UserID: owner})
	require.NoError(t, err)

	_, err = service.UpdateState(t.Context(), started.ThreadID, Caller{UserID: owner}, state.Update{SelectedConceptID: state.Some("a")})
	require.NoError(t, err)

	errs := make([]error, 2)

	var done sync.WaitGroup

	for i := range 2 {
		done.Add(1)

		go func() {
			defer done.Done()

			_, errs[i] = service.Resume(context.Background(), started.ThreadID, Caller{UserID: owner}, nil)
		}()
	}

	done.Wait()

	stale := 0

	for _, err := range errs {
		if err == nil {
			continue
		}

		require.ErrorIs(t, err, persistence.ErrStaleCheckpoint)
		assert.True(t, IsConflictError(err))

		stale++
	}

	assert.Equal(t, 1, stale, "exactly one resume loses the compare-and-swap: %v", errs)
}

func TestThread_StartOnExistingThreadBuildsOnHead(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)

	again, err := f.service.Start(t.Context(), testutil.CreateTestState(testutil.WithUser(owner)), Caller{UserID: owner, ThreadID: started.ThreadID})
	require.NoError(t, err)
	assert.Equal(t, started.ThreadID, again.ThreadID)
	assert.Equal(t, models.ThreadStatusSuspended, again.Status)

	history, err := f.service.History(t.Context(), started.ThreadID, Caller{UserID: owner})
	require.NoError(t, err)
	require.Len(t, history, 4)

	input := history[1]
	assert.Equal(t, models.CheckpointSourceInput, input.Metadata.Source)
	assert.Equal(t, started.CheckpointID, input.ParentCheckpointID)
}

func TestThread_PersistenceFailureIsPropagated(t *testing.T) {
	repo := &mocks.MockCheckpointRepository{}
	repo.On("GetThread", mock.Anything, "thread-1").Return(nil, assert.AnError)

	store := checkpoint.NewStore(repo, log.Discard())
	service := NewThread(graph.NewEngine(approvalGraph(t, nil), store, log.Discard()), store, lock.NewLocal(), nil, log.Discard())

	_, err := service.GetState(t.Context(), "thread-1", Caller{UserID: owner})
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, IsNotFoundError(err))

	repo.AssertExpectations(t)
}
