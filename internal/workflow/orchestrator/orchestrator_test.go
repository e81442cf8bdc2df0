package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "valueprop-client/internal/common/errors"
	"valueprop-client/internal/common/logger"
	"valueprop-client/internal/models"
	"valueprop-client/internal/workflow/classify"
)

// scriptedExecutor returns canned responses in call order. A nil gate
// makes calls return immediately; otherwise each call blocks until the
// gate is closed.
type scriptedExecutor struct {
	mu       sync.Mutex
	calls    int
	lastIn   models.RawInput
	lastCfg  models.RunConfig
	results  []*models.WorkflowResult
	errs     []error
	gate     chan struct{}
	returned chan struct{}
}

func (s *scriptedExecutor) Execute(ctx context.Context, in models.RawInput, cfg models.RunConfig) (*models.WorkflowResult, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.lastIn = in
	s.lastCfg = cfg
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	defer func() {
		if s.returned != nil {
			s.returned <- struct{}{}
		}
	}()

	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	if err != nil {
		return nil, err
	}
	var result *models.WorkflowResult
	if idx < len(s.results) {
		result = s.results[idx]
	} else if len(s.results) > 0 {
		result = s.results[len(s.results)-1]
	}
	return result, nil
}

func (s *scriptedExecutor) ExecuteParallel(ctx context.Context, in models.RawInput, providers []models.Provider) (*models.ParallelResult, error) {
	panic("not used")
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func approved(runID string) *models.WorkflowResult {
	return &models.WorkflowResult{
		RunID:     runID,
		Success:   true,
		SelfCheck: &models.SelfCheck{Approved: true},
	}
}

func newSession(t *testing.T, exec *scriptedExecutor, opts Options) *Orchestrator {
	t.Helper()
	if opts.BackoffInitial == 0 {
		opts.BackoffInitial = time.Millisecond
	}
	return New(exec, logger.NewTestLogger(t), opts)
}

func advanceToConfigure(t *testing.T, o *Orchestrator) {
	t.Helper()
	err := o.SubmitInput("Customer wants to automate data entry", "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, StateConfigure, o.State())
}

func TestHappyPath(t *testing.T) {
	exec := &scriptedExecutor{results: []*models.WorkflowResult{approved("run-1")}}
	o := newSession(t, exec, Options{})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Configure(models.RunConfig{Provider: models.ProviderOpenAI, Temperature: 0.5}))
	assert.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Wait(context.Background()))

	snap := o.Snapshot()
	assert.Equal(t, StateResults, snap.State)
	if assert.NotNil(t, snap.Outcome) {
		assert.Equal(t, classify.KindApproved, snap.Outcome.Kind)
		assert.Equal(t, "run-1", snap.Outcome.Result.RunID)
	}
	assert.Equal(t, models.ProviderOpenAI, exec.lastCfg.Provider)
	assert.Equal(t, 1, exec.callCount())
}

func TestTransitionGuards(t *testing.T) {
	o := newSession(t, &scriptedExecutor{}, Options{})

	// Everything but SubmitInput is rejected in Input.
	assert.ErrorIs(t, o.Configure(models.DefaultRunConfig()), ErrInvalidTransition)
	assert.ErrorIs(t, o.Start(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, o.Back(), ErrInvalidTransition)
	assert.ErrorIs(t, o.Reset(), ErrInvalidTransition)
	assert.ErrorIs(t, o.Cancel(), ErrNotProcessing)
	assert.ErrorIs(t, o.Wait(context.Background()), ErrNotProcessing)

	advanceToConfigure(t, o)
	assert.ErrorIs(t, o.SubmitInput("more perfectly valid content", "", "", nil), ErrInvalidTransition)

	// Back is the only backward transition out of Configure, and the
	// entered content survives it.
	assert.NoError(t, o.Back())
	assert.Equal(t, StateInput, o.State())
	assert.Equal(t, "Customer wants to automate data entry", o.Snapshot().Input.Content)
}

func TestSubmitInputValidationStaysInInput(t *testing.T) {
	o := newSession(t, &scriptedExecutor{}, Options{})

	err := o.SubmitInput("short", "", "", nil)
	ve, ok := apperrors.AsValidation(err)
	assert.True(t, ok)
	assert.Equal(t, apperrors.CodeContentTooShort, ve.Code)
	assert.Equal(t, StateInput, o.State())
}

func TestConfigureValidationRejected(t *testing.T) {
	o := newSession(t, &scriptedExecutor{}, Options{})
	advanceToConfigure(t, o)

	err := o.Configure(models.RunConfig{Provider: "mistral", Temperature: 0.7})
	_, ok := apperrors.AsValidation(err)
	assert.True(t, ok)
}

func TestRetryBoundExactlyThreeAttempts(t *testing.T) {
	transport := &apperrors.TransportError{Err: errors.New("connection refused")}
	exec := &scriptedExecutor{errs: []error{transport, transport, transport, transport}}
	o := newSession(t, exec, Options{MaxAttempts: 3})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Wait(context.Background()))

	// Three total tries, then a terminal failure. Never a fourth.
	assert.Equal(t, 3, exec.callCount())
	snap := o.Snapshot()
	assert.Equal(t, StateResults, snap.State)
	if assert.NotNil(t, snap.Outcome) {
		assert.Equal(t, classify.KindNetworkError, snap.Outcome.Kind)
	}
}

func TestServerErrorNotRetried(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{&apperrors.HTTPError{Status: 422, Message: "content too vague"}}}
	o := newSession(t, exec, Options{MaxAttempts: 3})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Wait(context.Background()))

	assert.Equal(t, 1, exec.callCount())
	snap := o.Snapshot()
	if assert.NotNil(t, snap.Outcome) {
		assert.Equal(t, classify.KindProviderError, snap.Outcome.Kind)
		assert.Equal(t, "content too vague", snap.Outcome.Message)
	}
}

func TestDomainRejectionNotRetried(t *testing.T) {
	reason := "Overall accuracy too low (0.65 < 0.7 threshold)"
	exec := &scriptedExecutor{results: []*models.WorkflowResult{{
		RunID:     "run-1",
		Success:   false,
		SelfCheck: &models.SelfCheck{Approved: false, RejectionReason: &reason},
	}}}
	o := newSession(t, exec, Options{MaxAttempts: 3})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Wait(context.Background()))

	assert.Equal(t, 1, exec.callCount())
	snap := o.Snapshot()
	if assert.NotNil(t, snap.Outcome) {
		assert.Equal(t, classify.KindRejected, snap.Outcome.Kind)
		assert.Equal(t, reason, snap.Outcome.Message)
	}
}

func TestCancelIgnoresLateResponse(t *testing.T) {
	gate := make(chan struct{})
	returned := make(chan struct{}, 1)
	exec := &scriptedExecutor{
		results:  []*models.WorkflowResult{approved("run-late")},
		gate:     gate,
		returned: returned,
	}
	o := newSession(t, exec, Options{})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Start(context.Background()))
	assert.Equal(t, StateProcessing, o.State())

	// Cancel moves back to Configure without waiting on the response.
	assert.NoError(t, o.Cancel())
	assert.Equal(t, StateConfigure, o.State())

	// The response arrives afterwards and is discarded.
	close(gate)
	<-returned
	time.Sleep(20 * time.Millisecond)

	snap := o.Snapshot()
	assert.Equal(t, StateConfigure, snap.State)
	assert.Nil(t, snap.Outcome)
}

func TestSupersededRunCannotAffectState(t *testing.T) {
	gateA := make(chan struct{})
	returned := make(chan struct{}, 2)
	execA := &scriptedExecutor{
		results:  []*models.WorkflowResult{approved("run-a")},
		gate:     gateA,
		returned: returned,
	}
	o := newSession(t, execA, Options{})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Start(context.Background()))
	// Wait until A's call is in flight (blocked on gateA) before
	// cancelling, so B's call below gets the second scripted result.
	for execA.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	assert.NoError(t, o.Cancel())

	// Start execution B while A is still pending server-side.
	execA.mu.Lock()
	execA.results = []*models.WorkflowResult{approved("run-a"), approved("run-b")}
	execA.gate = nil
	execA.mu.Unlock()

	assert.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Wait(context.Background()))

	snapBefore := o.Snapshot()
	assert.Equal(t, StateResults, snapBefore.State)
	assert.Equal(t, "run-b", snapBefore.Outcome.Result.RunID)

	// A's response finally arrives; visible state must be unaffected.
	close(gateA)
	<-returned
	time.Sleep(20 * time.Millisecond)

	snapAfter := o.Snapshot()
	assert.Equal(t, StateResults, snapAfter.State)
	assert.Equal(t, "run-b", snapAfter.Outcome.Result.RunID)
}

func TestInFlightSnapshotIsFrozen(t *testing.T) {
	gate := make(chan struct{})
	returned := make(chan struct{}, 1)
	exec := &scriptedExecutor{
		results:  []*models.WorkflowResult{approved("run-1")},
		gate:     gate,
		returned: returned,
	}
	o := newSession(t, exec, Options{})

	meta := map[string]string{"channel": "email"}
	assert.NoError(t, o.SubmitInput("Customer wants to automate data entry", "", "", meta))
	assert.NoError(t, o.Start(context.Background()))

	// Mutating the caller's map after starting must not reach the call.
	meta["channel"] = "mutated"

	close(gate)
	<-returned
	assert.NoError(t, o.Wait(context.Background()))
	assert.Equal(t, "email", exec.lastIn.Metadata["channel"])
}

func TestRetryWithDifferentProvider(t *testing.T) {
	errMsg := "Provider error: OpenAI API rate limit exceeded. Please retry in 60 seconds."
	exec := &scriptedExecutor{results: []*models.WorkflowResult{
		{RunID: "run-1", Success: false, Error: &errMsg},
		approved("run-2"),
	}}
	o := newSession(t, exec, Options{})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Configure(models.RunConfig{Provider: models.ProviderOpenAI, Temperature: 0.7}))
	assert.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Wait(context.Background()))
	assert.Equal(t, classify.KindProviderError, o.Snapshot().Outcome.Kind)

	cfg := models.RunConfig{Provider: models.ProviderAnthropic, Temperature: 0.7}
	assert.NoError(t, o.Retry(context.Background(), &cfg))
	assert.NoError(t, o.Wait(context.Background()))

	snap := o.Snapshot()
	assert.Equal(t, classify.KindApproved, snap.Outcome.Kind)
	assert.Equal(t, "run-2", snap.Outcome.Result.RunID)
	assert.Equal(t, models.ProviderAnthropic, exec.lastCfg.Provider)
}

func TestResetClearsEverything(t *testing.T) {
	exec := &scriptedExecutor{results: []*models.WorkflowResult{approved("run-1")}}
	o := newSession(t, exec, Options{})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Configure(models.RunConfig{Provider: models.ProviderAnthropic, Temperature: 1.2}))
	assert.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Wait(context.Background()))

	assert.NoError(t, o.Reset())

	snap := o.Snapshot()
	assert.Equal(t, StateInput, snap.State)
	assert.Empty(t, snap.Input.Content)
	assert.Equal(t, models.DefaultRunConfig(), snap.Config)
	assert.Nil(t, snap.Outcome)
}

func TestUnclassifiableOutcomeStillReachesResults(t *testing.T) {
	exec := &scriptedExecutor{results: []*models.WorkflowResult{{RunID: "run-1", Success: false}}}
	o := newSession(t, exec, Options{})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Wait(context.Background()))

	snap := o.Snapshot()
	assert.Equal(t, StateResults, snap.State)
	assert.Nil(t, snap.Outcome)
	assert.ErrorIs(t, snap.Defect, classify.ErrUnclassifiable)
}

type captureRecorder struct {
	got chan *classify.Outcome
}

func (c *captureRecorder) RecordRun(ctx context.Context, in models.RawInput, cfg models.RunConfig, outcome *classify.Outcome) error {
	c.got <- outcome
	return nil
}

type captureNotifier struct {
	got chan *classify.Outcome
}

func (c *captureNotifier) NotifyOutcome(ctx context.Context, cfg models.RunConfig, outcome *classify.Outcome) error {
	c.got <- outcome
	return nil
}

func TestHooksReceiveSettledOutcome(t *testing.T) {
	rec := &captureRecorder{got: make(chan *classify.Outcome, 1)}
	not := &captureNotifier{got: make(chan *classify.Outcome, 1)}
	exec := &scriptedExecutor{results: []*models.WorkflowResult{approved("run-1")}}
	o := newSession(t, exec, Options{Recorder: rec, Notifier: not})

	advanceToConfigure(t, o)
	assert.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Wait(context.Background()))

	select {
	case outcome := <-rec.got:
		assert.Equal(t, classify.KindApproved, outcome.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder was never invoked")
	}
	select {
	case outcome := <-not.got:
		assert.Equal(t, classify.KindApproved, outcome.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was never invoked")
	}
}
