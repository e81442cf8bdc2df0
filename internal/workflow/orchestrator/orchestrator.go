// Package orchestrator drives one workflow session through its four
// phases: Input, Configure, Processing, Results. It owns the held form
// data exclusively; the presentation layer only ever sees value
// snapshots.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "valueprop-client/internal/common/errors"
	"valueprop-client/internal/common/logger"
	"valueprop-client/internal/common/metrics"
	"valueprop-client/internal/models"
	"valueprop-client/internal/workflow/classify"
	"valueprop-client/internal/workflow/client"
	"valueprop-client/internal/workflow/validate"
)

var (
	ErrInvalidTransition = errors.New("INVALID_STATE_TRANSITION")
	ErrNotProcessing     = errors.New("NO_EXECUTION_IN_FLIGHT")
)

type State int

const (
	StateInput State = iota
	StateConfigure
	StateProcessing
	StateResults
)

func (s State) String() string {
	switch s {
	case StateInput:
		return "input"
	case StateConfigure:
		return "configure"
	case StateProcessing:
		return "processing"
	case StateResults:
		return "results"
	}
	return "unknown"
}

// Snapshot is a value copy of the session for the presentation layer.
// Mutating it never affects the orchestrator or an in-flight call.
type Snapshot struct {
	State   State
	Input   models.RawInput
	Config  models.RunConfig
	Outcome *classify.Outcome

	// Defect is set when a completed execution produced a shape that
	// matched no terminal case. The session still lands in Results so
	// the failure is acknowledged, never silently dropped.
	Defect error
}

// RunRecorder persists settled runs. Optional; failures are logged and
// never affect the session.
type RunRecorder interface {
	RecordRun(ctx context.Context, in models.RawInput, cfg models.RunConfig, outcome *classify.Outcome) error
}

// Notifier announces settled runs. Optional, best-effort.
type Notifier interface {
	NotifyOutcome(ctx context.Context, cfg models.RunConfig, outcome *classify.Outcome) error
}

type Options struct {
	// MaxAttempts bounds one execution's transport tries, the first
	// attempt included. Zero means the default of 3.
	MaxAttempts int
	// BackoffInitial is the delay before the first retry; each further
	// retry doubles it. Zero means 500ms.
	BackoffInitial time.Duration

	Recorder RunRecorder
	Notifier Notifier
}

type Orchestrator struct {
	exec client.Executor
	log  logger.Logger
	opts Options

	mu      sync.Mutex
	state   State
	input   models.RawInput
	config  models.RunConfig
	outcome *classify.Outcome
	defect  error

	// runToken rises with every entry into Processing; completions
	// carrying an older token are discarded, compared by token and
	// never by content.
	runToken uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(exec client.Executor, log logger.Logger, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 500 * time.Millisecond
	}
	return &Orchestrator{
		exec:   exec,
		log:    log,
		opts:   opts,
		state:  StateInput,
		config: models.DefaultRunConfig(),
	}
}

// SubmitInput validates the candidate content and, on success, seeds
// the form and advances to Configure. A validation error leaves the
// session in Input.
func (o *Orchestrator) SubmitInput(content, source, customerID string, metadata map[string]string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateInput {
		return ErrInvalidTransition
	}
	in, err := validate.RawInput(content, source, customerID, metadata)
	if err != nil {
		return err
	}
	o.input = in
	o.state = StateConfigure
	return nil
}

// Configure re-validates and stores the execution parameters. Valid
// only while in Configure.
func (o *Orchestrator) Configure(cfg models.RunConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateConfigure {
		return ErrInvalidTransition
	}
	if err := validate.RunConfig(cfg); err != nil {
		return err
	}
	o.config = cfg
	return nil
}

// Back returns from Configure to Input, keeping the entered content so
// it can be edited and resubmitted.
func (o *Orchestrator) Back() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateConfigure {
		return ErrInvalidTransition
	}
	o.state = StateInput
	return nil
}

// Start freezes a snapshot of the held input and config and begins one
// execution against it. Later mutations of the session cannot affect
// the in-flight call.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateConfigure {
		return ErrInvalidTransition
	}
	o.begin(ctx, o.input.Clone(), o.config)
	return nil
}

// Retry re-runs the frozen input from Results, optionally with changed
// parameters ("retry with a different provider"). The new run
// supersedes anything stale.
func (o *Orchestrator) Retry(ctx context.Context, cfg *models.RunConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateResults {
		return ErrInvalidTransition
	}
	if cfg != nil {
		if err := validate.RunConfig(*cfg); err != nil {
			return err
		}
		o.config = *cfg
	}
	o.outcome = nil
	o.defect = nil
	o.begin(ctx, o.input.Clone(), o.config)
	return nil
}

// begin is called with the lock held.
func (o *Orchestrator) begin(ctx context.Context, in models.RawInput, cfg models.RunConfig) {
	o.runToken++
	token := o.runToken

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.state = StateProcessing

	metrics.RunsStarted.WithLabelValues(string(cfg.Provider)).Inc()
	o.log.Info("execution started", map[string]interface{}{
		"run_token": token,
		"provider":  string(cfg.Provider),
	})

	go o.execute(runCtx, token, in, cfg)
}

// Cancel abandons interest in the in-flight response and returns to
// Configure immediately. The remote pipeline may still run to
// completion server-side; its late response is discarded.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateProcessing {
		return ErrNotProcessing
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.state = StateConfigure
	close(o.done)
	o.log.Info("execution cancelled", map[string]interface{}{
		"run_token": o.runToken,
	})
	return nil
}

// Reset is the "create new" action from Results: the only transition
// that clears the held input, config and result.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateResults {
		return ErrInvalidTransition
	}
	o.input = models.RawInput{}
	o.config = models.DefaultRunConfig()
	o.outcome = nil
	o.defect = nil
	o.state = StateInput
	return nil
}

// Snapshot returns a value copy of the current session.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	return Snapshot{
		State:   o.state,
		Input:   o.input.Clone(),
		Config:  o.config,
		Outcome: o.outcome,
		Defect:  o.defect,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Wait blocks until the current execution settles or is cancelled, or
// until ctx expires. Valid only after Start or Retry.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if done == nil {
		return ErrNotProcessing
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute performs one run: up to MaxAttempts tries separated by
// exponential backoff, transport failures only. Server responses,
// success or failure, settle on the first try.
func (o *Orchestrator) execute(ctx context.Context, token uint64, in models.RawInput, cfg models.RunConfig) {
	started := time.Now()

	var result *models.WorkflowResult
	var callErr error

	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		result, callErr = o.exec.Execute(ctx, in, cfg)
		if callErr == nil || !apperrors.IsTransport(callErr) {
			break
		}
		if attempt == o.opts.MaxAttempts {
			break
		}

		metrics.TransportRetries.Inc()
		backoff := o.opts.BackoffInitial * time.Duration(1<<(attempt-1))
		o.log.Warn("transport failure, retrying", map[string]interface{}{
			"run_token": token,
			"attempt":   attempt,
			"backoff":   backoff.String(),
		})

		select {
		case <-ctx.Done():
			// Cancelled mid-backoff; the settle below is discarded.
			o.settle(token, in, cfg, nil, callErr, started)
			return
		case <-time.After(backoff):
		}
	}

	o.settle(token, in, cfg, result, callErr, started)
}

// settle records one execution outcome. Completions from a superseded
// or cancelled run are discarded without touching visible state.
func (o *Orchestrator) settle(token uint64, in models.RawInput, cfg models.RunConfig, result *models.WorkflowResult, callErr error, started time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if token != o.runToken || o.state != StateProcessing {
		metrics.RunsSuperseded.Inc()
		o.log.Debug("discarding stale completion", map[string]interface{}{
			"run_token": token,
			"current":   o.runToken,
			"state":     o.state.String(),
		})
		return
	}

	outcome, defect := classify.Classify(result, callErr)
	if defect != nil {
		o.log.Error("execution produced an unclassifiable shape", map[string]interface{}{
			"run_token": token,
			"error":     defect.Error(),
		})
	}

	o.outcome = outcome
	o.defect = defect
	o.state = StateResults
	o.cancel = nil
	close(o.done)

	elapsed := time.Since(started)
	kind := "defect"
	if outcome != nil {
		kind = outcome.Kind.String()
	}
	metrics.RunsSettled.WithLabelValues(string(cfg.Provider), kind).Inc()
	metrics.RunDuration.WithLabelValues(string(cfg.Provider)).Observe(elapsed.Seconds())
	o.log.Info("execution settled", map[string]interface{}{
		"run_token": token,
		"outcome":   kind,
		"elapsed":   elapsed.String(),
	})

	if outcome != nil {
		o.dispatchHooks(in, cfg, outcome)
	}
}

// dispatchHooks runs the optional recorder and notifier off the
// session's critical path. Their failures are logged, never surfaced.
func (o *Orchestrator) dispatchHooks(in models.RawInput, cfg models.RunConfig, outcome *classify.Outcome) {
	recorder, notifier := o.opts.Recorder, o.opts.Notifier
	if recorder == nil && notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if recorder != nil {
			if err := recorder.RecordRun(ctx, in, cfg, outcome); err != nil {
				o.log.Warn("run could not be recorded", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
		if notifier != nil {
			if err := notifier.NotifyOutcome(ctx, cfg, outcome); err != nil {
				o.log.Warn("outcome notification failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}()
}
