package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/converge/pkg/build"
	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/provider"
	"github.com/openfroyo/converge/pkg/telemetry"
	"github.com/openfroyo/converge/pkg/waiter"
)

// Operation names a reconciler run.
type Operation string

const (
	OperationDeploy  Operation = "deploy"
	OperationDestroy Operation = "destroy"
)

// Run status values.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// RunRecord describes a run when it starts.
type RunRecord struct {
	ID           string    `json:"id"`
	Operation    Operation `json:"operation"`
	DeploymentID string    `json:"deployment_id"`
	ServiceName  string    `json:"service_name"`
	Region       string    `json:"region"`
	StartedAt    time.Time `json:"started_at"`
}

// StepResult is the outcome of one descriptor during a run.
type StepResult struct {
	Index    int           `json:"index"`
	Kind     Kind          `json:"kind"`
	Label    string        `json:"label"`
	Name     string        `json:"name"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`

	Err error `json:"-"`
}

// Report summarizes a deploy or destroy run.
type Report struct {
	RunID     string        `json:"run_id"`
	Operation Operation     `json:"operation"`
	Steps     []StepResult  `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"`
}

// Count returns the number of steps with the given outcome.
func (r *Report) Count(outcome Outcome) int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == outcome {
			n++
		}
	}
	return n
}

// Journal records run history. It is written during a run and never read
// by the reconciler. Journal failures are logged and do not fail the run.
type Journal interface {
	StartRun(ctx context.Context, run RunRecord) error
	RecordStep(ctx context.Context, runID string, step StepResult) error
	FinishRun(ctx context.Context, runID, status string, finishedAt time.Time, runErr error) error
}

// Entry is one row of Show or Status.
type Entry struct {
	Kind  Kind   `json:"kind"`
	Label string `json:"label"`
	Name  string `json:"name"`

	// Exists is set by Status only.
	Exists *bool `json:"exists,omitempty"`
}

// Options configures a Reconciler.
type Options struct {
	Client    *provider.Client
	Builder   build.Builder
	Wait      waiter.Options
	Guard     RolePolicyGuard
	Telemetry *telemetry.Telemetry
	Journal   Journal
}

// Reconciler converges the resource sequence of one deployment.
type Reconciler struct {
	cfg  *config.DeploymentConfig
	seq  []Descriptor
	opts Options
	log  *telemetry.Logger
}

// NewReconciler validates the sequence derived from cfg and returns a
// reconciler bound to the given client.
func NewReconciler(cfg *config.DeploymentConfig, opts Options) (*Reconciler, error) {
	if cfg == nil {
		return nil, NewValidationError("deployment configuration is nil")
	}
	if opts.Client == nil {
		return nil, NewValidationError("provider client is nil")
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Discard()
	}
	if opts.Wait.Interval == 0 && opts.Wait.MaxAttempts == 0 && opts.Wait.OnPoll == nil {
		opts.Wait = waiter.Defaults()
	}

	seq := Sequence(cfg)
	if err := ValidateSequence(seq); err != nil {
		return nil, err
	}

	return &Reconciler{
		cfg:  cfg,
		seq:  seq,
		opts: opts,
		log: opts.Telemetry.Logger.NewComponentLogger("reconciler").
			WithProvider(opts.Client.Name),
	}, nil
}

// Sequence returns the validated descriptor sequence.
func (r *Reconciler) Sequence() []Descriptor {
	return slices.Clone(r.seq)
}

// Deploy walks the sequence forward and stops at the first failure.
// Re-running Deploy after a failure resumes from live state.
func (r *Reconciler) Deploy(ctx context.Context) (*Report, error) {
	return r.run(ctx, OperationDeploy, r.seq, true)
}

// Destroy walks the sequence in reverse. Every step is attempted; the
// returned error joins all step failures.
func (r *Reconciler) Destroy(ctx context.Context) (*Report, error) {
	rev := slices.Clone(r.seq)
	slices.Reverse(rev)
	return r.run(ctx, OperationDestroy, rev, false)
}

// Show lists the derived identity of every resource without any I/O.
func (r *Reconciler) Show() []Entry {
	return Entries(r.cfg, r.seq)
}

// Status lists the same entries as Show with their live existence. A
// resource whose lookup failed is reported without Exists and its error
// is joined into the result.
func (r *Reconciler) Status(ctx context.Context) ([]Entry, error) {
	env := r.env()
	entries := r.Show()

	var errs []error
	for i, d := range r.seq {
		exists, err := d.Exists(ctx, env)
		if err != nil {
			errs = append(errs, wrap(d.Kind(), entries[i].Name, "status", err))
			continue
		}
		entries[i].Exists = &exists
	}
	return entries, errors.Join(errs...)
}

func (r *Reconciler) env() *Env {
	return &Env{
		Config:  r.cfg,
		Client:  r.opts.Client,
		Builder: r.opts.Builder,
		Wait:    r.opts.Wait,
		Guard:   r.opts.Guard,
		Logger:  r.log,
		Metrics: r.opts.Telemetry.Metrics,
	}
}

func (r *Reconciler) run(ctx context.Context, op Operation, seq []Descriptor, failFast bool) (*Report, error) {
	tel := r.opts.Telemetry
	report := &Report{
		RunID:     uuid.NewString(),
		Operation: op,
		StartedAt: time.Now(),
		Steps:     make([]StepResult, 0, len(seq)),
	}
	log := r.log.WithRunID(report.RunID).WithField("operation", string(op))

	ctx, span := tel.Tracer.StartRunSpan(ctx, report.RunID, string(op))
	defer span.End()

	tel.Metrics.RecordRunStarted(string(op))
	tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeRunStarted,
		RunID:   report.RunID,
		Message: fmt.Sprintf("%s of %s started", op, r.cfg.Identity()),
	})
	r.journal(log, "start run", func(j Journal) error {
		return j.StartRun(ctx, RunRecord{
			ID:           report.RunID,
			Operation:    op,
			DeploymentID: r.cfg.DeploymentID,
			ServiceName:  r.cfg.ServiceName,
			Region:       r.cfg.Region,
			StartedAt:    report.StartedAt,
		})
	})
	log.Infof("%s started (%d steps)", op, len(seq))

	env := r.env()
	var errs []error
	for i, d := range seq {
		res := r.step(ctx, env, log, report.RunID, op, i, d)
		report.Steps = append(report.Steps, res)
		if res.Err != nil {
			errs = append(errs, res.Err)
			if failFast {
				break
			}
		}
	}

	runErr := errors.Join(errs...)
	report.Duration = time.Since(report.StartedAt)
	report.Status = RunStatusSucceeded
	if runErr != nil {
		report.Status = RunStatusFailed
	}

	tel.Metrics.RecordRunCompleted(string(op), report.Status, report.Duration)
	r.journal(log, "finish run", func(j Journal) error {
		return j.FinishRun(ctx, report.RunID, report.Status, time.Now(), runErr)
	})

	if runErr != nil {
		telemetry.RecordError(span, runErr)
		tel.Events.Publish(telemetry.Event{
			Type:     telemetry.EventTypeRunFailed,
			RunID:    report.RunID,
			Message:  runErr.Error(),
			Level:    telemetry.EventLevelError,
			Duration: report.Duration,
		})
		log.WithError(runErr).Errorf("%s failed after %s", op, report.Duration.Round(time.Millisecond))
		return report, runErr
	}

	telemetry.RecordSuccess(span)
	tel.Events.Publish(telemetry.Event{
		Type:     telemetry.EventTypeRunCompleted,
		RunID:    report.RunID,
		Message:  fmt.Sprintf("%s of %s completed", op, r.cfg.Identity()),
		Duration: report.Duration,
	})
	log.Infof("%s completed in %s", op, report.Duration.Round(time.Millisecond))
	return report, nil
}

func (r *Reconciler) step(
	ctx context.Context,
	env *Env,
	log *telemetry.Logger,
	runID string,
	op Operation,
	index int,
	d Descriptor,
) StepResult {
	tel := r.opts.Telemetry
	name := d.ResourceName(r.cfg)
	kind := string(d.Kind())

	env.Logger = log.WithResource(kind, name)
	ctx, span := tel.Tracer.StartStepSpan(ctx, kind, name, string(op))
	defer span.End()

	tel.Events.Publish(telemetry.Event{
		Type:     telemetry.EventTypeStepStarted,
		RunID:    runID,
		Kind:     kind,
		Resource: name,
		Message:  d.Label() + " started",
	})

	timer := telemetry.NewTimer()
	var (
		outcome Outcome
		err     error
	)
	switch op {
	case OperationDestroy:
		outcome, err = d.DeleteIfExists(ctx, env)
	default:
		outcome, err = d.CreateOrUpdate(ctx, env)
	}
	duration := timer.Duration()

	res := StepResult{
		Index:    index,
		Kind:     d.Kind(),
		Label:    d.Label(),
		Name:     name,
		Outcome:  outcome,
		Duration: duration,
	}

	if err != nil {
		err = wrap(d.Kind(), name, string(op), err)
		res.Outcome = OutcomeFailed
		res.Err = err
		res.Error = err.Error()

		tel.Metrics.RecordError(string(Classify(err)))
		telemetry.RecordError(span, err)
		tel.Events.PublishStepFailed(runID, kind, name, err)
		env.Logger.WithError(err).Errorf("%s failed", d.Label())
	} else {
		span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))
		telemetry.RecordSuccess(span)
		tel.Events.PublishStepCompleted(runID, kind, name, string(outcome), duration)
		env.Logger.Infof("%s %s", d.Label(), outcome)
	}
	tel.Metrics.RecordStep(kind, string(op), string(res.Outcome), duration)

	r.journal(log, "record step", func(j Journal) error {
		return j.RecordStep(ctx, runID, res)
	})
	return res
}

func (r *Reconciler) journal(log *telemetry.Logger, what string, fn func(Journal) error) {
	if r.opts.Journal == nil {
		return
	}
	if err := fn(r.opts.Journal); err != nil {
		log.WithError(err).Warnf("journal: %s failed", what)
	}
}
