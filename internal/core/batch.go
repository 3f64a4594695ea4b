package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/simbatch/internal/telemetry"
	"github.com/3cpo-dev/simbatch/pkg/api"
)

// Orchestrator is the entrypoint for running one batch from a configuration.
type Orchestrator struct {
	cfg       Config
	runner    Runner
	publisher Publisher
	store     *Store
}

// Option customizes an Orchestrator during construction.
type Option func(*Orchestrator)

// WithRunner replaces the child-process runner.
func WithRunner(r Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithPublisher uploads every job that completes during the run.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithStore records the run in the ledger.
func WithStore(s *Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

func NewOrchestrator(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg, runner: NewExecRunner()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Config() Config { return o.cfg }

// ListJobs discovers the batch and annotates each job with its tracked state.
func (o *Orchestrator) ListJobs() (Batch, error) {
	batch, err := Discover(o.cfg.Convention)
	if err != nil {
		return nil, err
	}
	tracker, err := NewTracker(o.cfg.Convention)
	if err != nil {
		return nil, err
	}
	for i := range batch {
		if tracker.IsComplete(batch[i]) {
			batch[i].State = api.JobComplete
		}
	}
	return batch, nil
}

// Run discovers jobs, checks the engine and dispatches the batch on workers
// goroutines (the configured count when workers < 1). Batch-level problems are
// returned as errors before anything is dispatched; job failures are reported
// in the result.
func (o *Orchestrator) Run(ctx context.Context, workers int) (BatchResult, error) {
	if workers < 1 {
		workers = o.cfg.Workers
	}
	batch, err := Discover(o.cfg.Convention)
	if err != nil {
		return BatchResult{}, err
	}
	builder, err := NewCommandBuilder(o.cfg.Engine)
	if err != nil {
		return BatchResult{}, err
	}
	if err := builder.CheckScript(); err != nil {
		return BatchResult{}, err
	}
	tracker, err := NewTracker(o.cfg.Convention)
	if err != nil {
		return BatchResult{}, err
	}

	log.Info().Int("jobs", len(batch)).Str("root", o.cfg.Convention.Root).Msgf("Found %d %s folders", len(batch), o.cfg.Convention.Name)
	log.Info().Int("workers", workers).Msgf("Using %d threads", workers)
	labels := map[string]string{"convention": o.cfg.Convention.Name}
	telemetry.GaugeGlobal("simbatch_workers", float64(workers), labels)

	sched := &Scheduler{
		Workers:   workers,
		Builder:   builder,
		Runner:    o.runner,
		Tracker:   tracker,
		Publisher: o.publisher,
		JobLog:    o.cfg.Logs.PerJob,
		Labels:    labels,
	}

	var runID string
	if o.store != nil {
		runID, err = o.store.BeginRun(ctx, o.cfg.Convention.Name, workers)
		if err != nil {
			log.Warn().Err(err).Msg("Ledger unavailable, continuing without it")
		} else {
			sched.Recorder = &Ledger{Store: o.store, RunID: runID}
			log.Debug().Str("run_id", runID).Msg("Recording run in ledger")
		}
	}

	res := sched.Run(ctx, batch)

	if sched.Recorder != nil {
		if err := o.store.FinishRun(context.WithoutCancel(ctx), runID, res.Code); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("Ledger write failed")
		}
	}
	return res, nil
}

// PublishCompleted uploads every job that is already complete. It is the retry
// path for uploads that failed during a run.
func (o *Orchestrator) PublishCompleted(ctx context.Context) (int, error) {
	if o.publisher == nil {
		return 0, &ConfigurationError{Reason: "publish is not configured"}
	}
	batch, err := o.ListJobs()
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, job := range batch {
		if job.State != api.JobComplete {
			continue
		}
		if err := o.publisher.Publish(ctx, job); err != nil {
			errs = append(errs, &PublishError{Folder: job.Folder, Err: err})
			continue
		}
		n++
	}
	if len(errs) > 0 {
		return n, fmt.Errorf("%d of %d uploads failed: %w", len(errs), n+len(errs), errors.Join(errs...))
	}
	return n, nil
}
