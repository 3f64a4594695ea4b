package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/3cpo-dev/simbatch/internal/telemetry"
	"github.com/3cpo-dev/simbatch/pkg/api"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// Builder constructs the engine invocation for a job's inputs.
type Builder interface {
	Build(inputs []string) (Invocation, error)
}

// Publisher ships a completed job somewhere else.
type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

// Recorder observes job transitions. Implementations must be safe for
// concurrent use and must not fail the job.
type Recorder interface {
	JobStarted(ctx context.Context, job Job)
	JobFinished(ctx context.Context, job Job, state api.JobState, code int, err error)
}

// Scheduler runs a batch on a fixed pool of workers that claim jobs one at a time.
type Scheduler struct {
	Workers   int
	Builder   Builder
	Runner    Runner
	Tracker   Tracker
	Publisher Publisher
	Recorder  Recorder
	// JobLog, when set, names a file inside each job folder that receives engine output.
	JobLog string
	Labels map[string]string
}

// BatchResult summarises one run.
type BatchResult struct {
	Jobs      Batch
	Succeeded int
	Skipped   int
	Failed    int
	Code      int
	Failures  []JobFailure
}

func (r BatchResult) Total() int { return len(r.Jobs) }

// Run attempts every job exactly once. Failures never stop sibling workers.
func (s *Scheduler) Run(ctx context.Context, batch Batch) BatchResult {
	workers := s.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	agg := NewStatusAggregator()
	jobs := make(Batch, len(batch))
	copy(jobs, batch)

	var cursor atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				i := int(cursor.Add(1) - 1)
				if i >= len(jobs) {
					return nil
				}
				jobs[i].State = s.process(ctx, jobs[i], agg)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Jobs left unclaimed after cancellation count as failed.
	if err := ctx.Err(); err != nil {
		for i := range jobs {
			if jobs[i].State != api.JobPending {
				continue
			}
			jerr := fmt.Errorf("not started: %w", err)
			agg.Record(JobFailure{Folder: jobs[i].Folder, Code: 1, Err: jerr})
			s.finished(ctx, jobs[i], api.JobFailed, 1, jerr)
			jobs[i].State = api.JobFailed
		}
	}

	res := BatchResult{Jobs: jobs, Code: agg.FinalCode(), Failures: agg.Failures()}
	for _, j := range jobs {
		switch j.State {
		case api.JobSkipped:
			res.Skipped++
		case api.JobComplete:
			res.Succeeded++
		case api.JobFailed:
			res.Failed++
		}
	}
	return res
}

func (s *Scheduler) process(ctx context.Context, job Job, agg *StatusAggregator) api.JobState {
	if s.Tracker.IsComplete(job) {
		log.Info().Str("folder", job.Folder).Msg("Skipping simulation (already complete)")
		telemetry.CounterGlobal("simbatch_jobs_skipped", 1, s.Labels)
		s.finished(ctx, job, api.JobSkipped, 0, nil)
		return api.JobSkipped
	}

	start := time.Now()
	if s.Recorder != nil {
		s.Recorder.JobStarted(context.WithoutCancel(ctx), job)
	}
	telemetry.CounterGlobal("simbatch_jobs_started", 1, s.Labels)

	err := s.execute(ctx, job)
	telemetry.TimerGlobal("simbatch_job_duration", time.Since(start), s.Labels)
	if err != nil {
		code := ExitCode(err)
		log.Error().Err(err).Str("folder", job.Folder).Int("code", code).Msg("Simulation failed")
		agg.Record(JobFailure{Folder: job.Folder, Code: code, Err: err})
		telemetry.CounterGlobal("simbatch_jobs_failed", 1, s.Labels)
		s.finished(ctx, job, api.JobFailed, code, err)
		return api.JobFailed
	}

	telemetry.CounterGlobal("simbatch_jobs_succeeded", 1, s.Labels)
	log.Info().Str("folder", job.Folder).Dur("duration", time.Since(start)).Msg("Simulation completed")

	if s.Publisher != nil {
		if err := s.Publisher.Publish(ctx, job); err != nil {
			perr := &PublishError{Folder: job.Folder, Err: err}
			log.Error().Err(perr).Str("folder", job.Folder).Msg("Publish failed")
			agg.Record(JobFailure{Folder: job.Folder, Code: 1, Err: perr})
			telemetry.CounterGlobal("simbatch_publish_failed", 1, s.Labels)
			s.finished(ctx, job, api.JobComplete, 0, perr)
			return api.JobComplete
		}
	}
	s.finished(ctx, job, api.JobComplete, 0, nil)
	return api.JobComplete
}

// execute runs one job: inputs are verified before anything is spawned.
func (s *Scheduler) execute(ctx context.Context, job Job) error {
	inputs, err := ResolveInputs(job)
	if err != nil {
		return err
	}
	inv, err := s.Builder.Build(inputs)
	if err != nil {
		return err
	}
	if s.JobLog != "" {
		inv.LogPath = filepath.Join(job.Folder, s.JobLog)
	}

	log.Info().Str("folder", job.Folder).Str("job", job.ID).Msg("Running simulation")
	code, err := s.Runner.Run(ctx, inv)
	var sim *SimulationFailedError
	if errors.As(err, &sim) {
		sim.Folder = job.Folder
	}
	if err != nil {
		return err
	}
	if code != 0 {
		return &SimulationFailedError{Folder: job.Folder, Code: code}
	}
	return s.Tracker.MarkComplete(job)
}

// finished reports the outcome even after ctx is cancelled, so an interrupted
// batch still leaves a final state for every job it touched.
func (s *Scheduler) finished(ctx context.Context, job Job, state api.JobState, code int, err error) {
	if s.Recorder != nil {
		s.Recorder.JobFinished(context.WithoutCancel(ctx), job, state, code, err)
	}
}
