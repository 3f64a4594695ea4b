package api

import "time"

// v0 contains public types shared by the CLI and the run ledger.

type JobState string

const (
	JobPending  JobState = "pending"
	JobRunning  JobState = "running"
	JobComplete JobState = "complete"
	JobFailed   JobState = "failed"
	// JobSkipped is reported for jobs that were already complete.
	JobSkipped JobState = "skipped"
)

type RunRecord struct {
	ID         string     `json:"id" yaml:"id"`
	Convention string     `json:"convention" yaml:"convention"`
	Workers    int        `json:"workers" yaml:"workers"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
}

type SimulationRecord struct {
	RunID      string     `json:"run_id" yaml:"run_id"`
	JobID      string     `json:"job_id" yaml:"job_id"`
	Folder     string     `json:"folder" yaml:"folder"`
	State      JobState   `json:"state" yaml:"state"`
	ExitCode   int        `json:"exit_code" yaml:"exit_code"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// RunState is the lifecycle of a batch submitted over HTTP.
type RunState string

const (
	RunQueued    RunState = "queued"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// RunStatus is the live view of a submitted batch.
type RunStatus struct {
	ID         string     `json:"id"`
	State      RunState   `json:"state"`
	Workers    int        `json:"workers"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	ExitCode   int        `json:"exit_code"`
	Error      string     `json:"error,omitempty"`
	Failures   []string   `json:"failures,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
