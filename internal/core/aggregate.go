package core

import "sync"

// JobFailure identifies a failed job and why it failed.
type JobFailure struct {
	Folder string
	Code   int
	Err    error
}

// StatusAggregator collects failures from concurrent workers. The code it
// retains is the first non-zero one recorded; which job that is depends on
// scheduling and is not otherwise defined.
type StatusAggregator struct {
	mu       sync.Mutex
	code     int
	failures []JobFailure
}

func NewStatusAggregator() *StatusAggregator { return &StatusAggregator{} }

// RecordCode notes a failure by status only. A zero code still counts as a failure.
func (a *StatusAggregator) RecordCode(code int) {
	a.Record(JobFailure{Code: code})
}

func (a *StatusAggregator) Record(f JobFailure) {
	if f.Code == 0 {
		f.Code = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.code == 0 {
		a.code = f.Code
	}
	a.failures = append(a.failures, f)
}

// FinalCode is 0 iff nothing was recorded.
func (a *StatusAggregator) FinalCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.code
}

// Failures returns a copy of everything recorded so far.
func (a *StatusAggregator) Failures() []JobFailure {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]JobFailure, len(a.failures))
	copy(out, a.failures)
	return out
}
