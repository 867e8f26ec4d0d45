package app

import "lexchat/internal/ai"

// RunState tracks one grounded completion through the remote service:
// the user text is queued onto the thread, a run is started, and the run is
// polled until it lands in a terminal state.
type RunState int

const (
	RunIdle RunState = iota
	RunMessageQueued
	RunJobRunning
	RunJobSucceeded
	RunJobFailed
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunMessageQueued:
		return "message_queued"
	case RunJobRunning:
		return "job_running"
	case RunJobSucceeded:
		return "job_succeeded"
	case RunJobFailed:
		return "job_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further polling is useful.
func (s RunState) Terminal() bool {
	return s == RunJobSucceeded || s == RunJobFailed
}

// NextRunState folds a remote run status into the protocol state. It is a
// pure function so the poll loop can be exercised without a live service.
// Statuses only move the machine while the job is running; a terminal state
// never transitions away.
func NextRunState(current RunState, status string) RunState {
	if current != RunJobRunning {
		return current
	}
	switch status {
	case ai.StatusCompleted:
		return RunJobSucceeded
	case ai.StatusFailed, ai.StatusCancelled, ai.StatusExpired:
		return RunJobFailed
	default:
		return RunJobRunning
	}
}
