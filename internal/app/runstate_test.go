package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lexchat/internal/ai"
)

func TestNextRunState(t *testing.T) {
	tests := []struct {
		name    string
		current RunState
		status  string
		want    RunState
	}{
		{"completed while running", RunJobRunning, ai.StatusCompleted, RunJobSucceeded},
		{"failed while running", RunJobRunning, ai.StatusFailed, RunJobFailed},
		{"cancelled while running", RunJobRunning, ai.StatusCancelled, RunJobFailed},
		{"expired while running", RunJobRunning, ai.StatusExpired, RunJobFailed},
		{"still in progress", RunJobRunning, ai.StatusInProgress, RunJobRunning},
		{"queued keeps running", RunJobRunning, ai.StatusQueued, RunJobRunning},
		{"unknown status keeps running", RunJobRunning, "requires_action", RunJobRunning},
		{"terminal success never moves", RunJobSucceeded, ai.StatusFailed, RunJobSucceeded},
		{"terminal failure never moves", RunJobFailed, ai.StatusCompleted, RunJobFailed},
		{"idle ignores statuses", RunIdle, ai.StatusCompleted, RunIdle},
		{"queued message ignores statuses", RunMessageQueued, ai.StatusCompleted, RunMessageQueued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextRunState(tt.current, tt.status))
		})
	}
}

func TestRunStateTerminal(t *testing.T) {
	assert.False(t, RunIdle.Terminal())
	assert.False(t, RunMessageQueued.Terminal())
	assert.False(t, RunJobRunning.Terminal())
	assert.True(t, RunJobSucceeded.Terminal())
	assert.True(t, RunJobFailed.Terminal())
}
