package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionMonitor_RecordSuccess(t *testing.T) {
	sm := &SubmissionMonitor{}
	sm.RecordFailure(errors.New("broker down"))
	sm.RecordSuccess()

	status := sm.Status()
	assert.True(t, status.Healthy)
	assert.Equal(t, int64(1), status.Submitted)
	assert.Zero(t, status.ConsecutiveErrors)
	assert.Empty(t, status.LastError)
	assert.NotEmpty(t, status.LastSuccess)
	assert.NotEmpty(t, status.TimeSinceSuccess)
}

func TestSubmissionMonitor_RecordFailure(t *testing.T) {
	sm := &SubmissionMonitor{}
	sm.RecordFailure(errors.New("broker down"))

	status := sm.Status()
	assert.Equal(t, 1, status.ConsecutiveErrors)
	assert.Equal(t, "broker down", status.LastError)
	assert.NotEmpty(t, status.LastAttempt)
	assert.Empty(t, status.LastSuccess)
}

func TestSubmissionMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*SubmissionMonitor)
		expected bool
	}{
		{
			name:     "nothing shipped yet",
			setup:    func(*SubmissionMonitor) {},
			expected: true,
		},
		{
			name: "a few failures",
			setup: func(sm *SubmissionMonitor) {
				for i := 0; i < 3; i++ {
					sm.RecordFailure(errors.New("timeout"))
				}
			},
			expected: true,
		},
		{
			name: "too many consecutive failures",
			setup: func(sm *SubmissionMonitor) {
				sm.RecordSuccess()
				for i := 0; i < 4; i++ {
					sm.RecordFailure(errors.New("timeout"))
				}
			},
			expected: false,
		},
		{
			name: "recovered",
			setup: func(sm *SubmissionMonitor) {
				for i := 0; i < 5; i++ {
					sm.RecordFailure(errors.New("timeout"))
				}
				sm.RecordSuccess()
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := &SubmissionMonitor{}
			tt.setup(sm)
			assert.Equal(t, tt.expected, sm.IsHealthy())
		})
	}
}
