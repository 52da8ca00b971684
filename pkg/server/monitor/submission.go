package monitor

import (
	"sync"
	"time"
)

// maxConsecutiveFailures is how many failed publishes in a row mark the
// submission channel unhealthy.
const maxConsecutiveFailures = 3

// SubmissionMonitor tracks the health of the submission channel.
type SubmissionMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	submitted         int64
	consecutiveErrors int
	lastError         string
}

// RecordSuccess records a delivered batch
func (sm *SubmissionMonitor) RecordSuccess() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	now := time.Now()
	sm.lastSuccess = now
	sm.lastAttempt = now
	sm.submitted++
	sm.consecutiveErrors = 0
	sm.lastError = ""
}

// RecordFailure records a batch that could not be published
func (sm *SubmissionMonitor) RecordFailure(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastAttempt = time.Now()
	sm.consecutiveErrors++
	if err != nil {
		sm.lastError = err.Error()
	}
}

// IsHealthy is false after more than three failed publishes in a row.
// A condenser that has not shipped anything yet is healthy.
func (sm *SubmissionMonitor) IsHealthy() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.healthy()
}

func (sm *SubmissionMonitor) healthy() bool {
	return sm.consecutiveErrors <= maxConsecutiveFailures
}

// SubmissionStatus is the submission section of the health response.
type SubmissionStatus struct {
	Healthy           bool   `json:"healthy"`
	Submitted         int64  `json:"submitted"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns a snapshot for health checks
func (sm *SubmissionMonitor) Status() SubmissionStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	status := SubmissionStatus{
		Healthy:   sm.healthy(),
		Submitted: sm.submitted,
	}
	if !sm.lastSuccess.IsZero() {
		status.LastSuccess = sm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(sm.lastSuccess).Round(time.Second).String()
	}
	if !sm.lastAttempt.IsZero() {
		status.LastAttempt = sm.lastAttempt.Format(time.RFC3339)
	}
	if sm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = sm.consecutiveErrors
		status.LastError = sm.lastError
	}
	return status
}
