package monitor

import (
	"sync"
	"time"
)

// DefaultStaleAfter is how long compaction may go without a success before
// it is reported unhealthy. Cycles run every few seconds.
const DefaultStaleAfter = 5 * time.Minute

// maxConsecutiveErrors is the failure streak tolerated before compaction is
// reported unhealthy.
const maxConsecutiveErrors = 3

// CompactionMonitor tracks compaction health and failures. The zero value
// is ready to use.
type CompactionMonitor struct {
	mu                sync.RWMutex
	staleAfter        time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewCompactionMonitor creates a monitor that reports unhealthy after
// staleAfter without a successful cycle.
func NewCompactionMonitor(staleAfter time.Duration) *CompactionMonitor {
	return &CompactionMonitor{staleAfter: staleAfter}
}

// RecordSuccess records a successful compaction.
func (cm *CompactionMonitor) RecordSuccess() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := time.Now()
	cm.lastSuccess = now
	cm.lastAttempt = now
	cm.consecutiveErrors = 0
	cm.lastError = ""
}

// RecordFailure records a failed compaction.
func (cm *CompactionMonitor) RecordFailure(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastAttempt = time.Now()
	cm.consecutiveErrors++
	if err != nil {
		cm.lastError = err.Error()
	}
}

// IsHealthy returns true if compaction is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within the stale window
//   - More than 3 consecutive failures
func (cm *CompactionMonitor) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.healthyLocked()
}

func (cm *CompactionMonitor) healthyLocked() bool {
	if cm.lastSuccess.IsZero() {
		return false
	}
	staleAfter := cm.staleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if time.Since(cm.lastSuccess) > staleAfter {
		return false
	}
	return cm.consecutiveErrors <= maxConsecutiveErrors
}

// CompactionStatus is the compaction section of the health response.
type CompactionStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current compaction status for health checks.
func (cm *CompactionMonitor) Status() CompactionStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := CompactionStatus{
		Healthy: cm.healthyLocked(),
	}

	if !cm.lastSuccess.IsZero() {
		status.LastSuccess = cm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(cm.lastSuccess).Round(time.Millisecond).String()
	}

	if !cm.lastAttempt.IsZero() {
		status.LastAttempt = cm.lastAttempt.Format(time.RFC3339)
	}

	if cm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = cm.consecutiveErrors
		status.LastError = cm.lastError
	}

	return status
}
