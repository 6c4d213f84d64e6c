// Package recovery decides what happens after a task failure and keeps an
// execution's recovery metadata: checkpoints, preserved partial results,
// critical failures and rollback bookkeeping.
//
// The strategy only decides. Applying an action (requeueing the task,
// obtaining a fresh instance, cancelling the workflow) is the executor's
// job, done inside the execution's critical section.
package recovery

import (
	"fmt"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// DefaultMaxDelay caps the exponential retry backoff.
const DefaultMaxDelay = 60 * time.Second

// Strategy picks a recovery action for failed tasks.
type Strategy struct {
	maxRetries int
	maxDelay   time.Duration
}

// NewStrategy builds a strategy. maxRetries <= 0 falls back to 3 and
// maxDelay <= 0 to DefaultMaxDelay.
func NewStrategy(maxRetries int, maxDelay time.Duration) *Strategy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Strategy{maxRetries: maxRetries, maxDelay: maxDelay}
}

// MaxRetries returns the per-task retry budget.
func (s *Strategy) MaxRetries() int { return s.maxRetries }

// Backoff returns the delay before the next attempt: 2^retryCount seconds,
// capped at the strategy's maximum.
func (s *Strategy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 20 {
		return s.maxDelay
	}
	delay := time.Second << uint(retryCount)
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

// Decide returns the action for a failure: retry while budget remains,
// reassign when an idle same-role instance can take over, abort otherwise.
// Skip is never auto-derived; it only arrives through operator remediation.
func (s *Strategy) Decide(retryCount, idleBackups int) models.RecoveryAction {
	if retryCount < s.maxRetries {
		return models.RecoveryAction{
			Action: models.RecoveryRetry,
			Delay:  s.Backoff(retryCount),
			Reason: fmt.Sprintf("retry %d of %d", retryCount+1, s.maxRetries),
		}
	}
	if idleBackups > 0 {
		return models.RecoveryAction{
			Action: models.RecoveryReassign,
			Reason: "retries exhausted, idle backup available",
		}
	}
	return models.RecoveryAction{
		Action: models.RecoveryAbort,
		Reason: "retries exhausted, no backup instance",
	}
}
