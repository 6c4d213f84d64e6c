package recovery

import (
	"time"

	"github.com/google/uuid"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// PreservePartial copies a failed or retried task's result into the record
// so recovery does not lose work already done. The latest result per task
// wins.
func PreservePartial(rec *models.RecoveryRecord, result *models.AgentResult, reason string) {
	if rec == nil || result == nil {
		return
	}
	if rec.PartialResults == nil {
		rec.PartialResults = map[string]models.PartialResult{}
	}
	rec.PartialResults[result.TaskID] = models.PartialResult{
		TaskID:      result.TaskID,
		Result:      result,
		PreservedAt: time.Now().UTC(),
		Reason:      reason,
	}
}

// RecordCriticalFailure appends an abort-grade failure together with the
// remediation options a human can take.
func RecordCriticalFailure(rec *models.RecoveryRecord, taskID string, cause error, retryCount int) models.CriticalFailure {
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}
	failure := models.CriticalFailure{
		TaskID:     taskID,
		Error:      msg,
		RetryCount: retryCount,
		OccurredAt: time.Now().UTC(),
		Remediations: []string{
			models.RemediationAbortWorkflow,
			models.RemediationSkipTask,
			models.RemediationManualIntervention,
		},
	}
	rec.CriticalFailures = append(rec.CriticalFailures, failure)
	return failure
}

// AppendCheckpoint appends a checkpoint for the phase. Timestamps never run
// backwards within one record, even when the clock does.
func AppendCheckpoint(rec *models.RecoveryRecord, phase, description string, snap models.CheckpointSnapshot) models.Checkpoint {
	now := time.Now().UTC()
	if last := rec.LatestCheckpoint(); last != nil && now.Before(last.Timestamp) {
		now = last.Timestamp
	}
	cp := models.Checkpoint{
		ID:          "cp-" + uuid.NewString(),
		Timestamp:   now,
		Phase:       phase,
		Description: description,
		Recoverable: phase != models.PhaseRollback,
		Snapshot:    snap,
	}
	rec.Checkpoints = append(rec.Checkpoints, cp)
	return cp
}

// SelectCheckpoint resolves a rollback target: the named checkpoint, or the
// most recent recoverable one when checkpointID is empty. Rollback markers
// are not restore points.
func SelectCheckpoint(rec *models.RecoveryRecord, checkpointID string) (models.Checkpoint, bool) {
	if rec == nil {
		return models.Checkpoint{}, false
	}
	if checkpointID != "" {
		cp := rec.FindCheckpoint(checkpointID)
		if cp == nil || !cp.Recoverable {
			return models.Checkpoint{}, false
		}
		return *cp, true
	}
	for i := len(rec.Checkpoints) - 1; i >= 0; i-- {
		if rec.Checkpoints[i].Recoverable {
			return rec.Checkpoints[i], true
		}
	}
	return models.Checkpoint{}, false
}

// RecordRollback stamps the rollback marker and returns the applied info.
func RecordRollback(rec *models.RecoveryRecord, cp models.Checkpoint, fromProgress float64) models.RollbackInfo {
	info := models.RollbackInfo{
		CheckpointID: cp.ID,
		RolledBackAt: time.Now().UTC(),
		FromProgress: fromProgress,
		ToProgress:   cp.Snapshot.Progress,
	}
	rec.RollbackInfo = &info
	return info
}
