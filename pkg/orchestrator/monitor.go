package orchestrator

import (
	"fmt"
	"time"
)

// runMonitor is the background heartbeat: it fails executions that exceed
// the configured age limit and cancels tasks stuck in flight past the task
// timeout. Problems found here are logged and acted on, never raised; the
// monitor must outlive any single execution.
func (e *Executor) runMonitor() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.monitorTick(time.Now().UTC())
		}
	}
}

func (e *Executor) monitorTick(now time.Time) {
	e.mu.RLock()
	execs := make([]*Execution, 0, len(e.active))
	for _, exec := range e.active {
		execs = append(execs, exec)
	}
	e.mu.RUnlock()

	for _, exec := range execs {
		exec.mu.Lock()
		terminal := exec.state.IsTerminal()
		age := now.Sub(exec.startedAt)
		var stuck []string
		for id := range exec.active {
			te := exec.tasks[id]
			if te.Task.StartedAt == nil {
				continue
			}
			if now.Sub(*te.Task.StartedAt) > e.cfg.TaskTimeout {
				stuck = append(stuck, id)
			}
		}
		exec.mu.Unlock()

		if terminal {
			continue
		}
		if age > e.cfg.ExecutionTimeout {
			e.logger.Warn("Execution exceeded age limit",
				"execution_id", exec.ID(), "age", age.String())
			e.failExecution(exec, fmt.Sprintf("execution timed out after %s", e.cfg.ExecutionTimeout))
			continue
		}
		for _, id := range stuck {
			e.logger.Warn("Cancelling stuck task",
				"execution_id", exec.ID(), "task_id", id)
			exec.mu.Lock()
			if cancel, ok := exec.cancels[id]; ok {
				cancel()
			}
			exec.mu.Unlock()
		}
	}
}
