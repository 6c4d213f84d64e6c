package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask() *AgentTask {
	return &AgentTask{
		ID:        "t0",
		Type:      "requirements_analysis",
		AgentType: AgentTypePM,
		Input:     TaskInput{Payload: "analyze this", Format: FormatText},
		Context:   TaskContext{WorkflowID: "wf-1"},
		Priority:  PriorityMedium,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestTaskStartComplete(t *testing.T) {
	task := newTestTask()

	require.NoError(t, task.Start())
	assert.Equal(t, TaskStatusInProgress, task.Status)
	require.NotNil(t, task.StartedAt)

	require.NoError(t, task.Complete())
	assert.Equal(t, TaskStatusCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)

	assert.False(t, task.StartedAt.After(*task.CompletedAt), "started_at must not exceed completed_at")

	d, ok := task.Duration()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, d, time.Duration(0))
}

func TestTaskStartRequiresPending(t *testing.T) {
	task := newTestTask()
	require.NoError(t, task.Start())

	err := task.Start()
	assert.ErrorIs(t, err, ErrTaskNotPending)
}

func TestTaskCompleteRequiresInProgress(t *testing.T) {
	task := newTestTask()

	err := task.Complete()
	assert.ErrorIs(t, err, ErrTaskNotInProgress)
}

func TestTaskTerminalStatusNeverReverts(t *testing.T) {
	task := newTestTask()
	require.NoError(t, task.Start())
	require.NoError(t, task.Complete())

	assert.ErrorIs(t, task.Fail(), ErrTaskTerminal)
	assert.ErrorIs(t, task.Cancel(), ErrTaskTerminal)
	assert.Equal(t, TaskStatusCompleted, task.Status)
}

func TestTaskCancelFromPending(t *testing.T) {
	task := newTestTask()

	require.NoError(t, task.Cancel())
	assert.Equal(t, TaskStatusCancelled, task.Status)
	assert.NotNil(t, task.CompletedAt)
}

func TestTaskReset(t *testing.T) {
	task := newTestTask()
	require.NoError(t, task.Start())
	require.NoError(t, task.Fail())

	task.Reset()
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)

	_, ok := task.Duration()
	assert.False(t, ok)
}

func TestTaskInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   TaskInput
		wantErr bool
	}{
		{"json mapping", TaskInput{Payload: map[string]any{"k": "v"}, Format: FormatJSON}, false},
		{"json sequence", TaskInput{Payload: []any{"a", "b"}, Format: FormatJSON}, false},
		{"json scalar rejected", TaskInput{Payload: "plain", Format: FormatJSON}, true},
		{"text string", TaskInput{Payload: "hello", Format: FormatText}, false},
		{"text non-string rejected", TaskInput{Payload: 42, Format: FormatText}, true},
		{"markdown string", TaskInput{Payload: "# h1", Format: FormatMarkdown}, false},
		{"nil text payload allowed", TaskInput{Payload: nil, Format: FormatText}, false},
		{"unknown format", TaskInput{Payload: "x", Format: DataFormat("xml")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
