package api

import "github.com/clefnote/clefnote-api/internal/task"

// Common request/response structures

// CancelTaskResponse is returned by the single-task cancellation endpoint.
type CancelTaskResponse struct {
	Message            string `json:"message"`
	TaskID             string `json:"task_id"`
	CancelledJobsCount int    `json:"cancelled_jobs_count,omitempty"`
}

// CancelAllResponse is returned by the bulk cancellation endpoint.
type CancelAllResponse struct {
	Message            string   `json:"message"`
	CancelledMainTasks []string `json:"cancelled_main_tasks,omitempty"`
}

// RootTaskResponse is the wire shape for the last-task and active-tasks
// endpoints. Raw time columns are never exposed; the server reports a
// computed running time instead.
type RootTaskResponse struct {
	TaskID             *string       `json:"task_id"`
	ParentTaskID       *string       `json:"parent_task_id,omitempty"`
	TaskType           *string       `json:"task_type"`
	SubTypeIdentifier  *string       `json:"sub_type_identifier,omitempty"`
	Status             string        `json:"status"`
	Progress           *int          `json:"progress,omitempty"`
	Details            *task.Details `json:"details,omitempty"`
	RunningTimeSeconds *float64      `json:"running_time_seconds,omitempty"`
}

// StatusNoPreviousMainTask is reported by the last-task endpoint when the
// store holds no root task at all.
const StatusNoPreviousMainTask = "NO_PREVIOUS_MAIN_TASK"
