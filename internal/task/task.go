package task

import (
	"context"
	"time"
)

// Status represents the durable state of a task as recorded in the store.
type Status string

// Possible task status values.
const (
	StatusPending  Status = "PENDING"
	StatusStarted  Status = "STARTED"
	StatusProgress Status = "PROGRESS"
	StatusSuccess  Status = "SUCCESS"
	StatusFailure  Status = "FAILURE"
	StatusRevoked  Status = "REVOKED"
)

// Task type constants.
const (
	// TypeMainAnalysis is the root task of a library analysis run.
	TypeMainAnalysis = "main_analysis"

	// TypeAlbumAnalysis is a per-album sub-task of a main analysis run.
	TypeAlbumAnalysis = "album_analysis"

	// TypeMainClustering is the root task of a clustering run.
	TypeMainClustering = "main_clustering"

	// TypeClusteringBatch is one batch of clustering iterations.
	TypeClusteringBatch = "clustering_batch"
)

// MaxStoredLogEntries is the maximum number of recent log entries persisted
// in the database per task. Longer logs are truncated on write and annotated
// with the original length.
const MaxStoredLogEntries = 10

// IsTerminal reports whether the status is one of the terminal states.
// A terminal task never transitions again except through the explicit
// archival rewrite performed by ArchiveStaleRoots.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRevoked
}

// Record is the persisted representation of a task. The store is the system
// of record for status, progress, hierarchy and timing.
type Record struct {
	TaskID            string
	ParentTaskID      *string // nil marks a root task
	TaskType          string
	SubTypeIdentifier *string
	Status            Status
	Progress          int
	Details           *Details
	Timestamp         time.Time

	// StartTime and EndTime are fractional Unix timestamps in seconds.
	// StartTime is set once, first write wins. EndTime is set exactly once,
	// the first time status becomes terminal.
	StartTime *float64
	EndTime   *float64
}

// IsRoot reports whether the record is a root task (no parent).
func (r *Record) IsRoot() bool {
	return r.ParentTaskID == nil
}

// RunningTimeSeconds derives the task's running time at the given instant.
// It is never stored: end_time if set, else now, minus start_time. A task
// that has no start_time yet has a running time of zero.
func (r *Record) RunningTimeSeconds(now time.Time) float64 {
	if r.StartTime == nil {
		return 0
	}
	end := float64(now.UnixNano()) / float64(time.Second)
	if r.EndTime != nil {
		end = *r.EndTime
	}
	d := end - *r.StartTime
	if d < 0 {
		return 0
	}
	return d
}

// UpsertParams carries one write to the durable task store.
type UpsertParams struct {
	TaskID            string
	TaskType          string
	Status            Status
	ParentTaskID      *string
	SubTypeIdentifier *string
	Progress          int
	Details           *Details
}

// Store defines the interface for persisting task lifecycle records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Upsert inserts or updates a task record by task_id, applying the
	// first-write-wins start_time and set-once end_time rules, and the
	// log truncation policy described on MaxStoredLogEntries.
	Upsert(ctx context.Context, params UpsertParams) error

	// Get retrieves a task record by id.
	// Returns store.ErrTaskNotFound when no such row exists.
	Get(ctx context.Context, taskID string) (*Record, error)

	// Children retrieves the direct children of the given task.
	Children(ctx context.Context, parentTaskID string) ([]*Record, error)

	// MostRecentRoot retrieves the most recently written root task, if any.
	MostRecentRoot(ctx context.Context) (*Record, error)

	// ActiveRoot retrieves the currently active root task: the most recent
	// root whose status is PENDING, STARTED or PROGRESS.
	ActiveRoot(ctx context.Context) (*Record, error)

	// ByTypeNonTerminal retrieves all tasks of the given type that are not
	// in a terminal status.
	ByTypeNonTerminal(ctx context.Context, taskType string) ([]*Record, error)

	// ArchiveStaleRoots rewrites every root task left in SUCCESS or a
	// non-terminal status into a terminal REVOKED/archived record and
	// returns the number of tasks archived. Invoked before a new root
	// task is accepted.
	ArchiveStaleRoots(ctx context.Context) (int, error)
}
