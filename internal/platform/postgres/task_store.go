package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clefnote/clefnote-api/internal/platform/logger"
	"github.com/clefnote/clefnote-api/internal/store"
	"github.com/clefnote/clefnote-api/internal/task"
)

// TaskStore implements the task.Store interface over a relational database.
// It is the system of record for task status, progress, hierarchy and
// timing; the queue engine's live view is reconciled against it elsewhere.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// WithTx returns a TaskStore bound to the provided transaction.
func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	return &TaskStore{db: tx}
}

// taskColumns is the column list shared by every read query.
const taskColumns = `task_id, parent_task_id, task_type, sub_type_identifier,
		status, progress, details, timestamp, start_time, end_time`

// Upsert inserts or updates a task record by task_id.
//
// Timing rules: start_time is written first-write-wins (COALESCE against the
// stored value), end_time is written exactly once, the first time the
// incoming status is terminal. Both are fractional Unix seconds computed
// here, not in the database, so duration arithmetic stays engine-agnostic.
func (s *TaskStore) Upsert(ctx context.Context, params task.UpsertParams) error {
	log := logger.FromContext(ctx)

	details := applyLogStoragePolicy(params.Status, params.Details)

	var detailsJSON sql.NullString
	if details != nil {
		encoded, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to encode task details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	now := time.Now().UTC()
	nowUnix := float64(now.UnixNano()) / float64(time.Second)

	// end_time candidate: only meaningful when the incoming status is
	// terminal; the CASE below keeps an already-set value either way.
	var endTime sql.NullFloat64
	if params.Status.IsTerminal() {
		endTime = sql.NullFloat64{Float64: nowUnix, Valid: true}
	}

	query := `
		INSERT INTO task_status (
			task_id, parent_task_id, task_type, sub_type_identifier,
			status, progress, details, timestamp, start_time, end_time
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			parent_task_id = EXCLUDED.parent_task_id,
			sub_type_identifier = EXCLUDED.sub_type_identifier,
			progress = EXCLUDED.progress,
			details = EXCLUDED.details,
			timestamp = EXCLUDED.timestamp,
			start_time = COALESCE(task_status.start_time, EXCLUDED.start_time),
			end_time = CASE
				WHEN EXCLUDED.status IN ('SUCCESS', 'FAILURE', 'REVOKED')
					AND task_status.end_time IS NULL
				THEN EXCLUDED.end_time
				ELSE task_status.end_time
			END
	`

	_, err := s.db.ExecContext(ctx, query,
		params.TaskID,
		params.ParentTaskID,
		params.TaskType,
		params.SubTypeIdentifier,
		string(params.Status),
		params.Progress,
		detailsJSON,
		now,
		nowUnix,
		endTime,
	)
	if err != nil {
		log.Error("failed to upsert task status",
			"task_id", params.TaskID,
			"task_type", params.TaskType,
			"status", params.Status,
			"error", err)
		return fmt.Errorf("failed to save task status for %s: %w", params.TaskID, err)
	}

	return nil
}

// applyLogStoragePolicy enforces the log cap before a write. For statuses
// other than SUCCESS a log longer than task.MaxStoredLogEntries is truncated
// to its tail and annotated with the original length. On SUCCESS the
// annotation is cleared and an empty log is replaced with a single
// confirmation entry. The input is never mutated.
func applyLogStoragePolicy(status task.Status, details *task.Details) *task.Details {
	if details == nil {
		return nil
	}
	out := details.Clone()

	if status == task.StatusSuccess {
		out.LogStorageInfo = ""
		if len(out.Log) == 0 {
			out.Log = []string{"Task completed successfully."}
		}
		return out
	}

	if len(out.Log) > task.MaxStoredLogEntries {
		originalLen := len(out.Log)
		out.Log = append([]string(nil), out.Log[originalLen-task.MaxStoredLogEntries:]...)
		out.LogStorageInfo = fmt.Sprintf(
			"Log in DB truncated to last %d entries. Original length: %d.",
			task.MaxStoredLogEntries, originalLen)
	} else {
		out.LogStorageInfo = ""
	}
	return out
}

// Get retrieves a task record by id.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*task.Record, error) {
	query := `SELECT ` + taskColumns + ` FROM task_status WHERE task_id = $1`
	row := s.db.QueryRowContext(ctx, query, taskID)
	rec, err := scanTask(row)
	if err != nil {
		if err = MapError(err); errors.Is(err, store.ErrTaskNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return rec, nil
}

// Children retrieves the direct children of the given task.
func (s *TaskStore) Children(ctx context.Context, parentTaskID string) ([]*task.Record, error) {
	query := `SELECT ` + taskColumns + ` FROM task_status WHERE parent_task_id = $1`
	rows, err := s.db.QueryContext(ctx, query, parentTaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of %s: %w", parentTaskID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

// MostRecentRoot retrieves the most recently written root task.
// Returns store.ErrTaskNotFound when no root task has ever run.
func (s *TaskStore) MostRecentRoot(ctx context.Context) (*task.Record, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task_status
		WHERE parent_task_id IS NULL
		ORDER BY timestamp DESC
		LIMIT 1
	`
	rec, err := scanTask(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if err = MapError(err); errors.Is(err, store.ErrTaskNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get most recent root task: %w", err)
	}
	return rec, nil
}

// ActiveRoot retrieves the currently active root task (status PENDING,
// STARTED or PROGRESS). Returns store.ErrTaskNotFound when none is active.
func (s *TaskStore) ActiveRoot(ctx context.Context) (*task.Record, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task_status
		WHERE parent_task_id IS NULL
			AND status IN ('PENDING', 'STARTED', 'PROGRESS')
		ORDER BY timestamp DESC
		LIMIT 1
	`
	rec, err := scanTask(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if err = MapError(err); errors.Is(err, store.ErrTaskNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get active root task: %w", err)
	}
	return rec, nil
}

// ByTypeNonTerminal retrieves all tasks of the given type that are not in a
// terminal status.
func (s *TaskStore) ByTypeNonTerminal(ctx context.Context, taskType string) ([]*task.Record, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task_status
		WHERE task_type = $1
			AND status NOT IN ('SUCCESS', 'FAILURE', 'REVOKED')
	`
	rows, err := s.db.QueryContext(ctx, query, taskType)
	if err != nil {
		return nil, fmt.Errorf("failed to query non-terminal tasks of type %s: %w", taskType, err)
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

// ArchiveStaleRoots rewrites every root task left in SUCCESS or a
// non-terminal status into a terminal REVOKED/archived record, preserving a
// human-readable trail in the details log. The whole batch commits or rolls
// back as one transaction; archival is best-effort cleanup and is not
// retried here.
func (s *TaskStore) ArchiveStaleRoots(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	if db, ok := s.db.(*sql.DB); ok {
		var archived int
		err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			n, archiveErr := s.WithTx(tx).archiveStaleRoots(ctx)
			archived = n
			return archiveErr
		})
		if err != nil {
			log.Error("archival sweep failed, batch rolled back", "error", err)
			return 0, fmt.Errorf("%w: archival sweep: %v", store.ErrTransactionFailed, err)
		}
		return archived, nil
	}

	// Already inside a caller-managed transaction.
	return s.archiveStaleRoots(ctx)
}

func (s *TaskStore) archiveStaleRoots(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT task_id, status, details
		FROM task_status
		WHERE parent_task_id IS NULL
			AND status IN ('PENDING', 'STARTED', 'PROGRESS', 'SUCCESS')
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to select archivable root tasks: %w", err)
	}

	type staleRoot struct {
		taskID  string
		status  task.Status
		details *task.Details
	}
	var stale []staleRoot
	for rows.Next() {
		var (
			id         string
			status     string
			rawDetails sql.NullString
		)
		if err := rows.Scan(&id, &status, &rawDetails); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan archivable root task: %w", err)
		}
		stale = append(stale, staleRoot{
			taskID:  id,
			status:  task.Status(status),
			details: task.ParseDetails(rawDetails.String),
		})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("error iterating archivable root tasks: %w", err)
	}
	_ = rows.Close()

	archived := 0
	now := time.Now().UTC()
	for _, root := range stale {
		summary := fmt.Sprintf("Task was in '%s' state.", root.status)
		if root.details != nil && root.details.StatusMessage != "" {
			summary = root.details.StatusMessage
		}

		var reason string
		if root.status == task.StatusSuccess {
			reason = "New main task started, old successful task archived."
		} else {
			reason = fmt.Sprintf(
				"New main task started, stale task (status: %s) has been archived.", root.status)
		}

		archivedDetails := task.NewDetails()
		archivedDetails.Log = []string{
			fmt.Sprintf("[Archived] %s Original summary: %s", reason, summary),
		}
		archivedDetails.Extra["original_status_before_archival"] = string(root.status)
		archivedDetails.Extra["archival_reason"] = reason

		encoded, err := json.Marshal(archivedDetails)
		if err != nil {
			return 0, fmt.Errorf("failed to encode archival details for %s: %w", root.taskID, err)
		}

		// The status predicate is an optimistic guard: if a worker moved
		// the task concurrently, that legitimate update wins and this row
		// is skipped.
		update := `
			UPDATE task_status
			SET status = 'REVOKED', progress = 100, details = $1, timestamp = $2
			WHERE task_id = $3 AND status = $4
		`
		result, err := s.db.ExecContext(ctx, update,
			string(encoded), now, root.taskID, string(root.status))
		if err != nil {
			return 0, fmt.Errorf("failed to archive task %s: %w", root.taskID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read archive result for %s: %w", root.taskID, err)
		}
		if affected > 0 {
			archived++
			log.Info("archived stale root task",
				"task_id", root.taskID,
				"original_status", root.status)
		}
	}

	return archived, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Record, error) {
	var (
		rec               task.Record
		parentTaskID      sql.NullString
		subTypeIdentifier sql.NullString
		status            string
		details           sql.NullString
		startTime         sql.NullFloat64
		endTime           sql.NullFloat64
	)

	err := row.Scan(
		&rec.TaskID,
		&parentTaskID,
		&rec.TaskType,
		&subTypeIdentifier,
		&status,
		&rec.Progress,
		&details,
		&rec.Timestamp,
		&startTime,
		&endTime,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = task.Status(status)
	if parentTaskID.Valid {
		rec.ParentTaskID = &parentTaskID.String
	}
	if subTypeIdentifier.Valid {
		rec.SubTypeIdentifier = &subTypeIdentifier.String
	}
	if details.Valid {
		rec.Details = task.ParseDetails(details.String)
	}
	if startTime.Valid {
		rec.StartTime = &startTime.Float64
	}
	if endTime.Valid {
		rec.EndTime = &endTime.Float64
	}

	return &rec, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Record, error) {
	var records []*task.Record
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return records, nil
}
