package task

import (
	"context"
	"sort"
	"sync"

	"github.com/clefnote/clefnote-api/internal/queue"
	"github.com/clefnote/clefnote-api/internal/store"
)

// fakeStore is an in-memory Store for reconciler and canceler tests.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Record
	upserts []UpsertParams
	getErr  error
}

func newFakeStore(records ...*Record) *fakeStore {
	f := &fakeStore{records: make(map[string]*Record)}
	for _, rec := range records {
		f.records[rec.TaskID] = rec
	}
	return f
}

func (f *fakeStore) Upsert(_ context.Context, params UpsertParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, params)

	rec, ok := f.records[params.TaskID]
	if !ok {
		rec = &Record{TaskID: params.TaskID}
		f.records[params.TaskID] = rec
	}
	rec.TaskType = params.TaskType
	rec.Status = params.Status
	rec.ParentTaskID = params.ParentTaskID
	rec.SubTypeIdentifier = params.SubTypeIdentifier
	rec.Progress = params.Progress
	rec.Details = params.Details
	return nil
}

func (f *fakeStore) Get(_ context.Context, taskID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return rec, nil
}

func (f *fakeStore) Children(_ context.Context, parentTaskID string) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var children []*Record
	for _, rec := range f.records {
		if rec.ParentTaskID != nil && *rec.ParentTaskID == parentTaskID {
			children = append(children, rec)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].TaskID < children[j].TaskID })
	return children, nil
}

func (f *fakeStore) MostRecentRoot(_ context.Context) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *Record
	for _, rec := range f.records {
		if !rec.IsRoot() {
			continue
		}
		if latest == nil || rec.Timestamp.After(latest.Timestamp) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, store.ErrTaskNotFound
	}
	return latest, nil
}

func (f *fakeStore) ActiveRoot(_ context.Context) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active *Record
	for _, rec := range f.records {
		if !rec.IsRoot() || rec.Status.IsTerminal() {
			continue
		}
		if active == nil || rec.Timestamp.After(active.Timestamp) {
			active = rec
		}
	}
	if active == nil {
		return nil, store.ErrTaskNotFound
	}
	return active, nil
}

func (f *fakeStore) ByTypeNonTerminal(_ context.Context, taskType string) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []*Record
	for _, rec := range f.records {
		if rec.TaskType == taskType && !rec.Status.IsTerminal() {
			matches = append(matches, rec)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].TaskID < matches[j].TaskID })
	return matches, nil
}

func (f *fakeStore) ArchiveStaleRoots(_ context.Context) (int, error) {
	return 0, nil
}

// statusOf reads the current status of a task, bypassing error injection.
func (f *fakeStore) statusOf(taskID string) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[taskID]
	if !ok {
		return ""
	}
	return rec.Status
}

// fakeEngine is an in-memory queue.Engine.
type fakeEngine struct {
	mu        sync.Mutex
	jobs      map[string]*queue.Job
	stopped   []string
	cancelled []string
	fetchErr  error
	stopErr   error
	cancelErr error
}

func newFakeEngine(jobs ...*queue.Job) *fakeEngine {
	f := &fakeEngine{jobs: make(map[string]*queue.Job)}
	for _, job := range jobs {
		f.jobs[job.ID] = job
	}
	return f
}

func (f *fakeEngine) Fetch(_ context.Context, jobID string) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeEngine) Stop(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, jobID)
	return nil
}

func (f *fakeEngine) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, jobID)
	return nil
}
