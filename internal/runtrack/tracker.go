package runtrack

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"feeflow/internal/datastore"
	logx "feeflow/pkg/logx"
)

const defaultHistorySize = 50

// Tracker owns the lifecycle of job runs. It enforces the single-flight
// rule per job type, keeps a bounded in-memory history, and mirrors
// terminal runs into the store's run log when one is attached.
type Tracker struct {
	mu       sync.Mutex
	running  map[JobType]*JobRun
	history  map[JobType][]JobRun
	capacity int

	store datastore.Store // optional; nil disables persistence
	log   logx.Logger
	now   func() time.Time
}

type Option func(*Tracker)

// WithStore mirrors terminal runs into the datastore run log.
func WithStore(st datastore.Store) Option {
	return func(t *Tracker) { t.store = st }
}

// WithHistorySize bounds the per-type in-memory history.
func WithHistorySize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithClock replaces the time source used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func New(opts ...Option) *Tracker {
	t := &Tracker{
		running:  map[JobType]*JobRun{},
		history:  map[JobType][]JobRun{},
		capacity: defaultHistorySize,
		log:      logx.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start claims the single running slot for jobType. The check and the
// insert happen under one lock so two concurrent callers can never both
// claim the same type; the loser gets ErrRunInFlight.
func (t *Tracker) Start(jobType JobType) (JobRun, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.running[jobType]; ok {
		t.log.Debug("run already in flight",
			logx.String("job_type", string(jobType)),
			logx.String("run_id", cur.ID))
		return JobRun{}, ErrRunInFlight
	}

	run := &JobRun{
		ID:        ulid.Make().String(),
		JobType:   jobType,
		Status:    StatusRunning,
		StartedAt: t.now(),
	}
	t.running[jobType] = run
	return *run, nil
}

// Complete moves a run to its terminal state and releases the slot.
// A nil runErr with a result marks the run Completed; runErr marks it
// Failed. Unknown run IDs are ignored.
func (t *Tracker) Complete(runID string, result *JobResult, runErr error) {
	t.mu.Lock()

	var run *JobRun
	for typ, cur := range t.running {
		if cur.ID == runID {
			run = cur
			delete(t.running, typ)
			break
		}
	}
	if run == nil {
		t.mu.Unlock()
		t.log.Warn("complete for unknown run", logx.String("run_id", runID))
		return
	}

	now := t.now()
	run.FinishedAt = &now
	run.Result = result
	if runErr != nil {
		run.Status = StatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = StatusCompleted
	}

	hist := append(t.history[run.JobType], *run)
	if len(hist) > t.capacity {
		hist = hist[len(hist)-t.capacity:]
	}
	t.history[run.JobType] = hist

	snapshot := *run
	t.mu.Unlock()

	t.persist(snapshot)
}

// persist writes the terminal run to the store's run log. Failures are
// logged and swallowed; the in-memory record is the source of truth for
// status reads.
func (t *Tracker) persist(run JobRun) {
	if t.store == nil {
		return
	}
	rec := datastore.JobRunRecord{
		ID:         run.ID,
		JobType:    string(run.JobType),
		Status:     string(run.Status),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Error:      run.Error,
	}
	if run.Result != nil {
		rec.TotalItems = run.Result.TotalItems
		rec.SuccessfulItems = run.Result.SuccessfulItems
		rec.FailedItems = run.Result.FailedItems
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.RecordJobRun(ctx, rec); err != nil {
		t.log.Warn("run log write failed",
			logx.String("run_id", run.ID),
			logx.Err(err))
	}
}

// Running returns a snapshot of in-flight runs.
func (t *Tracker) Running() []JobRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JobRun, 0, len(t.running))
	for _, run := range t.running {
		out = append(out, *run)
	}
	return out
}

// IsRunning reports whether a run of jobType is in flight.
func (t *Tracker) IsRunning(jobType JobType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.running[jobType]
	return ok
}

// History returns terminal runs of jobType, newest first. limit <= 0
// returns everything retained.
func (t *Tracker) History(jobType JobType, limit int) []JobRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	hist := t.history[jobType]
	n := len(hist)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]JobRun, 0, n)
	for i := len(hist) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, hist[i])
	}
	return out
}

// LastRun returns the most recent terminal run of jobType, if any.
func (t *Tracker) LastRun(jobType JobType) (JobRun, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hist := t.history[jobType]
	if len(hist) == 0 {
		return JobRun{}, false
	}
	return hist[len(hist)-1], true
}
