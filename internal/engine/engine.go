// Package engine executes automation jobs against the data store and the
// notification channel. Batch items run on a bounded worker pool and fail
// independently of each other.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"feeflow/internal/datastore"
	"feeflow/internal/notify"
	"feeflow/internal/registry"
	"feeflow/internal/runtrack"
	logx "feeflow/pkg/logx"
)

type Config struct {
	// Workers bounds batch concurrency.
	Workers int
	// ItemTimeout bounds a single item. Zero disables the deadline.
	ItemTimeout time.Duration
	// EarlyReminderWindow is how far ahead of the due date early
	// reminders go out.
	EarlyReminderWindow time.Duration
	// DueDay is the day of the billing month payments fall due.
	DueDay int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.EarlyReminderWindow <= 0 {
		c.EarlyReminderWindow = 72 * time.Hour
	}
	if c.DueDay < 1 || c.DueDay > 28 {
		c.DueDay = 10
	}
	return c
}

type Engine struct {
	store  datastore.Store
	sender notify.Sender
	cfg    Config
	now    func() time.Time
	log    logx.Logger
}

func New(store datastore.Store, sender notify.Sender, cfg Config, log logx.Logger) *Engine {
	return &Engine{
		store:  store,
		sender: sender,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		log:    log,
	}
}

// Execute dispatches to the executor for jobType. A nil result with a
// non-nil error means the whole run failed; a result with per-item
// errors means the batch ran to completion with partial failures.
func (e *Engine) Execute(ctx context.Context, jobType runtrack.JobType, params registry.Params) (*runtrack.JobResult, error) {
	switch jobType {
	case runtrack.MonthlyBilling:
		return e.RunMonthlyBilling(ctx, params)
	case runtrack.FeeReminder:
		return e.RunFeeReminder(ctx, params)
	default:
		return nil, validationf("job_type", "unknown type %q", jobType)
	}
}

// workItem is one unit of a batch. fn returns the item error, if any.
type workItem struct {
	id string
	fn func(ctx context.Context) error
}

// runBatch executes items on the worker pool and aggregates the result.
// An item panic or timeout counts that item failed without touching its
// siblings.
func (e *Engine) runBatch(ctx context.Context, items []workItem) *runtrack.JobResult {
	start := e.now()
	res := &runtrack.JobResult{TotalItems: len(items)}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, e.cfg.Workers)

	for _, it := range items {
		it := it
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := e.runItem(ctx, it)

			mu.Lock()
			if err != nil {
				res.FailedItems++
				res.Errors = append(res.Errors, runtrack.ItemError{
					ItemID:  it.id,
					Message: err.Error(),
				})
			} else {
				res.SuccessfulItems++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(res.Errors, func(i, j int) bool {
		return res.Errors[i].ItemID < res.Errors[j].ItemID
	})
	res.ExecutionTime = e.now().Sub(start)
	res.Timestamp = e.now()
	return res
}

func (e *Engine) runItem(ctx context.Context, it workItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error("batch item panicked",
				logx.String("item_id", it.id),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	if e.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ItemTimeout)
		defer cancel()
	}
	return it.fn(ctx)
}
