package runtrack

import (
	"errors"
	"time"
)

// ErrRunInFlight is returned by Start when a run of the same job type is
// already executing.
var ErrRunInFlight = errors.New("run already in flight for job type")

// JobType identifies the executor a run belongs to. At most one run per
// type may be Running at any time.
type JobType string

const (
	MonthlyBilling JobType = "monthly_billing"
	FeeReminder    JobType = "fee_reminder"
)

func (t JobType) Valid() bool {
	switch t {
	case MonthlyBilling, FeeReminder:
		return true
	}
	return false
}

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ItemError records a single failed item inside an otherwise continuing
// batch run.
type ItemError struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// JobResult summarizes a finished batch. TotalItems always equals
// SuccessfulItems + FailedItems.
type JobResult struct {
	TotalItems      int           `json:"total_items"`
	SuccessfulItems int           `json:"successful_items"`
	FailedItems     int           `json:"failed_items"`
	ExecutionTime   time.Duration `json:"execution_time"`
	Timestamp       time.Time     `json:"timestamp"`
	Errors          []ItemError   `json:"errors,omitempty"`
}

// JobRun is one execution of a job from claim to terminal state.
type JobRun struct {
	ID         string     `json:"id"`
	JobType    JobType    `json:"job_type"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}
