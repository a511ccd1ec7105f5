package datastore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Config configures the datastore.
//
// Driver values:
//   - "memory": in-process store (tests, demos)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type AllocationStatus string

const (
	AllocationPending AllocationStatus = "PENDING"
	AllocationPaid    AllocationStatus = "PAID"
	AllocationWaived  AllocationStatus = "WAIVED"
)

type Student struct {
	ID              string
	Name            string
	GuardianName    string
	GuardianContact string // recipient handle for reminders
}

// FeeStructure is a monthly tariff. Amounts are in minor currency units.
type FeeStructure struct {
	ID            string
	Name          string
	MonthlyAmount int64
}

// Subscription links a student to a fee structure for a date range.
// A nil EndDate means open-ended.
type Subscription struct {
	StudentID      string
	FeeStructureID string
	StartDate      time.Time
	EndDate        *time.Time
	Active         bool
}

// Discount is a family discount applied to the gross monthly fee.
type Discount struct {
	StudentID string
	Percent   float64
}

// FeeAllocation is the per-student, per-period amount owed.
// Keyed by (StudentID, Month, Year); billing upserts against that key.
type FeeAllocation struct {
	StudentID string
	Month     int
	Year      int
	Amount    int64
	Status    AllocationStatus
	DueDate   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobRunRecord is the persisted run-log row for a terminal job run.
type JobRunRecord struct {
	ID              string
	JobType         string
	Status          string
	StartedAt       time.Time
	FinishedAt      *time.Time
	TotalItems      int
	SuccessfulItems int
	FailedItems     int
	Error           string
}

// Store is the persistence collaborator for the automation engine.
//
// Implementations must be safe for concurrent use; batch workers hit these
// methods in parallel.
type Store interface {
	// StudentsWithActiveSubscription returns students whose subscription
	// covers any part of the given billing period.
	StudentsWithActiveSubscription(ctx context.Context, month, year int) ([]Student, error)
	StudentByID(ctx context.Context, id string) (Student, error)

	SubscriptionFor(ctx context.Context, studentID string, month, year int) (Subscription, error)
	FeeStructureByID(ctx context.Context, id string) (FeeStructure, error)
	// DiscountFor returns ErrNotFound when the student has no discount.
	DiscountFor(ctx context.Context, studentID string) (Discount, error)

	// UpsertFeeAllocation inserts or updates by (StudentID, Month, Year).
	// An existing allocation keeps its Status; amount and due date follow the
	// latest billing run.
	UpsertFeeAllocation(ctx context.Context, a FeeAllocation) error
	PendingFeeAllocations(ctx context.Context) ([]FeeAllocation, error)

	// Run log (best-effort persistence of terminal runs).
	RecordJobRun(ctx context.Context, r JobRunRecord) error
	ListJobRuns(ctx context.Context, jobType string, limit int) ([]JobRunRecord, error)

	Close() error
}

// periodRange returns the first instant of the billing month and the first
// instant of the following month.
func periodRange(month, year int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// covers reports whether the subscription overlaps the billing period.
func (s Subscription) covers(month, year int) bool {
	if !s.Active {
		return false
	}
	start, next := periodRange(month, year)
	if !s.StartDate.Before(next) {
		return false
	}
	if s.EndDate != nil && s.EndDate.Before(start) {
		return false
	}
	return true
}
