package datastore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpsertPreservesStatus(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	first := FeeAllocation{
		StudentID: "s1", Month: 3, Year: 2026,
		Amount: 50_00, DueDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	if err := m.UpsertFeeAllocation(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	got := m.Allocations()[0]
	if got.Status != AllocationPending {
		t.Fatalf("status = %q, want pending default", got.Status)
	}

	got.Status = AllocationPaid
	m.PutAllocation(got)

	second := first
	second.Amount = 60_00
	if err := m.UpsertFeeAllocation(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	allocs := m.Allocations()
	if len(allocs) != 1 {
		t.Fatalf("allocations = %d, want 1", len(allocs))
	}
	if allocs[0].Amount != 60_00 {
		t.Fatalf("amount = %d, want refreshed 6000", allocs[0].Amount)
	}
	if allocs[0].Status != AllocationPaid {
		t.Fatalf("status = %q, upsert must not reset payment", allocs[0].Status)
	}
}

func TestPendingFeeAllocations(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	m.PutAllocation(FeeAllocation{StudentID: "a", Month: 3, Year: 2026, Status: AllocationPending, DueDate: due})
	m.PutAllocation(FeeAllocation{StudentID: "b", Month: 3, Year: 2026, Status: AllocationPaid, DueDate: due})
	m.PutAllocation(FeeAllocation{StudentID: "c", Month: 3, Year: 2026, Status: AllocationWaived, DueDate: due})

	pending, err := m.PendingFeeAllocations(context.Background())
	if err != nil {
		t.Fatalf("PendingFeeAllocations: %v", err)
	}
	if len(pending) != 1 || pending[0].StudentID != "a" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestSubscriptionCoverage(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.AddStudent(Student{ID: "s1", Name: "One"})
	end := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	m.AddSubscription(Subscription{
		StudentID:      "s1",
		FeeStructureID: "basic",
		StartDate:      time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        &end,
		Active:         true,
	})

	cases := []struct {
		name        string
		month, year int
		covered     bool
	}{
		{"before start", 8, 2025, false},
		{"first month", 9, 2025, true},
		{"mid term", 12, 2025, true},
		{"ends mid-month", 2, 2026, true},
		{"after end", 3, 2026, false},
	}
	ctx := context.Background()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := m.SubscriptionFor(ctx, "s1", tc.month, tc.year)
			covered := err == nil
			if covered != tc.covered {
				t.Fatalf("covered(%d/%d) = %v, want %v (err=%v)", tc.month, tc.year, covered, tc.covered, err)
			}

			students, err := m.StudentsWithActiveSubscription(ctx, tc.month, tc.year)
			if err != nil {
				t.Fatalf("StudentsWithActiveSubscription: %v", err)
			}
			if got := len(students) == 1; got != tc.covered {
				t.Fatalf("listed(%d/%d) = %v, want %v", tc.month, tc.year, got, tc.covered)
			}
		})
	}
}

func TestInactiveSubscriptionNotCovered(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.AddStudent(Student{ID: "s1"})
	m.AddSubscription(Subscription{
		StudentID:      "s1",
		FeeStructureID: "basic",
		StartDate:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:         false,
	})
	if _, err := m.SubscriptionFor(context.Background(), "s1", 3, 2026); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLookupsReturnNotFound(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.StudentByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("StudentByID err = %v", err)
	}
	if _, err := m.FeeStructureByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FeeStructureByID err = %v", err)
	}
	if _, err := m.DiscountFor(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DiscountFor err = %v", err)
	}
}

func TestJobRunLog(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, typ := range []string{"monthly_billing", "fee_reminder", "monthly_billing"} {
		rec := JobRunRecord{
			ID:        string(rune('a' + i)),
			JobType:   typ,
			Status:    "completed",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := m.RecordJobRun(ctx, rec); err != nil {
			t.Fatalf("RecordJobRun: %v", err)
		}
	}

	all, err := m.ListJobRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListJobRuns: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("all = %+v, want newest first", all)
	}

	billing, err := m.ListJobRuns(ctx, "monthly_billing", 1)
	if err != nil {
		t.Fatalf("ListJobRuns filtered: %v", err)
	}
	if len(billing) != 1 || billing[0].ID != "c" {
		t.Fatalf("billing = %+v", billing)
	}

	// Re-recording the same ID updates in place.
	if err := m.RecordJobRun(ctx, JobRunRecord{ID: "a", JobType: "monthly_billing", Status: "failed", StartedAt: base}); err != nil {
		t.Fatalf("RecordJobRun update: %v", err)
	}
	all, _ = m.ListJobRuns(ctx, "", 0)
	if len(all) != 3 {
		t.Fatalf("update duplicated record: %d", len(all))
	}
}
