package datastore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is the in-process Store. It is the default driver and the fixture
// used by engine and scheduler tests.
type Memory struct {
	mu sync.RWMutex

	students      map[string]Student
	feeStructures map[string]FeeStructure
	subscriptions map[string]Subscription // by student ID
	discounts     map[string]Discount     // by student ID
	allocations   map[allocKey]FeeAllocation
	runs          []JobRunRecord
}

type allocKey struct {
	studentID string
	month     int
	year      int
}

func NewMemory() *Memory {
	return &Memory{
		students:      map[string]Student{},
		feeStructures: map[string]FeeStructure{},
		subscriptions: map[string]Subscription{},
		discounts:     map[string]Discount{},
		allocations:   map[allocKey]FeeAllocation{},
	}
}

// ---- seeding (fixtures, demos) ----

func (m *Memory) AddStudent(s Student) {
	m.mu.Lock()
	m.students[s.ID] = s
	m.mu.Unlock()
}

func (m *Memory) AddFeeStructure(f FeeStructure) {
	m.mu.Lock()
	m.feeStructures[f.ID] = f
	m.mu.Unlock()
}

func (m *Memory) AddSubscription(s Subscription) {
	m.mu.Lock()
	m.subscriptions[s.StudentID] = s
	m.mu.Unlock()
}

func (m *Memory) AddDiscount(d Discount) {
	m.mu.Lock()
	m.discounts[d.StudentID] = d
	m.mu.Unlock()
}

func (m *Memory) PutAllocation(a FeeAllocation) {
	m.mu.Lock()
	m.allocations[allocKey{a.StudentID, a.Month, a.Year}] = a
	m.mu.Unlock()
}

// Allocations returns a snapshot of all allocations, ordered by student ID.
func (m *Memory) Allocations() []FeeAllocation {
	m.mu.RLock()
	out := make([]FeeAllocation, 0, len(m.allocations))
	for _, a := range m.allocations {
		out = append(out, a)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}

// ---- Store ----

func (m *Memory) StudentsWithActiveSubscription(ctx context.Context, month, year int) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Student
	for id, sub := range m.subscriptions {
		if !sub.covers(month, year) {
			continue
		}
		if s, ok := m.students[id]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) StudentByID(ctx context.Context, id string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) SubscriptionFor(ctx context.Context, studentID string, month, year int) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[studentID]
	if !ok || !sub.covers(month, year) {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (m *Memory) FeeStructureByID(ctx context.Context, id string) (FeeStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.feeStructures[id]
	if !ok {
		return FeeStructure{}, ErrNotFound
	}
	return f, nil
}

func (m *Memory) DiscountFor(ctx context.Context, studentID string) (Discount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.discounts[studentID]
	if !ok {
		return Discount{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) UpsertFeeAllocation(ctx context.Context, a FeeAllocation) error {
	key := allocKey{a.StudentID, a.Month, a.Year}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.allocations[key]; ok {
		// Re-billing refreshes amount and due date but never resets status.
		prev.Amount = a.Amount
		prev.DueDate = a.DueDate
		prev.UpdatedAt = now
		m.allocations[key] = prev
		return nil
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = AllocationPending
	}
	m.allocations[key] = a
	return nil
}

func (m *Memory) PendingFeeAllocations(ctx context.Context) ([]FeeAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []FeeAllocation
	for _, a := range m.allocations {
		if a.Status == AllocationPending {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (m *Memory) RecordJobRun(ctx context.Context, r JobRunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			m.runs[i] = r
			return nil
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) ListJobRuns(ctx context.Context, jobType string, limit int) ([]JobRunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []JobRunRecord
	for i := len(m.runs) - 1; i >= 0; i-- {
		if jobType != "" && m.runs[i].JobType != jobType {
			continue
		}
		out = append(out, m.runs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
