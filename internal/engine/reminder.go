package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feeflow/internal/datastore"
	"feeflow/internal/registry"
	"feeflow/internal/runtrack"
	logx "feeflow/pkg/logx"
)

// RunFeeReminder notifies guardians about pending allocations whose due
// date falls in the window for the reminder type.
func (e *Engine) RunFeeReminder(ctx context.Context, params registry.Params) (*runtrack.JobResult, error) {
	kind, err := resolveReminder(params)
	if err != nil {
		return nil, err
	}

	allocs, err := e.store.PendingFeeAllocations(ctx)
	if err != nil {
		return nil, systemErr("list pending allocations", err)
	}

	now := e.now()
	var selected []datastore.FeeAllocation
	for _, a := range allocs {
		if e.inWindow(kind, a.DueDate, now) {
			selected = append(selected, a)
		}
	}

	e.log.Info("reminder run starting",
		logx.String("kind", kind),
		logx.Int("pending", len(allocs)),
		logx.Int("selected", len(selected)))

	items := make([]workItem, 0, len(selected))
	for _, a := range selected {
		a := a
		items = append(items, workItem{
			id: fmt.Sprintf("%s/%d-%02d", a.StudentID, a.Year, a.Month),
			fn: func(ctx context.Context) error {
				return e.remind(ctx, kind, a)
			},
		})
	}

	res := e.runBatch(ctx, items)
	e.log.Info("reminder run finished",
		logx.String("kind", kind),
		logx.Int("total", res.TotalItems),
		logx.Int("successful", res.SuccessfulItems),
		logx.Int("failed", res.FailedItems))
	return res, nil
}

// inWindow decides whether an allocation belongs to a reminder kind.
// Boundaries are calendar days: "due" means due today, "overdue" means
// the due day has passed, "early" means due within the configured
// window but not yet today.
func (e *Engine) inWindow(kind string, due, now time.Time) bool {
	dueDay := dayOf(due)
	today := dayOf(now)
	switch kind {
	case ReminderEarly:
		return dueDay.After(today) && !due.After(now.Add(e.cfg.EarlyReminderWindow))
	case ReminderDue:
		return dueDay.Equal(today)
	case ReminderOverdue:
		return dueDay.Before(today)
	}
	return false
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (e *Engine) remind(ctx context.Context, kind string, a datastore.FeeAllocation) error {
	st, err := e.store.StudentByID(ctx, a.StudentID)
	if errors.Is(err, datastore.ErrNotFound) {
		return fmt.Errorf("student %s not found", a.StudentID)
	}
	if err != nil {
		return fmt.Errorf("load student: %w", err)
	}
	if st.GuardianContact == "" {
		return fmt.Errorf("student %s has no guardian contact", st.ID)
	}

	msg := reminderMessage(kind, st, a)
	if err := e.sender.Send(ctx, st.GuardianContact, msg); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	return nil
}

func reminderMessage(kind string, st datastore.Student, a datastore.FeeAllocation) string {
	period := fmt.Sprintf("%s %d", time.Month(a.Month), a.Year)
	amount := formatAmount(a.Amount)
	due := a.DueDate.Format("2 Jan 2006")
	switch kind {
	case ReminderEarly:
		return fmt.Sprintf("Reminder: the %s fee of %s for %s is due on %s.",
			period, amount, st.Name, due)
	case ReminderOverdue:
		return fmt.Sprintf("The %s fee of %s for %s was due on %s and is still unpaid. Please arrange payment.",
			period, amount, st.Name, due)
	default:
		return fmt.Sprintf("The %s fee of %s for %s is due today (%s).",
			period, amount, st.Name, due)
	}
}

// formatAmount renders minor currency units as a decimal string.
func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
