package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"feeflow/internal/datastore"
	"feeflow/internal/registry"
	"feeflow/internal/runtrack"
	logx "feeflow/pkg/logx"
)

// RunMonthlyBilling bills every student whose subscription covers the
// period. Re-running a period refreshes amounts without duplicating
// allocations or resetting payment status.
func (e *Engine) RunMonthlyBilling(ctx context.Context, params registry.Params) (*runtrack.JobResult, error) {
	bp, err := resolveBilling(params, e.now())
	if err != nil {
		return nil, err
	}

	students, err := e.store.StudentsWithActiveSubscription(ctx, bp.Month, bp.Year)
	if err != nil {
		return nil, systemErr("list students", err)
	}

	e.log.Info("billing run starting",
		logx.Int("month", bp.Month),
		logx.Int("year", bp.Year),
		logx.Int("students", len(students)))

	dueDate := time.Date(bp.Year, time.Month(bp.Month), e.cfg.DueDay, 0, 0, 0, 0, time.UTC)
	items := make([]workItem, 0, len(students))
	for _, st := range students {
		st := st
		items = append(items, workItem{
			id: st.ID,
			fn: func(ctx context.Context) error {
				return e.billStudent(ctx, st, bp, dueDate)
			},
		})
	}

	res := e.runBatch(ctx, items)
	e.log.Info("billing run finished",
		logx.Int("total", res.TotalItems),
		logx.Int("successful", res.SuccessfulItems),
		logx.Int("failed", res.FailedItems),
		logx.Duration("took", res.ExecutionTime))
	return res, nil
}

func (e *Engine) billStudent(ctx context.Context, st datastore.Student, bp billingParams, dueDate time.Time) error {
	sub, err := e.store.SubscriptionFor(ctx, st.ID, bp.Month, bp.Year)
	if errors.Is(err, datastore.ErrNotFound) {
		return fmt.Errorf("no subscription covering %d/%d", bp.Month, bp.Year)
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}

	fs, err := e.store.FeeStructureByID(ctx, sub.FeeStructureID)
	if errors.Is(err, datastore.ErrNotFound) {
		return fmt.Errorf("fee structure %s not found", sub.FeeStructureID)
	}
	if err != nil {
		return fmt.Errorf("load fee structure: %w", err)
	}

	amount := fs.MonthlyAmount
	disc, err := e.store.DiscountFor(ctx, st.ID)
	switch {
	case err == nil:
		if disc.Percent < 0 || disc.Percent > 100 {
			return fmt.Errorf("discount percent %v out of range", disc.Percent)
		}
		amount -= int64(math.Round(float64(fs.MonthlyAmount) * disc.Percent / 100))
	case errors.Is(err, datastore.ErrNotFound):
		// No discount.
	default:
		return fmt.Errorf("load discount: %w", err)
	}

	if err := e.store.UpsertFeeAllocation(ctx, datastore.FeeAllocation{
		StudentID: st.ID,
		Month:     bp.Month,
		Year:      bp.Year,
		Amount:    amount,
		Status:    datastore.AllocationPending,
		DueDate:   dueDate,
	}); err != nil {
		return fmt.Errorf("upsert allocation: %w", err)
	}
	return nil
}
