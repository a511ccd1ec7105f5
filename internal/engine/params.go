package engine

import (
	"time"

	"feeflow/internal/registry"
	"feeflow/internal/runtrack"
)

// Reminder categories. Selection is by due date relative to now: early
// reminders go out ahead of the due date, due reminders on the day
// itself, overdue reminders after it has passed.
const (
	ReminderEarly   = "early"
	ReminderDue     = "due"
	ReminderOverdue = "overdue"
)

// billingParams are the resolved inputs of one billing run.
type billingParams struct {
	Month int
	Year  int
}

// resolveBilling fills defaults from now and validates. Resolution
// happens once per run so a run started near midnight bills a single
// consistent period.
func resolveBilling(p registry.Params, now time.Time) (billingParams, error) {
	out := billingParams{Month: p.Month, Year: p.Year}
	if out.Month == 0 {
		out.Month = int(now.Month())
	}
	if out.Year == 0 {
		out.Year = now.Year()
	}
	if out.Month < 1 || out.Month > 12 {
		return billingParams{}, validationf("month", "must be 1..12, got %d", out.Month)
	}
	if out.Year < 2000 || out.Year > 2100 {
		return billingParams{}, validationf("year", "must be 2000..2100, got %d", out.Year)
	}
	return out, nil
}

func resolveReminder(p registry.Params) (string, error) {
	switch p.ReminderType {
	case "":
		return ReminderDue, nil
	case ReminderEarly, ReminderDue, ReminderOverdue:
		return p.ReminderType, nil
	default:
		return "", validationf("reminder_type", "must be early, due or overdue, got %q", p.ReminderType)
	}
}

// Validate checks params for a job type without executing anything.
// Trigger paths call this before claiming a run slot.
func Validate(jobType runtrack.JobType, p registry.Params, now time.Time) error {
	switch jobType {
	case runtrack.MonthlyBilling:
		_, err := resolveBilling(p, now)
		return err
	case runtrack.FeeReminder:
		_, err := resolveReminder(p)
		return err
	default:
		return validationf("job_type", "unknown type %q", jobType)
	}
}
