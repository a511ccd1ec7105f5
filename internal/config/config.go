package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Datastore DatastoreConfig `json:"datastore"`
	Notify    NotifyConfig    `json:"notify"`

	// Jobs seeds the job registry at startup. Schedule state (active flag,
	// last/next run) lives in the registry afterwards; editing this list and
	// reloading replaces the definitions.
	Jobs []JobConfig `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the timer loop that triggers due jobs.
//
// All durations are Go duration strings (e.g. "5s", "1m").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// TickInterval is how often the loop scans the registry for due jobs.
	// Defaults to "5s".
	TickInterval string `json:"tick_interval,omitempty"`

	// Timezone is the IANA zone schedules are evaluated in (e.g. "Asia/Jakarta").
	// Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`

	// HistorySize bounds retained terminal runs per job type. Defaults to 50.
	HistorySize int `json:"history_size,omitempty"`
}

// EngineConfig controls batch execution inside one job run.
type EngineConfig struct {
	// Workers bounds per-item concurrency inside a batch. Defaults to 4.
	Workers int `json:"workers,omitempty"`

	// ItemTimeout is a Go duration string applied per batch item; a timed-out
	// item counts as failed, the run continues. "0s" disables it.
	ItemTimeout string `json:"item_timeout,omitempty"`

	// EarlyReminderWindow is how far ahead of the due date "early" reminders
	// reach (Go duration string, whole days are typical). Defaults to "72h".
	EarlyReminderWindow string `json:"early_reminder_window,omitempty"`

	// DueDay is the day of month bills fall due. Defaults to 10.
	DueDay int `json:"due_day,omitempty"`
}

// JobConfig is one recurring job definition.
type JobConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"` // "monthly_billing" | "fee_reminder"
	Schedule    string `json:"schedule"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`

	// Params are fixed parameters passed to the executor on every trigger.
	Params JobParams `json:"params,omitempty"`
}

type JobParams struct {
	// Month/Year override the billing period; 0 means "current".
	Month int `json:"month,omitempty"`
	Year  int `json:"year,omitempty"`

	// ReminderType selects the reminder window: "early" | "due" | "overdue".
	ReminderType string `json:"reminder_type,omitempty"`
}

// DatastoreConfig controls the persistence collaborator.
//
// Driver values:
//   - "memory": in-process store (tests, demos)
//   - "sqlite": SQLite database file
type DatastoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifyConfig controls reminder delivery and ops alerts.
type NotifyConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec,omitempty"` // defaults to 5

	// Channel selects the sender adapter: "telegram" | "log".
	Channel  string         `json:"channel,omitempty"`
	Telegram NotifyTelegram `json:"telegram,omitempty"`

	// OpsRecipient receives job-failure alerts forwarded from the event bus.
	// Empty disables alerts.
	OpsRecipient string `json:"ops_recipient,omitempty"`
}

type NotifyTelegram struct {
	Token string `json:"token"`
}

// Validate rejects configs the services could not start with.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if strings.TrimSpace(j.ID) == "" {
			return fmt.Errorf("jobs[%d]: id is required", i)
		}
		if seen[j.ID] {
			return fmt.Errorf("jobs[%d]: duplicate id %q", i, j.ID)
		}
		seen[j.ID] = true
		if strings.TrimSpace(j.Schedule) == "" {
			return fmt.Errorf("job %q: schedule is required", j.ID)
		}
		switch j.Type {
		case "monthly_billing", "fee_reminder":
		default:
			return fmt.Errorf("job %q: unknown type %q", j.ID, j.Type)
		}
		if j.Type == "fee_reminder" {
			switch j.Params.ReminderType {
			case "", "early", "due", "overdue": // empty falls back to "due"
			default:
				return fmt.Errorf("job %q: reminder_type must be early|due|overdue, got %q", j.ID, j.Params.ReminderType)
			}
		}
	}
	switch strings.TrimSpace(c.Datastore.Driver) {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("datastore.driver must be memory|sqlite, got %q", c.Datastore.Driver)
	}
	if c.Notify.Enabled {
		switch c.Notify.Channel {
		case "", "log":
		case "telegram":
			if strings.TrimSpace(c.Notify.Telegram.Token) == "" {
				return fmt.Errorf("notify.telegram.token is required for the telegram channel")
			}
		default:
			return fmt.Errorf("notify.channel must be telegram|log, got %q", c.Notify.Channel)
		}
	}
	return nil
}
