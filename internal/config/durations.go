package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields are stored as Go duration strings and parsed on
// demand through these accessors, each with its documented default.

func (c SchedulerConfig) Tick() (time.Duration, error) {
	return parseDuration("scheduler.tick_interval", c.TickInterval, 5*time.Second)
}

func (c EngineConfig) PerItemTimeout() (time.Duration, error) {
	return parseDuration("engine.item_timeout", c.ItemTimeout, 0)
}

func (c EngineConfig) EarlyWindow() (time.Duration, error) {
	return parseDuration("engine.early_reminder_window", c.EarlyReminderWindow, 72*time.Hour)
}

func (c DatastoreConfig) Busy() (time.Duration, error) {
	return parseDuration("datastore.busy_timeout", c.BusyTimeout, 0)
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}
