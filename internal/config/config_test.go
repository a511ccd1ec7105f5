package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

const validJSON = `{
	"logging": {"level": "debug", "console": true},
	"scheduler": {"enabled": true, "tick_interval": "10s", "history_size": 20},
	"engine": {"workers": 2, "due_day": 15},
	"datastore": {"driver": "memory"},
	"notify": {"enabled": true, "channel": "log", "rate_per_sec": 3},
	"jobs": [
		{"id": "billing", "name": "Monthly billing", "type": "monthly_billing", "schedule": "0 2 1 * *", "enabled": true},
		{"id": "due-reminders", "type": "fee_reminder", "schedule": "@daily", "enabled": true, "params": {"reminder_type": "due"}}
	]
}`

func TestParseValidJSON(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", validJSON)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.TickInterval != "10s" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[1].Params.ReminderType != "due" {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
}

func TestParseValidYAML(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.yaml", `
logging:
  level: info
  console: true
scheduler:
  enabled: true
datastore:
  driver: sqlite
  path: ./feeflow.db
notify:
  enabled: false
jobs:
  - id: billing
    type: monthly_billing
    schedule: "0 2 1 * *"
    enabled: true
`)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Datastore.Driver != "sqlite" || cfg.Datastore.Path != "./feeflow.db" {
		t.Fatalf("datastore = %+v", cfg.Datastore)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{"schedulr": {"enabled": true}}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"duplicate job ids",
			`{"jobs": [
				{"id": "x", "type": "monthly_billing", "schedule": "@daily", "enabled": true},
				{"id": "x", "type": "monthly_billing", "schedule": "@daily", "enabled": true}
			]}`,
			"duplicate id",
		},
		{
			"missing schedule",
			`{"jobs": [{"id": "x", "type": "monthly_billing", "enabled": true}]}`,
			"schedule is required",
		},
		{
			"unknown job type",
			`{"jobs": [{"id": "x", "type": "quarterly_audit", "schedule": "@daily"}]}`,
			"unknown type",
		},
		{
			"bad reminder type",
			`{"jobs": [{"id": "x", "type": "fee_reminder", "schedule": "@daily", "params": {"reminder_type": "sometime"}}]}`,
			"reminder_type",
		},
		{
			"bad datastore driver",
			`{"datastore": {"driver": "postgres"}}`,
			"datastore.driver",
		},
		{
			"telegram without token",
			`{"notify": {"enabled": true, "channel": "telegram"}}`,
			"token",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := writeConfig(t, "config.json", tc.body)
			_, err := m.Parse()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadCommitsConfig(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", validJSON)
	if m.Get() != nil {
		t.Fatal("config present before Load")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()
	if d, err := (SchedulerConfig{TickInterval: "10s"}).Tick(); err != nil || d != 10*time.Second {
		t.Fatalf("Tick = %v, %v", d, err)
	}
	if d, err := (SchedulerConfig{}).Tick(); err != nil || d != 5*time.Second {
		t.Fatalf("default Tick = %v, %v", d, err)
	}
	if d, err := (EngineConfig{}).EarlyWindow(); err != nil || d != 72*time.Hour {
		t.Fatalf("default EarlyWindow = %v, %v", d, err)
	}
	if d, err := (EngineConfig{}).PerItemTimeout(); err != nil || d != 0 {
		t.Fatalf("default PerItemTimeout = %v, %v", d, err)
	}
	if _, err := (EngineConfig{ItemTimeout: "soon"}).PerItemTimeout(); err == nil {
		t.Fatal("bad duration accepted")
	}
	if _, err := (DatastoreConfig{BusyTimeout: "-3s"}).Busy(); err == nil {
		t.Fatal("negative duration accepted")
	}
}
