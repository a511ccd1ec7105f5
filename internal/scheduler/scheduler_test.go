package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feeflow/internal/engine"
	"feeflow/internal/eventbus"
	"feeflow/internal/registry"
	"feeflow/internal/runtrack"
	logx "feeflow/pkg/logx"
)

type fakeExec struct {
	mu     sync.Mutex
	calls  int
	types  []runtrack.JobType
	block  chan struct{} // if non-nil, Execute waits on it
	result *runtrack.JobResult
	err    error
}

func (f *fakeExec) Execute(ctx context.Context, jobType runtrack.JobType, _ registry.Params) (*runtrack.JobResult, error) {
	f.mu.Lock()
	f.calls++
	f.types = append(f.types, jobType)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.result == nil {
		return &runtrack.JobResult{Timestamp: time.Now()}, f.err
	}
	return f.result, f.err
}

func (f *fakeExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(t *testing.T, exec Executor, bus eventbus.Bus) (*Service, *registry.Registry, *runtrack.Tracker) {
	t.Helper()
	reg := registry.New(time.UTC, logx.Nop())
	tracker := runtrack.New()
	svc := New(Config{TickInterval: time.Hour}, reg, tracker, exec, bus, logx.Nop())
	return svc, reg, tracker
}

func register(t *testing.T, reg *registry.Registry, def registry.JobDefinition) {
	t.Helper()
	if def.Schedule == "" {
		def.Schedule = "1h"
	}
	if err := reg.Register(def, time.Now()); err != nil {
		t.Fatalf("Register %s: %v", def.ID, err)
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTriggerJobRunsToCompletion(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{result: &runtrack.JobResult{TotalItems: 3, SuccessfulItems: 3}}
	svc, reg, tracker := newTestService(t, exec, nil)
	register(t, reg, registry.JobDefinition{ID: "billing", Type: runtrack.MonthlyBilling, Active: true})

	run, err := svc.TriggerJob(context.Background(), "billing")
	if err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}
	if run.Status != runtrack.StatusRunning {
		t.Fatalf("run status = %q, want running", run.Status)
	}

	waitFor(t, func() bool {
		last, ok := tracker.LastRun(runtrack.MonthlyBilling)
		return ok && last.ID == run.ID
	})
	last, _ := tracker.LastRun(runtrack.MonthlyBilling)
	if last.Status != runtrack.StatusCompleted || last.Result.TotalItems != 3 {
		t.Fatalf("last run = %+v", last)
	}

	// The firing moved the registry timestamps.
	def, _ := reg.Get("billing")
	if def.LastRun == nil {
		t.Fatal("LastRun not recorded")
	}
	if def.NextRun == nil || !def.NextRun.After(*def.LastRun) {
		t.Fatalf("NextRun = %v, want after LastRun %v", def.NextRun, def.LastRun)
	}
}

func TestTriggerConflictWhileRunning(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	exec := &fakeExec{block: block}
	svc, reg, tracker := newTestService(t, exec, nil)
	register(t, reg, registry.JobDefinition{ID: "billing", Type: runtrack.MonthlyBilling, Active: true})

	if _, err := svc.TriggerJob(context.Background(), "billing"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	waitFor(t, func() bool { return exec.callCount() == 1 })

	if _, err := svc.TriggerJob(context.Background(), "billing"); !errors.Is(err, runtrack.ErrRunInFlight) {
		t.Fatalf("second trigger err = %v, want ErrRunInFlight", err)
	}

	close(block)
	waitFor(t, func() bool {
		_, ok := tracker.LastRun(runtrack.MonthlyBilling)
		return ok
	})

	// Slot released; triggering works again.
	if _, err := svc.TriggerJob(context.Background(), "billing"); err != nil {
		t.Fatalf("trigger after completion: %v", err)
	}
}

func TestTriggerUnknownJob(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, &fakeExec{}, nil)
	if _, err := svc.TriggerJob(context.Background(), "ghost"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTriggerValidationCreatesNoRun(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{}
	svc, reg, tracker := newTestService(t, exec, nil)
	register(t, reg, registry.JobDefinition{
		ID:     "bad",
		Type:   runtrack.MonthlyBilling,
		Active: true,
		Params: registry.Params{Month: 13, Year: 2026},
	})

	_, err := svc.TriggerJob(context.Background(), "bad")
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if exec.callCount() != 0 {
		t.Fatal("executor called despite validation failure")
	}
	if len(tracker.Running()) != 0 || len(tracker.History(runtrack.MonthlyBilling, 0)) != 0 {
		t.Fatal("validation failure left tracker state")
	}
}

func TestStartStopJob(t *testing.T) {
	t.Parallel()
	svc, reg, _ := newTestService(t, &fakeExec{}, nil)
	register(t, reg, registry.JobDefinition{ID: "reminders", Type: runtrack.FeeReminder, Active: true})

	if err := svc.StopJob("reminders"); err != nil {
		t.Fatalf("StopJob: %v", err)
	}
	def, _ := reg.Get("reminders")
	if def.Active || def.NextRun != nil {
		t.Fatalf("after StopJob: active=%v next=%v", def.Active, def.NextRun)
	}

	if err := svc.StartJob("reminders"); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	def, _ = reg.Get("reminders")
	if !def.Active || def.NextRun == nil {
		t.Fatalf("after StartJob: active=%v next=%v", def.Active, def.NextRun)
	}
}

func TestTickTriggersDueJobsIndependently(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{}
	svc, reg, _ := newTestService(t, exec, nil)
	now := time.Now()
	register(t, reg, registry.JobDefinition{ID: "billing", Type: runtrack.MonthlyBilling, Schedule: "1m", Active: true})
	// Invalid params: this job fails validation on every tick but must
	// not stop the other job from firing.
	register(t, reg, registry.JobDefinition{
		ID: "broken", Type: runtrack.FeeReminder, Schedule: "1m", Active: true,
		Params: registry.Params{ReminderType: "whenever"},
	})

	svc.Tick(context.Background(), now.Add(2*time.Minute))

	waitFor(t, func() bool { return exec.callCount() == 1 })
	exec.mu.Lock()
	got := exec.types[0]
	exec.mu.Unlock()
	if got != runtrack.MonthlyBilling {
		t.Fatalf("executed type = %q", got)
	}
}

func TestTickSkipsInactiveJobs(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{}
	svc, reg, _ := newTestService(t, exec, nil)
	register(t, reg, registry.JobDefinition{ID: "billing", Type: runtrack.MonthlyBilling, Schedule: "1m", Active: false})

	svc.Tick(context.Background(), time.Now().Add(time.Hour))
	time.Sleep(20 * time.Millisecond)
	if exec.callCount() != 0 {
		t.Fatal("inactive job fired")
	}
}

func TestLifecycleEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	exec := &fakeExec{err: errors.New("store down")}
	svc, reg, _ := newTestService(t, exec, bus)
	register(t, reg, registry.JobDefinition{ID: "billing", Type: runtrack.MonthlyBilling, Active: true})

	if _, err := svc.TriggerJob(context.Background(), "billing"); err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.Type)
		case <-deadline:
			t.Fatalf("events so far: %v", got)
		}
	}
	if got[0] != EventTriggered || got[1] != EventFailed {
		t.Fatalf("events = %v, want [%s %s]", got, EventTriggered, EventFailed)
	}
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	exec := &fakeExec{block: block}
	svc, reg, _ := newTestService(t, exec, nil)
	register(t, reg, registry.JobDefinition{ID: "billing", Type: runtrack.MonthlyBilling, Active: true})
	register(t, reg, registry.JobDefinition{ID: "reminders", Type: runtrack.FeeReminder, Active: false})

	st := svc.Status()
	if st.SystemStatus.Scheduler != "stopped" {
		t.Fatalf("scheduler status = %q", st.SystemStatus.Scheduler)
	}
	if st.Summary.TotalScheduledJobs != 2 || st.Summary.ActiveScheduledJobs != 1 {
		t.Fatalf("summary = %+v", st.Summary)
	}

	if _, err := svc.TriggerJob(context.Background(), "billing"); err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}
	// Status must answer while the run is still blocked.
	st = svc.Status()
	if st.Summary.TotalRunningJobs != 1 || len(st.RunningJobs) != 1 {
		t.Fatalf("status during run = %+v", st.Summary)
	}
	close(block)
}

func TestStopDrainsInFlightRuns(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	defer close(block)
	exec := &fakeExec{block: block}
	svc, reg, tracker := newTestService(t, exec, nil)
	register(t, reg, registry.JobDefinition{ID: "billing", Type: runtrack.MonthlyBilling, Active: true})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.TriggerJob(context.Background(), "billing"); err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}
	waitFor(t, func() bool { return exec.callCount() == 1 })

	// Stop must not return while the run is still in flight; cancellation
	// reaches the executor, which winds down, and only then does Stop
	// come back with the tracker fully settled.
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := tracker.Running(); len(got) != 0 {
		t.Fatalf("running after Stop = %d, want 0", len(got))
	}
	last, ok := tracker.LastRun(runtrack.MonthlyBilling)
	if !ok {
		t.Fatal("run not recorded before Stop returned")
	}
	if !last.Status.Terminal() {
		t.Fatalf("run status after Stop = %q, want terminal", last.Status)
	}
}

func TestStartStopService(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, &fakeExec{}, nil)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := svc.Status().SystemStatus.Scheduler; got != "running" {
		t.Fatalf("scheduler status = %q", got)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := svc.Status().SystemStatus.Scheduler; got != "stopped" {
		t.Fatalf("scheduler status after stop = %q", got)
	}
}
