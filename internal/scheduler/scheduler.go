// Package scheduler drives registered jobs: a timer loop triggers due
// jobs, manual triggers share the same path, and every execution is
// claimed through the run tracker so a job type never overlaps itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feeflow/internal/engine"
	"feeflow/internal/eventbus"
	"feeflow/internal/registry"
	"feeflow/internal/runtime/supervisor"
	"feeflow/internal/runtrack"
	logx "feeflow/pkg/logx"
)

// Event types published on the bus.
const (
	EventTriggered = "job.triggered"
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
	EventSkipped   = "job.skipped"
)

// JobEvent is the Data payload of job lifecycle events.
type JobEvent struct {
	JobID   string              `json:"job_id"`
	JobType runtrack.JobType    `json:"job_type"`
	RunID   string              `json:"run_id,omitempty"`
	Result  *runtrack.JobResult `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Executor runs one job to a result. *engine.Engine satisfies this.
type Executor interface {
	Execute(ctx context.Context, jobType runtrack.JobType, params registry.Params) (*runtrack.JobResult, error)
}

type Config struct {
	// TickInterval is how often the loop scans for due jobs.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	return c
}

type Service struct {
	cfg     Config
	reg     *registry.Registry
	tracker *runtrack.Tracker
	exec    Executor
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	running bool

	// inflight tracks background run goroutines so Stop can drain them.
	inflight sync.WaitGroup
}

func New(cfg Config, reg *registry.Registry, tracker *runtrack.Tracker, exec Executor, bus eventbus.Bus, log logx.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		reg:     reg,
		tracker: tracker,
		exec:    exec,
		bus:     bus,
		log:     log,
		now:     time.Now,
	}
}

// Start launches the tick loop. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("scheduler.tick", s.loop)
	s.running = true
	s.log.Info("scheduler started", logx.Duration("tick_interval", s.cfg.TickInterval))
	return nil
}

// Stop cancels the loop and waits for in-flight runs to reach a
// terminal state or ctx to expire. Cancellation propagates into the
// runs, so a blocked batch winds down instead of being abandoned.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.running = false
	s.sup = nil
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-drained:
	}

	if sup != nil {
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Service) loop(ctx context.Context) error {
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick triggers every due job. Each job fires independently; a failure
// to trigger one never blocks the rest of the tick.
func (s *Service) Tick(ctx context.Context, now time.Time) {
	for _, def := range s.reg.Due(now) {
		if _, err := s.trigger(ctx, def, now); err != nil {
			if errors.Is(err, runtrack.ErrRunInFlight) {
				// The previous run is still going. NextRun is untouched,
				// so the job stays due and is retried on a later tick once
				// the slot frees; at most one missed slot is made up.
				continue
			}
			s.log.Warn("scheduled trigger failed",
				logx.String("job_id", def.ID),
				logx.Err(err))
		}
	}
}

// TriggerJob fires a job immediately, outside its schedule. The run is
// accepted asynchronously: the returned JobRun is already Running and
// its outcome lands in the tracker history.
func (s *Service) TriggerJob(ctx context.Context, id string) (runtrack.JobRun, error) {
	def, err := s.reg.Get(id)
	if err != nil {
		return runtrack.JobRun{}, err
	}
	return s.trigger(ctx, def, s.now())
}

// trigger is the single execution path for scheduled and manual runs:
// validate, claim the run slot, record the firing, then execute in the
// background. Validation failures never create a run.
func (s *Service) trigger(ctx context.Context, def registry.JobDefinition, at time.Time) (runtrack.JobRun, error) {
	if err := engine.Validate(def.Type, def.Params, at); err != nil {
		return runtrack.JobRun{}, err
	}

	run, err := s.tracker.Start(def.Type)
	if err != nil {
		if errors.Is(err, runtrack.ErrRunInFlight) {
			s.publish(EventSkipped, JobEvent{JobID: def.ID, JobType: def.Type})
			s.log.Info("job skipped, run in flight",
				logx.String("job_id", def.ID),
				logx.String("job_type", string(def.Type)))
		}
		return runtrack.JobRun{}, err
	}

	if err := s.reg.RecordTriggered(def.ID, at); err != nil {
		// Definition vanished between Get and now; release the slot.
		s.tracker.Complete(run.ID, nil, fmt.Errorf("record trigger: %w", err))
		return runtrack.JobRun{}, err
	}

	s.publish(EventTriggered, JobEvent{JobID: def.ID, JobType: def.Type, RunID: run.ID})
	s.log.Info("job triggered",
		logx.String("job_id", def.ID),
		logx.String("run_id", run.ID))

	execCtx := s.execContext(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.execute(execCtx, def, run)
	}()
	return run, nil
}

// execContext prefers the supervisor context so shutdown cancels
// in-flight runs; manual triggers before Start fall back to background.
func (s *Service) execContext(ctx context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return s.sup.Context()
	}
	if ctx != nil {
		return context.WithoutCancel(ctx)
	}
	return context.Background()
}

func (s *Service) execute(ctx context.Context, def registry.JobDefinition, run runtrack.JobRun) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			s.tracker.Complete(run.ID, nil, err)
			s.publish(EventFailed, JobEvent{JobID: def.ID, JobType: def.Type, RunID: run.ID, Error: err.Error()})
		}
	}()

	result, err := s.exec.Execute(ctx, def.Type, def.Params)
	s.tracker.Complete(run.ID, result, err)

	if err != nil {
		s.publish(EventFailed, JobEvent{
			JobID:   def.ID,
			JobType: def.Type,
			RunID:   run.ID,
			Error:   err.Error(),
		})
		s.log.Error("job run failed",
			logx.String("job_id", def.ID),
			logx.String("run_id", run.ID),
			logx.Err(err))
		return
	}

	s.publish(EventCompleted, JobEvent{
		JobID:   def.ID,
		JobType: def.Type,
		RunID:   run.ID,
		Result:  result,
	})
	s.log.Info("job run completed",
		logx.String("job_id", def.ID),
		logx.String("run_id", run.ID),
		logx.Int("total", result.TotalItems),
		logx.Int("failed", result.FailedItems))
}

func (s *Service) publish(typ string, data JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// StartJob activates a job so the ticker picks it up again.
func (s *Service) StartJob(id string) error {
	return s.reg.SetActive(id, true, s.now())
}

// StopJob deactivates a job. In-flight runs finish; no new ones start.
func (s *Service) StopJob(id string) error {
	return s.reg.SetActive(id, false, s.now())
}

// History exposes terminal runs for a job type, newest first.
func (s *Service) History(jobType runtrack.JobType, limit int) []runtrack.JobRun {
	return s.tracker.History(jobType, limit)
}

// SystemStatus reports the liveness of the engine components.
type SystemStatus struct {
	AutomationEngine string    `json:"automation_engine"`
	Scheduler        string    `json:"scheduler"`
	Timestamp        time.Time `json:"timestamp"`
}

// Summary is the aggregate section of a Status snapshot.
type Summary struct {
	TotalRunningJobs    int `json:"total_running_jobs"`
	TotalScheduledJobs  int `json:"total_scheduled_jobs"`
	ActiveScheduledJobs int `json:"active_scheduled_jobs"`
}

// Status is a point-in-time dashboard snapshot. It reads tracker and
// registry state only and never waits on running batches.
type Status struct {
	SystemStatus  SystemStatus             `json:"system_status"`
	RunningJobs   []runtrack.JobRun        `json:"running_jobs"`
	ScheduledJobs []registry.JobDefinition `json:"scheduled_jobs"`
	Summary       Summary                  `json:"summary"`
}

func (s *Service) Status() Status {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	st := Status{
		SystemStatus: SystemStatus{
			AutomationEngine: "ready",
			Scheduler:        "stopped",
			Timestamp:        s.now(),
		},
		RunningJobs:   s.tracker.Running(),
		ScheduledJobs: s.reg.All(),
	}
	if running {
		st.SystemStatus.Scheduler = "running"
	}
	st.Summary.TotalRunningJobs = len(st.RunningJobs)
	st.Summary.TotalScheduledJobs = len(st.ScheduledJobs)
	for _, def := range st.ScheduledJobs {
		if def.Active {
			st.Summary.ActiveScheduledJobs++
		}
	}
	return st
}
